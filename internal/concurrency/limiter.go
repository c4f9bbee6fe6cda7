// Package concurrency enforces per-tier concurrency ceilings for work
// items. Each capacity tier (e.g. a cheap "fast" tier vs an expensive
// "deep" tier) has a fixed maximum number of simultaneously running items.
//
// Acquisition never blocks: a failed TryAcquire returns false immediately
// so the caller can queue the item instead of waiting.
package concurrency

import (
	"fmt"
	"sort"
	"sync"
)

// Tier is a named capacity class with its own concurrency ceiling.
type Tier string

// Default tiers. Additional tiers may be configured freely.
const (
	TierFast Tier = "fast"
	TierDeep Tier = "deep"
)

// Limiter tracks active work item counts per tier and enforces each
// tier's maximum. All methods are safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	limits map[Tier]int
	active map[Tier]int
}

// DefaultLimits returns the default tier ceilings.
func DefaultLimits() map[Tier]int {
	return map[Tier]int{
		TierFast: 5,
		TierDeep: 2,
	}
}

// NewLimiter creates a Limiter with the given per-tier maximums.
// A nil or empty map falls back to DefaultLimits.
func NewLimiter(limits map[Tier]int) *Limiter {
	if len(limits) == 0 {
		limits = DefaultLimits()
	}
	owned := make(map[Tier]int, len(limits))
	for tier, limit := range limits {
		owned[tier] = limit
	}
	return &Limiter{
		limits: owned,
		active: make(map[Tier]int, len(owned)),
	}
}

// TryAcquire attempts to take one slot on the given tier. It returns true
// and increments the tier's active count if capacity remains, false
// otherwise. Unknown tiers always fail.
func (l *Limiter) TryAcquire(tier Tier) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[tier]
	if !ok {
		return false
	}
	if l.active[tier] >= limit {
		return false
	}
	l.active[tier]++
	return true
}

// Release returns one slot on the given tier. Releasing below zero is a
// bookkeeping bug on the caller's side; the count is clamped at zero so a
// double release cannot manufacture capacity debt.
func (l *Limiter) Release(tier Tier) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[tier] > 0 {
		l.active[tier]--
	}
}

// ActiveCount returns the number of currently held slots on the tier.
func (l *Limiter) ActiveCount(tier Tier) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[tier]
}

// Limit returns the configured maximum for the tier and whether the tier
// is known.
func (l *Limiter) Limit(tier Tier) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit, ok := l.limits[tier]
	return limit, ok
}

// HasCapacity reports whether a TryAcquire on the tier would succeed.
func (l *Limiter) HasCapacity(tier Tier) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit, ok := l.limits[tier]
	return ok && l.active[tier] < limit
}

// Snapshot returns a copy of the active counts for all configured tiers,
// including tiers with zero active items.
func (l *Limiter) Snapshot() map[Tier]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := make(map[Tier]int, len(l.limits))
	for tier := range l.limits {
		snap[tier] = l.active[tier]
	}
	return snap
}

// Restore sets the active counts from a persisted snapshot, clamping each
// tier to its limit. Used when reloading coordinator state after a
// restart. Counts for unknown tiers are dropped.
func (l *Limiter) Restore(counts map[Tier]int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active = make(map[Tier]int, len(l.limits))
	for tier, n := range counts {
		limit, ok := l.limits[tier]
		if !ok || n <= 0 {
			continue
		}
		if n > limit {
			n = limit
		}
		l.active[tier] = n
	}
}

// Tiers returns the configured tier names, sorted.
func (l *Limiter) Tiers() []Tier {
	l.mu.Lock()
	defer l.mu.Unlock()

	tiers := make([]Tier, 0, len(l.limits))
	for tier := range l.limits {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	return tiers
}

// String describes the limiter's current utilization, for logs.
func (l *Limiter) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	tiers := make([]Tier, 0, len(l.limits))
	for tier := range l.limits {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	out := ""
	for i, tier := range tiers {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d/%d", tier, l.active[tier], l.limits[tier])
	}
	return out
}
