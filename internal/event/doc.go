// Package event defines the in-process event types and the synchronous
// pub-sub bus that decouples the coordination components from each other.
//
// The bus carries task lifecycle transitions, file ownership claims and
// conflicts, mode changes, checkpoint creation, and notification flushes.
// A bridge in the coordination hub forwards bus events into the durable
// event log, so in-process subscribers and external pollers see the same
// stream.
//
// Delivery is synchronous and best-effort: handlers run on the publisher's
// goroutine, panics are recovered and logged, and there is no replay. A
// component that needs durable history reads the event log instead.
package event
