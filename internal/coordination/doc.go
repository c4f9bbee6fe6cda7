// Package coordination wires the coordination layer together: the state
// store, event log and bus, admission limiter, stability detector,
// notification batcher, background task manager, file ownership
// coordinator, mode registry and checkpoint manager are constructed
// explicitly here and handed their dependencies. Nothing in the layer
// reaches for a global.
//
// A started Hub runs the periodic loops (requeue/stale/TTL sweeps,
// activity polling, log rotation) until stopped.
package coordination
