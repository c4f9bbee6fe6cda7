// Package eventlog provides the durable append-only event log: one JSON
// object per line, polled by line offset, rotated when oversized.
//
// The log is a single-writer, at-least-once channel between the
// coordination layer and whatever orchestrator displays its activity — not
// a transactional queue. Readers never block writers: Poll reads from a
// given 0-based line offset to end of file and reports the new offset for
// the next call. Lines that fail to parse are skipped, so a torn write or
// manual edit cannot wedge consumers.
//
// RotateIfNeeded renames the live log to a timestamped backup once its line
// count exceeds a threshold, keeping repeated polling cost bounded. A fresh
// log is created implicitly by the next Emit. Pollers should restart from
// offset 0 after a rotation.
package eventlog
