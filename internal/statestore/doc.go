// Package statestore provides the durable state store: atomic read, write,
// and clear of named JSON documents under a single state directory.
//
// Every component in the coordination layer persists through this store.
// Writes go to a ".tmp" sibling file and are renamed into place, so a
// crashed writer never leaves a partially written document behind.
//
// The store is safe for concurrent use within a process. Across processes
// there is no locking at the document level: concurrent writers race and the
// last whole-document write wins. This is an accepted limitation — write
// frequency is low and every caller reads, modifies, and writes back whole
// documents. Callers that need a single orchestrating process per project
// can assert it with [Lock].
package statestore
