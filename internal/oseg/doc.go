// Package oseg implements object segmentation: the index answering which
// server currently owns an object.
//
// Lookups resolve, in order, from objects hosted locally, objects migrating
// away, the LRU cache and finally the backing store through a craq.Store.
// Concurrent lookups for one key share a single PendingLookup. Failed or
// overdue requests are retried with capped exponential backoff before the
// waiters see StatusFailed; a key absent from the store is StatusUnknown.
//
// Writes are last-write-wins on a per-object 16-bit epoch carried in the
// entry itself. The store holds the authoritative epoch: a write stamped
// from a stale cache is re-read and re-stamped when the store refuses it.
package oseg
