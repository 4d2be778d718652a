// Package storage provides the key/value engines behind segmesh-kvd.
//
// Engines hold OSEG entries keyed by their backing-store key. Writes are
// last-write-wins on the entry epoch: Put keeps a stored entry that is
// strictly newer and reports NOT_STORED to the caller.
//
// Two engines are available:
//
//   - badger: persistent, LSM based, with periodic value log GC and
//     backup/restore
//   - memory: freecache, bounded, evicts the oldest entries when full
package storage
