// Package cmap provides a string-keyed map sharded across independently
// locked buckets.
//
// Keys are spread over the shards by their murmur3 hash, so writers to
// different keys rarely contend:
//
//	m := cmap.New[domain.OSegEntry]()
//	m.Update("obj-1", func(cur domain.OSegEntry, ok bool) domain.OSegEntry { ... })
//	entry, ok := m.Get("obj-1")
//
// Range visits one shard at a time and so does not observe a single
// consistent snapshot of the whole map.
package cmap
