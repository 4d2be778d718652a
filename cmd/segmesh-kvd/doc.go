// Command segmesh-kvd is a standalone backing store for the object index.
// It speaks the CRAQ line protocol and keeps entries in badger or, for
// development, in a bounded in-memory cache.
//
// Usage:
//
//	segmesh-kvd serve -config /etc/segmesh/kvd.yaml
//	segmesh-kvd backup -config /etc/segmesh/kvd.yaml -out entries.bak.zst
//	segmesh-kvd restore -config /etc/segmesh/kvd.yaml -in entries.bak.zst
//
// Environment variables use the SEGMESH_KVD_ prefix. Backup files whose
// name ends in .zst are zstd compressed.
package main
