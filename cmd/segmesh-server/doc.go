// Command segmesh-server answers which space server owns a point (CSEG)
// and which owns an object (OSEG).
//
// Usage:
//
//	segmesh-server -config /etc/segmesh/segmesh.yaml
//
// Every configuration key can also be set through SEGMESH_* environment
// variables. SIGHUP, or saving the configuration file, re-reads log.level.
package main
