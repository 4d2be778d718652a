// Package kvserver serves the CRAQ line protocol over TCP on top of a
// storage engine.
//
// Each connection is served by one goroutine that reads a request, applies
// it and writes the response; pipelined requests are answered in order and
// flushed once the input buffer drains. SET is last-write-wins on the entry
// epoch and answers NOT_STORED when a newer entry is already stored.
package kvserver
