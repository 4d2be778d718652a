// Package craq is the asynchronous client to the object index's backing
// key/value store.
//
// The store is spoken to over a line protocol (see protocol.go) through a
// Pool of persistent connections. Each Connection carries at most one
// outstanding request and moves between READY, PROCESSING and
// NEED_NEW_SOCKET. Callers enqueue GET/SET operations without blocking and
// collect completions by calling Tick, usually when Notify fires:
//
//	pool, _ := craq.NewPool(craq.DefaultPoolConfig("10.0.0.5:10333"))
//	pool.Get(key)
//	<-pool.Notify()
//	res := pool.Tick() // res.Gets, res.Errors, res.TrackedSets
//
// A Registry maps store kinds ("craq", "redis", "memory") to constructors
// so the index can be pointed at a different backend by configuration.
package craq
