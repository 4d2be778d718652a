package craq

import (
	"fmt"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// OpKind distinguishes reads from writes.
type OpKind int

const (
	OpGet OpKind = iota
	OpSet
)

func (k OpKind) String() string {
	switch k {
	case OpGet:
		return CmdGet
	case OpSet:
		return CmdSet
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Operation is one queued request.
type Operation struct {
	Kind  OpKind
	Key   string
	Value domain.OSegEntry
	// Tracked sets report completion in TickResults.TrackedSets.
	Tracked  bool
	Tracking uint64

	Attempts int
	Enqueued time.Time
}

func (op Operation) appendTo(buf []byte) []byte {
	if op.Kind == OpSet {
		return AppendSet(buf, op.Key, op.Value.Marshal())
	}
	return AppendGet(buf, op.Key)
}

// GetResult is a completed GET.
type GetResult struct {
	Key   string
	Entry domain.OSegEntry
	Found bool
}

// SetResult is a completed tracked SET. Stored is false when the store
// kept a newer epoch.
type SetResult struct {
	Key      string
	Tracking uint64
	Stored   bool
}

// ErrorResult is an operation that failed after every attempt. An
// untracked SET refused because the store kept a newer epoch is reported
// here with domain.ErrStaleWrite.
type ErrorResult struct {
	Op  Operation
	Err error
}

func staleWrite(op Operation) error {
	return domain.ErrStaleWrite.WithDetails("key %s epoch %d", op.Key, op.Value.Epoch)
}

// TickResults holds completions drained by one Tick.
type TickResults struct {
	Gets        []GetResult
	Errors      []ErrorResult
	TrackedSets []SetResult
}

// Empty reports whether no completions were drained.
func (r TickResults) Empty() bool {
	return len(r.Gets) == 0 && len(r.Errors) == 0 && len(r.TrackedSets) == 0
}

// Store is the asynchronous backing-store client used by the object index.
// Requests are enqueued without blocking; completions are collected by
// polling Tick, typically after Notify fires.
type Store interface {
	Get(key string)
	Set(key string, entry domain.OSegEntry)
	SetTracked(key string, entry domain.OSegEntry, tracking uint64)
	Tick() TickResults
	Notify() <-chan struct{}
	Close() error
}

// resultBuffer accumulates completions between ticks.
type resultBuffer struct {
	results TickResults
	notify  chan struct{}
}

func newResultBuffer() resultBuffer {
	return resultBuffer{notify: make(chan struct{}, 1)}
}

func (b *resultBuffer) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *resultBuffer) drain() TickResults {
	r := b.results
	b.results = TickResults{}
	return r
}
