package craq

import (
	"sync"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/pkg/cmap"
)

// MemoryStore is an in-process Store for single-server development.
// Operations complete immediately and are reported on the next Tick.
type MemoryStore struct {
	data *cmap.Map[domain.OSegEntry]

	mu     sync.Mutex
	buf    resultBuffer
	closed bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: cmap.New[domain.OSegEntry](),
		buf:  newResultBuffer(),
	}
}

// Share returns a store over the same records with its own result queue,
// so several indexes in one process can use one backing map.
func (m *MemoryStore) Share() *MemoryStore {
	return &MemoryStore{data: m.data, buf: newResultBuffer()}
}

// Get implements Store.
func (m *MemoryStore) Get(key string) {
	entry, ok := m.data.Get(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.failLocked(Operation{Kind: OpGet, Key: key})
		return
	}
	m.buf.results.Gets = append(m.buf.results.Gets, GetResult{Key: key, Entry: entry, Found: ok})
	m.buf.signal()
}

// Set implements Store.
func (m *MemoryStore) Set(key string, entry domain.OSegEntry) {
	if m.put(key, entry) {
		return
	}
	op := Operation{Kind: OpSet, Key: key, Value: entry}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.results.Errors = append(m.buf.results.Errors, ErrorResult{Op: op, Err: staleWrite(op)})
	m.buf.signal()
}

// SetTracked implements Store.
func (m *MemoryStore) SetTracked(key string, entry domain.OSegEntry, tracking uint64) {
	stored := m.put(key, entry)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.failLocked(Operation{Kind: OpSet, Key: key, Value: entry, Tracked: true, Tracking: tracking})
		return
	}
	m.buf.results.TrackedSets = append(m.buf.results.TrackedSets, SetResult{Key: key, Tracking: tracking, Stored: stored})
	m.buf.signal()
}

func (m *MemoryStore) put(key string, entry domain.OSegEntry) bool {
	stored := false
	m.data.Update(key, func(cur domain.OSegEntry, exists bool) domain.OSegEntry {
		if exists && !domain.AcceptWrite(cur, entry) {
			return cur
		}
		stored = true
		return entry
	})
	return stored
}

func (m *MemoryStore) failLocked(op Operation) {
	m.buf.results.Errors = append(m.buf.results.Errors, ErrorResult{Op: op, Err: domain.ErrClosed})
	m.buf.signal()
}

// Tick implements Store.
func (m *MemoryStore) Tick() TickResults {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.drain()
}

// Notify implements Store.
func (m *MemoryStore) Notify() <-chan struct{} {
	return m.buf.notify
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	return m.data.Count()
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
