package storage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/coocood/freecache"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// minMemorySize is the smallest cache freecache accepts.
const minMemorySize = 512 * 1024

// MemoryEngine implements Engine on freecache. It is bounded: when full the
// oldest entries are evicted, so it suits development and caches of data
// that can be rewritten.
type MemoryEngine struct {
	cache  *freecache.Cache
	size   int
	logger *slog.Logger
	closed atomic.Bool
	locks  keyLocks
}

// NewMemoryEngine creates a memory engine of cfg.Size bytes.
func NewMemoryEngine(cfg MemoryConfig, logger *slog.Logger) (*MemoryEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.Size
	if size == 0 {
		size = 64 << 20
	}
	if size < minMemorySize {
		return nil, domain.ErrConfig.WithDetails("memory engine size %d below minimum %d", size, minMemorySize)
	}

	e := &MemoryEngine{
		cache:  freecache.NewCache(size),
		size:   size,
		logger: logger.With("component", "memory-engine"),
	}
	e.logger.Info("memory engine started", "size", size)
	return e, nil
}

// Get retrieves the entry for key.
func (e *MemoryEngine) Get(ctx context.Context, key string) (domain.OSegEntry, error) {
	if e.closed.Load() {
		return domain.NullEntry, ErrClosed
	}
	return e.get(key)
}

func (e *MemoryEngine) get(key string) (domain.OSegEntry, error) {
	val, err := e.cache.Get([]byte(key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return domain.NullEntry, ErrKeyNotFound
		}
		return domain.NullEntry, err
	}
	return decodeEntry(key, val)
}

// Put stores entry unless the stored entry is newer.
func (e *MemoryEngine) Put(ctx context.Context, key string, entry domain.OSegEntry) (bool, error) {
	if e.closed.Load() {
		return false, ErrClosed
	}

	mu := e.locks.of(key)
	mu.Lock()
	defer mu.Unlock()

	cur, err := e.get(key)
	switch {
	case errors.Is(err, ErrKeyNotFound):
	case err != nil:
		return false, err
	case !domain.AcceptWrite(cur, entry):
		return false, nil
	}

	value := entry.Marshal()
	if err := e.cache.Set([]byte(key), value[:], 0); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a key.
func (e *MemoryEngine) Delete(ctx context.Context, key string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	mu := e.locks.of(key)
	mu.Lock()
	defer mu.Unlock()
	e.cache.Del([]byte(key))
	return nil
}

// Scan iterates over keys with a given prefix. Order is unspecified.
func (e *MemoryEngine) Scan(ctx context.Context, prefix string, fn func(key string, entry domain.OSegEntry) bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	it := e.cache.NewIterator()
	for ent := it.Next(); ent != nil; ent = it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := string(ent.Key)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := decodeEntry(key, ent.Value)
		if err != nil {
			return err
		}
		if !fn(key, entry) {
			break
		}
	}
	return nil
}

// Stats returns cache statistics.
func (e *MemoryEngine) Stats(ctx context.Context) (*Stats, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return &Stats{
		Engine:    EngineMemory,
		Keys:      uint64(e.cache.EntryCount()),
		TotalSize: uint64(e.size),
		Hits:      uint64(e.cache.HitCount()),
		Misses:    uint64(e.cache.MissCount()),
		Evictions: uint64(e.cache.EvacuateCount()),
	}, nil
}

// Close releases the cache.
func (e *MemoryEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cache.Clear()
	return nil
}

var _ Engine = (*MemoryEngine)(nil)
