package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// Engine stores OSEG entries for the backing-store server.
//
// Implementations must be safe for concurrent use. Put is a conditional
// write: an entry whose stored version is strictly newer is kept, so
// replays and reordered writes converge on the newest epoch.
type Engine interface {
	// Get returns the entry for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (domain.OSegEntry, error)

	// Put stores entry unless the stored entry is newer. It reports whether
	// entry was stored.
	Put(ctx context.Context, key string, entry domain.OSegEntry) (bool, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan calls fn for every key with the given prefix until fn returns
	// false.
	Scan(ctx context.Context, prefix string, fn func(key string, entry domain.OSegEntry) bool) error

	// Stats returns engine statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the engine.
	Close() error
}

// Stats contains storage engine statistics. Fields an engine cannot report
// are zero.
type Stats struct {
	// Engine is the engine name.
	Engine string `json:"engine"`

	// Keys is the number of keys, exact for memory, zero for badger.
	Keys uint64 `json:"keys"`

	// TotalSize is the disk or memory usage in bytes.
	TotalSize uint64 `json:"total_size"`

	// LSMSize and ValueLogSize split TotalSize for badger.
	LSMSize      uint64 `json:"lsm_size,omitempty"`
	ValueLogSize uint64 `json:"value_log_size,omitempty"`

	// LastGCTime is the last GC run (Unix milliseconds).
	LastGCTime int64 `json:"last_gc_time,omitempty"`

	// GCBytesReclaimed is the estimated total reclaimed by GC.
	GCBytesReclaimed uint64 `json:"gc_bytes_reclaimed,omitempty"`

	// Hits, Misses and Evictions are memory cache counters.
	Hits      uint64 `json:"hits,omitempty"`
	Misses    uint64 `json:"misses,omitempty"`
	Evictions uint64 `json:"evictions,omitempty"`
}

// Engine names.
const (
	EngineBadger = "badger"
	EngineMemory = "memory"
)

// Config configures a KV engine.
type Config struct {
	// Engine is "badger" or "memory".
	// Default: "badger"
	Engine string

	// Dir is the badger storage directory.
	Dir string

	Badger BadgerConfig
	Memory MemoryConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5 (run GC when 50% of data is stale)
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 256MB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int

	// NumLevelZeroTables is the number of Level 0 tables before compaction.
	// Default: 5
	NumLevelZeroTables int

	// NumLevelZeroTablesStall is the number of Level 0 tables that triggers write stall.
	// Default: 10
	NumLevelZeroTablesStall int

	// SyncWrites enables sync writes (fsync after each write).
	// Default: false
	SyncWrites bool

	// InMemory keeps badger entirely in memory (tests).
	InMemory bool
}

// MemoryConfig configures the freecache engine.
type MemoryConfig struct {
	// Size is the cache size in bytes. Entries are evicted when it is full.
	// Default: 64MB
	Size int
}

// DefaultConfig returns the default KV configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Engine: EngineBadger,
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
		Memory: MemoryConfig{Size: 64 << 20},
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:              "10m",
		GCThreshold:             0.5,
		CacheSize:               64 << 20,  // 64MB
		ValueLogFileSize:        256 << 20, // 256MB
		NumMemtables:            2,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
	}
}

// Open creates the engine named by cfg.Engine.
func Open(cfg Config, logger *slog.Logger) (Engine, error) {
	switch cfg.Engine {
	case "", EngineBadger:
		return NewBadgerEngine(cfg, logger)
	case EngineMemory:
		return NewMemoryEngine(cfg.Memory, logger)
	default:
		return nil, domain.ErrConfig.WithDetails("unknown storage engine %q", cfg.Engine)
	}
}

func decodeEntry(key string, b []byte) (domain.OSegEntry, error) {
	e, err := domain.UnmarshalEntry(b)
	if err != nil {
		return domain.NullEntry, fmt.Errorf("corrupt entry for %q: %w", key, err)
	}
	return e, nil
}

const lockStripes = 64

// keyLocks serializes the read-compare-write of Put per key.
type keyLocks [lockStripes]sync.Mutex

func (l *keyLocks) of(key string) *sync.Mutex {
	return &l[murmur3.Sum32([]byte(key))%lockStripes]
}
