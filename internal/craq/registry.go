package craq

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// StoreConfig carries the settings any backing store kind may need.
type StoreConfig struct {
	Endpoints      []string
	NumConnections int
	IOTimeout      time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// StoreConstructor builds a Store.
type StoreConstructor func(cfg StoreConfig, logger *slog.Logger) (Store, error)

// Registry maps backing store kinds to constructors. It is populated at
// startup and passed to whoever builds stores.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]StoreConstructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]StoreConstructor)}
}

// DefaultRegistry registers "craq", "redis" and "memory".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("craq", func(cfg StoreConfig, logger *slog.Logger) (Store, error) {
		pc := DefaultPoolConfig(cfg.Endpoints...)
		if cfg.NumConnections > 0 {
			pc.NumConnections = cfg.NumConnections
		}
		if cfg.IOTimeout > 0 {
			pc.IOTimeout = cfg.IOTimeout
		}
		pc.Logger = logger
		return NewPool(pc)
	})
	r.Register("redis", func(cfg StoreConfig, logger *slog.Logger) (Store, error) {
		return NewRedisStore(RedisConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Timeout:     cfg.IOTimeout,
			Concurrency: cfg.NumConnections,
			Logger:      logger,
		})
	})
	r.Register("memory", func(StoreConfig, *slog.Logger) (Store, error) {
		return NewMemoryStore(), nil
	})
	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, ctor StoreConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// New builds the named store.
func (r *Registry) New(name string, cfg StoreConfig, logger *slog.Logger) (Store, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrConfig.WithDetails("unknown backing store %q (have %v)", name, r.Names())
	}
	if logger == nil {
		logger = slog.Default()
	}

	s, err := ctor(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build %s backing store: %w", name, err)
	}
	return s, nil
}

// Names lists registered kinds.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
