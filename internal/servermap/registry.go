package servermap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// Options carries the settings any directory kind may need.
type Options struct {
	// File is the table path for the tabular kind.
	File string
	// LocalID and LocalAddress describe the only server of the local kind.
	LocalID      domain.ServerID
	LocalAddress string
}

// Constructor builds a ServerIDMap from options.
type Constructor func(Options) (ServerIDMap, error)

// Registry maps directory kinds to constructors.
// It is built at startup and handed to whoever needs it.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with the built-in kinds
// "tabular" and "local".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("tabular", func(o Options) (ServerIDMap, error) {
		if o.File == "" {
			return nil, domain.ErrConfig.WithDetails("tabular server map requires a file")
		}
		return LoadTabularFile(o.File)
	})
	r.Register("local", func(o Options) (ServerIDMap, error) {
		addr, err := domain.ParseAddress(o.LocalAddress)
		if err != nil {
			return nil, domain.ErrConfig.WithDetails("local server map address").WithCause(err)
		}
		return NewLocal(o.LocalID, addr), nil
	})
	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// New builds the named directory.
func (r *Registry) New(name string, opts Options) (ServerIDMap, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrConfig.WithDetails("unknown server map kind %q (have %v)", name, r.Names())
	}

	m, err := ctor(opts)
	if err != nil {
		return nil, fmt.Errorf("build %s server map: %w", name, err)
	}
	return m, nil
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
