package cseg

import (
	"context"
	"log/slog"
	"sync"
)

// Event is delivered to watchers for every applied transition.
type Event struct {
	Transition Transition `json:"transition"`
	Version    uint64     `json:"version"`
	Leaves     int        `json:"leaves"`
}

// Publisher makes a planned transition take effect.
type Publisher interface {
	Publish(ctx context.Context, t Transition) (*Snapshot, error)
}

// Replica owns the tree of one CSEG node. Committed transitions are
// applied through it, in order, and fanned out to watchers.
type Replica struct {
	tree   *Tree
	logger *slog.Logger

	mu      sync.Mutex
	watches map[int]chan Event
	nextID  int
}

// NewReplica wraps tree.
func NewReplica(tree *Tree, logger *slog.Logger) *Replica {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replica{
		tree:    tree,
		logger:  logger.With("component", "cseg"),
		watches: make(map[int]chan Event),
	}
}

// Tree returns the replica's tree.
func (r *Replica) Tree() *Tree {
	return r.tree
}

// Apply applies t to the current snapshot and publishes the result.
func (r *Replica) Apply(t Transition) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.tree.Snapshot()
	next, err := t.Apply(cur)
	if err != nil {
		return nil, err
	}
	r.tree.Reset(next)

	r.logger.Info("tree transition applied",
		"id", t.ID,
		"transition", t.String(),
		"version", next.Version,
		"leaves", next.Leaves)

	r.broadcastLocked(Event{Transition: t, Version: next.Version, Leaves: next.Leaves})
	return next, nil
}

// Restore replaces the tree wholesale, as after a snapshot install.
func (r *Replica) Restore(s *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree.Reset(s)
}

// Watch subscribes to applied transitions. A watcher that falls more than
// buffer events behind is dropped and its channel closed. The returned
// function cancels the subscription.
func (r *Replica) Watch(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watches[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if w, ok := r.watches[id]; ok {
				delete(r.watches, id)
				close(w)
			}
		})
	}
}

func (r *Replica) broadcastLocked(ev Event) {
	for id, ch := range r.watches {
		select {
		case ch <- ev:
		default:
			r.logger.Warn("dropping lagging tree watcher", "watcher", id)
			delete(r.watches, id)
			close(ch)
		}
	}
}

// LocalPublisher applies transitions directly to a replica. It is the
// publisher of a single CSEG node.
type LocalPublisher struct {
	replica *Replica
}

// NewLocalPublisher creates a publisher over replica.
func NewLocalPublisher(replica *Replica) *LocalPublisher {
	return &LocalPublisher{replica: replica}
}

// Publish implements Publisher.
func (p *LocalPublisher) Publish(ctx context.Context, t Transition) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.replica.Apply(t)
}
