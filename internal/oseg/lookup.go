package oseg

import (
	"context"
	"fmt"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/craq"
)

// Status is the outcome of a lookup.
type Status int

const (
	// StatusFound means Entry names the owner.
	StatusFound Status = iota
	// StatusUnknown means the backing store has no record.
	StatusUnknown
	// StatusFailed means the lookup gave up; Err says why.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusUnknown:
		return "unknown"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// LookupResult is delivered once per Lookup.
type LookupResult struct {
	ID     domain.ObjectID
	Entry  domain.OSegEntry
	Status Status
	Err    error
}

// PendingLookup is the single in-flight backing-store request for a key
// and everyone waiting on it.
type PendingLookup struct {
	Key      domain.ObjectID
	StoreKey string
	Tracking uint64
	Waiters  []chan<- LookupResult
	Deadline time.Time
	Attempt  int

	// readers are strand callbacks that want the stored record itself.
	readers  []func(LookupResult)
	issued   time.Time
	inFlight bool
}

// current reports whether a failed GET belongs to the attempt in flight.
// A timed-out attempt has already been retried, so its late failure is
// ignored. Operations without an enqueue time count as current.
func (p *PendingLookup) current(op craq.Operation) bool {
	if !p.inFlight {
		return false
	}
	return op.Enqueued.IsZero() || !op.Enqueued.Before(p.issued)
}

func (p *PendingLookup) resolve(r LookupResult) {
	for _, w := range p.Waiters {
		w <- r
	}
	p.Waiters = nil

	readers := p.readers
	p.readers = nil
	for _, fn := range readers {
		fn(r)
	}
}

// Counters summarizes index activity.
type Counters struct {
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
	Coalesced   uint64 `json:"coalesced"`
	StoreGets   uint64 `json:"store_gets"`
	StoreSets   uint64 `json:"store_sets"`
	Retries     uint64 `json:"retries"`
}

// Stats is a point-in-time view of the index.
type Stats struct {
	CacheEntries   int      `json:"cache_entries"`
	CacheEvictions uint64   `json:"cache_evictions"`
	Pending        int      `json:"pending"`
	Owned          int      `json:"owned"`
	Migrating      int      `json:"migrating"`
	TrackedWrites  int      `json:"tracked_writes"`
	Counters       Counters `json:"counters"`
}

// Stats reads the index state on its strand.
func (i *Index) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := i.strand.Call(ctx, func() {
		s = Stats{
			CacheEntries:   i.cache.Len(),
			CacheEvictions: i.cache.Evictions(),
			Pending:        len(i.pending),
			Owned:          len(i.owned),
			Migrating:      len(i.migrating),
			TrackedWrites:  len(i.writes),
			Counters:       i.counters,
		}
	})
	return s, err
}

// LocalServer returns the id of the hosting server.
func (i *Index) LocalServer() domain.ServerID {
	return i.cfg.LocalServer
}
