package oseg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/craq"
	"github.com/yndnr/segmesh-go/internal/strand"
)

// Config configures an Index.
type Config struct {
	// LocalServer is the id of the server hosting this index.
	LocalServer domain.ServerID

	// CacheSize bounds the LRU cache. Default: 100000
	CacheSize int

	// LookupTimeout is the deadline of one backing-store attempt. Default: 3s
	LookupTimeout time.Duration

	// MaxRetries bounds retries after the first attempt. Default: 5
	MaxRetries int

	// InitialBackoff doubles per retry up to MaxBackoff.
	// Default: 50ms, 2s
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// SweepInterval is how often deadlines and scheduled retries are
	// checked. Default: 25ms
	SweepInterval time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns an index configuration with defaults.
func DefaultConfig(local domain.ServerID) Config {
	return Config{
		LocalServer:    local,
		CacheSize:      DefaultCacheSize,
		LookupTimeout:  3 * time.Second,
		MaxRetries:     5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		SweepInterval:  25 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.LocalServer)
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = def.LookupTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.InitialBackoff)
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Index maps object ids to owning servers. All state is owned by one
// strand; public methods post work to it and return futures.
type Index struct {
	cfg     Config
	logger  *slog.Logger
	store   craq.Store
	strand  *strand.Strand
	metrics *metrics

	// Strand-owned state.
	cache     *Cache
	pending   map[string]*PendingLookup
	owned     map[domain.ObjectID]float32
	migrating map[domain.ObjectID]domain.ServerID
	writes    map[uint64]*trackedWrite
	scheduled []scheduledTask
	nextTrack uint64
	nextSeq   uint64
	counters  Counters

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type trackedWrite struct {
	id       domain.ObjectID
	key      string
	entry    domain.OSegEntry
	done     chan error // nil for untracked upserts
	attempts int

	// stamped writes had their epoch assigned here and may be re-stamped
	// when the store holds a newer record.
	stamped  bool
	restamps int
}

type scheduledTask struct {
	at time.Time
	fn func()
}

// New creates an index over store and starts its strand.
func New(cfg Config, store craq.Store) (*Index, error) {
	cfg.applyDefaults()

	cache, err := NewCache(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	i := &Index{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "oseg", "server", cfg.LocalServer),
		store:     store,
		strand:    strand.New("oseg"),
		metrics:   newMetrics(),
		cache:     cache,
		pending:   make(map[string]*PendingLookup),
		owned:     make(map[domain.ObjectID]float32),
		migrating: make(map[domain.ObjectID]domain.ServerID),
		writes:    make(map[uint64]*trackedWrite),
		stop:      make(chan struct{}),
	}

	i.wg.Add(1)
	go i.loop()
	return i, nil
}

// loop turns store notifications and the sweep ticker into strand tasks.
func (i *Index) loop() {
	defer i.wg.Done()

	ticker := time.NewTicker(i.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-i.store.Notify():
			_ = i.strand.Post(i.drainStore)
		case <-ticker.C:
			_ = i.strand.Post(i.sweep)
		}
	}
}

// Close stops the index. Pending lookups resolve as failed.
// The backing store is not closed.
func (i *Index) Close() error {
	i.once.Do(func() {
		close(i.stop)
		i.wg.Wait()

		_ = i.strand.Post(func() {
			for key, p := range i.pending {
				p.resolve(LookupResult{ID: p.Key, Status: StatusFailed, Err: domain.ErrClosed})
				delete(i.pending, key)
			}
			for track, w := range i.writes {
				delete(i.writes, track)
				i.completeWrite(w, domain.ErrClosed)
			}
		})
		i.strand.Stop()
	})
	return nil
}

// Lookup resolves the owner of id. The returned channel receives exactly
// one result; callers may abandon it.
func (i *Index) Lookup(id domain.ObjectID) <-chan LookupResult {
	ch := make(chan LookupResult, 1)
	if err := i.strand.Post(func() { i.lookup(id, ch) }); err != nil {
		ch <- LookupResult{ID: id, Status: StatusFailed, Err: domain.ErrClosed}
	}
	return ch
}

// Resolve is the blocking form of Lookup.
func (i *Index) Resolve(ctx context.Context, id domain.ObjectID) (LookupResult, error) {
	select {
	case r := <-i.Lookup(id):
		return r, r.Err
	case <-ctx.Done():
		return LookupResult{ID: id, Status: StatusFailed, Err: ctx.Err()}, ctx.Err()
	}
}

func (i *Index) lookup(id domain.ObjectID, ch chan<- LookupResult) {
	if radius, ok := i.owned[id]; ok {
		i.finish(ch, LookupResult{ID: id, Status: StatusFound, Entry: domain.OSegEntry{Owner: i.cfg.LocalServer, Radius: radius}})
		return
	}
	if dest, ok := i.migrating[id]; ok {
		entry, _ := i.cache.Peek(id)
		entry.Owner = dest
		i.finish(ch, LookupResult{ID: id, Status: StatusFound, Entry: entry})
		return
	}
	if entry, ok := i.cache.Get(id); ok {
		// A cached claim that this server owns an object it does not hold
		// is stale; ask the store.
		if entry.Owner != i.cfg.LocalServer {
			i.metrics.cacheHits.Inc()
			i.counters.CacheHits++
			i.finish(ch, LookupResult{ID: id, Status: StatusFound, Entry: entry})
			return
		}
		i.cache.Remove(id)
	}

	i.metrics.cacheMisses.Inc()
	i.counters.CacheMisses++

	key := domain.StoreKey(id)
	if p, ok := i.pending[key]; ok {
		p.Waiters = append(p.Waiters, ch)
		i.metrics.coalesced.Inc()
		i.counters.Coalesced++
		return
	}

	p := i.newPending(id, key)
	p.Waiters = append(p.Waiters, ch)
	i.issueGet(p)
}

// readStore asks the backing store for id without consulting the cache.
// fn runs on the strand with the stored record, or a failed result.
func (i *Index) readStore(id domain.ObjectID, fn func(LookupResult)) {
	key := domain.StoreKey(id)
	if p, ok := i.pending[key]; ok {
		p.readers = append(p.readers, fn)
		return
	}
	p := i.newPending(id, key)
	p.readers = append(p.readers, fn)
	i.issueGet(p)
}

func (i *Index) newPending(id domain.ObjectID, key string) *PendingLookup {
	i.nextSeq++
	p := &PendingLookup{
		Key:      id,
		StoreKey: key,
		Tracking: i.nextSeq,
	}
	i.pending[key] = p
	i.metrics.pending.Set(float64(len(i.pending)))
	return p
}

func (i *Index) issueGet(p *PendingLookup) {
	p.issued = time.Now()
	p.Deadline = p.issued.Add(i.cfg.LookupTimeout)
	p.inFlight = true
	i.metrics.storeRequests.WithLabelValues("get").Inc()
	i.counters.StoreGets++
	i.store.Get(p.StoreKey)
}

func (i *Index) finish(ch chan<- LookupResult, r LookupResult) {
	i.metrics.lookups.WithLabelValues(r.Status.String()).Inc()
	ch <- r
}

func (i *Index) resolvePending(p *PendingLookup, r LookupResult) {
	delete(i.pending, p.StoreKey)
	i.metrics.pending.Set(float64(len(i.pending)))
	i.metrics.lookups.WithLabelValues(r.Status.String()).Add(float64(len(p.Waiters)))
	p.resolve(r)
}

// drainStore collects completions from the backing store.
func (i *Index) drainStore() {
	res := i.store.Tick()

	for _, g := range res.Gets {
		i.onGet(g)
	}
	for _, s := range res.TrackedSets {
		i.onTrackedSet(s)
	}
	for _, e := range res.Errors {
		i.onError(e)
	}
}

func (i *Index) onGet(g craq.GetResult) {
	id, err := domain.ParseStoreKey(g.Key)
	if err != nil {
		i.logger.Warn("unexpected key from backing store", "key", g.Key, "error", err)
		return
	}

	if g.Found {
		i.cache.Insert(id, g.Entry)
	}

	p, ok := i.pending[g.Key]
	if !ok {
		return
	}

	if !g.Found {
		i.resolvePending(p, LookupResult{ID: id, Status: StatusUnknown})
		return
	}

	// Readers want the stored record; waiters get the freshest entry we
	// know of, which may be a newer local write.
	readers := p.readers
	p.readers = nil
	entry := g.Entry
	if cached, ok := i.cache.Peek(id); ok {
		entry = cached
	}
	i.resolvePending(p, LookupResult{ID: id, Status: StatusFound, Entry: entry})
	for _, fn := range readers {
		fn(LookupResult{ID: id, Status: StatusFound, Entry: g.Entry})
	}
}

func (i *Index) onTrackedSet(s craq.SetResult) {
	w, ok := i.writes[s.Tracking]
	if !ok {
		return
	}
	if s.Stored {
		delete(i.writes, s.Tracking)
		i.completeWrite(w, nil)
		return
	}

	i.evictRejected(w.id, w.entry)
	if w.stamped && w.restamps < i.cfg.MaxRetries {
		i.restamp(s.Tracking, w)
		return
	}
	delete(i.writes, s.Tracking)
	i.completeWrite(w, domain.ErrStaleWrite.WithDetails("object %s epoch %d", w.id, w.entry.Epoch))
}

// evictRejected forgets an optimistic cache entry the store refused.
func (i *Index) evictRejected(id domain.ObjectID, entry domain.OSegEntry) {
	if cached, ok := i.cache.Peek(id); ok && cached == entry {
		i.cache.Remove(id)
	}
}

func (i *Index) onError(e craq.ErrorResult) {
	switch e.Op.Kind {
	case craq.OpGet:
		p, ok := i.pending[e.Op.Key]
		if !ok || !p.current(e.Op) {
			return
		}
		i.retryLookup(p, e.Err)

	case craq.OpSet:
		if errors.Is(e.Err, domain.ErrStaleWrite) && !e.Op.Tracked {
			if id, err := domain.ParseStoreKey(e.Op.Key); err == nil {
				i.evictRejected(id, e.Op.Value)
			}
			i.logger.Warn("untracked upsert rejected", "key", e.Op.Key, "epoch", e.Op.Value.Epoch)
			return
		}
		i.retryWrite(e.Op, e.Err)
	}
}

// retryLookup schedules another attempt, or fails every waiter once the
// retry budget is spent.
func (i *Index) retryLookup(p *PendingLookup, cause error) {
	p.inFlight = false
	p.Attempt++
	if p.Attempt > i.cfg.MaxRetries {
		i.logger.Warn("lookup failed",
			"object", p.Key,
			"attempts", p.Attempt,
			"error", cause)
		i.resolvePending(p, LookupResult{
			ID:     p.Key,
			Status: StatusFailed,
			Err:    domain.ErrLookupFailed.WithDetails("object %s after %d attempts", p.Key, p.Attempt).WithCause(cause),
		})
		return
	}

	delay := i.backoff(p.Attempt)
	i.logger.Debug("retrying lookup",
		"object", p.Key,
		"attempt", p.Attempt,
		"delay", delay,
		"error", cause)
	i.metrics.retries.Inc()
	i.counters.Retries++
	i.schedule(delay, func() {
		// Resolved in the meantime by a late response.
		if cur, ok := i.pending[p.StoreKey]; !ok || cur != p {
			return
		}
		i.issueGet(p)
	})
}

func (i *Index) retryWrite(op craq.Operation, cause error) {
	if !op.Tracked {
		// The pool already spent its attempts; nobody is waiting on this one.
		i.logger.Warn("untracked upsert dropped", "key", op.Key, "epoch", op.Value.Epoch, "error", cause)
		return
	}

	w, ok := i.writes[op.Tracking]
	if !ok {
		return
	}
	w.attempts++
	if w.attempts > i.cfg.MaxRetries {
		i.logger.Error("upsert failed", "object", w.id, "epoch", w.entry.Epoch, "error", cause)
		delete(i.writes, op.Tracking)
		i.evictRejected(w.id, w.entry)
		i.completeWrite(w, fmt.Errorf("upsert %s: %w", w.id, cause))
		return
	}

	i.metrics.retries.Inc()
	i.counters.Retries++
	i.schedule(i.backoff(w.attempts), func() {
		if cur, ok := i.writes[op.Tracking]; !ok || cur != w {
			return
		}
		i.sendWrite(op.Tracking, w)
	})
}

func (i *Index) backoff(attempt int) time.Duration {
	d := i.cfg.InitialBackoff
	for n := 1; n < attempt && d < i.cfg.MaxBackoff; n++ {
		d *= 2
	}
	return min(d, i.cfg.MaxBackoff)
}

func (i *Index) schedule(delay time.Duration, fn func()) {
	i.scheduled = append(i.scheduled, scheduledTask{at: time.Now().Add(delay), fn: fn})
}

// sweep runs due retries and times out overdue requests.
func (i *Index) sweep() {
	now := time.Now()

	due := i.scheduled[:0:0]
	rest := i.scheduled[:0]
	for _, t := range i.scheduled {
		if now.Before(t.at) {
			rest = append(rest, t)
		} else {
			due = append(due, t)
		}
	}
	i.scheduled = rest
	for _, t := range due {
		t.fn()
	}

	for _, p := range i.pending {
		if p.inFlight && now.After(p.Deadline) {
			// The request stays in the pool and drains; a late answer still
			// resolves whoever is waiting then.
			i.retryLookup(p, domain.ErrTimeout.WithDetails("lookup %s", p.Key))
		}
	}
}
