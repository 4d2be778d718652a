package cseg

import (
	"context"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/strand"
)

// DefaultMaxLeafPopulation is the population above which a leaf splits.
const DefaultMaxLeafPopulation = 800

// Config configures a Rebalancer.
type Config struct {
	// MaxLeafPopulation triggers a split when exceeded; sibling leaves
	// whose combined population is below half of it merge. Default: 800
	MaxLeafPopulation uint32

	// Interval between background passes. Default: 1s
	Interval time.Duration

	// OpsPerSecond paces splits and merges. Default: 10
	OpsPerSecond float64

	// HandoffTimeout bounds one transition. Default: 5s
	HandoffTimeout time.Duration

	// RandomSplitsMerges splits or merges a random leaf every pass,
	// regardless of population.
	RandomSplitsMerges bool

	// ReservoirSize bounds the positions sampled per leaf. Default: 1024
	ReservoirSize int

	// Seed feeds the reservoir and chaos mode. Zero picks a time-based seed.
	Seed int64

	Logger *slog.Logger
}

// DefaultConfig returns a rebalancer configuration with defaults.
func DefaultConfig() Config {
	return Config{
		MaxLeafPopulation: DefaultMaxLeafPopulation,
		Interval:          time.Second,
		OpsPerSecond:      10,
		HandoffTimeout:    DefaultHandoffTimeout,
		ReservoirSize:     DefaultReservoirSize,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxLeafPopulation == 0 {
		c.MaxLeafPopulation = def.MaxLeafPopulation
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.OpsPerSecond <= 0 {
		c.OpsPerSecond = def.OpsPerSecond
	}
	if c.HandoffTimeout <= 0 {
		c.HandoffTimeout = def.HandoffTimeout
	}
	if c.ReservoirSize <= 0 {
		c.ReservoirSize = def.ReservoirSize
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Rebalancer splits crowded leaves and merges quiet ones. Population and
// the server pool are owned by its strand; the tree itself only changes
// through the Publisher.
type Rebalancer struct {
	cfg       Config
	replica   *Replica
	publisher Publisher
	handoff   Handoff
	strand    *strand.Strand
	limiter   *rate.Limiter
	metrics   *metrics
	logger    *slog.Logger

	// Strand-owned state.
	pop         *population
	servers     map[domain.ServerID]struct{}
	rng         *rand.Rand
	seenVersion uint64

	active  atomic.Bool
	queued  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	started atomic.Bool
}

// NewRebalancer creates a rebalancer over replica. It is active by default;
// replicated deployments activate it only on the leader.
func NewRebalancer(cfg Config, replica *Replica, publisher Publisher, handoff Handoff) *Rebalancer {
	cfg.applyDefaults()
	if handoff == nil {
		handoff = NoopHandoff{}
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	ctx, cancel := context.WithCancel(context.Background())

	r := &Rebalancer{
		cfg:       cfg,
		replica:   replica,
		publisher: publisher,
		handoff:   handoff,
		strand:    strand.New("cseg-rebalancer"),
		limiter:   rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), max(1, int(cfg.OpsPerSecond))),
		metrics:   newMetrics(),
		logger:    cfg.Logger.With("component", "cseg-rebalancer"),
		pop:       newPopulation(cfg.ReservoirSize, rng),
		servers:   make(map[domain.ServerID]struct{}),
		rng:       rng,
		ctx:       ctx,
		cancel:    cancel,
		stop:      make(chan struct{}),
	}
	r.active.Store(true)

	// Every current owner belongs to the pool.
	for id := range replica.Tree().Snapshot().Owners() {
		r.servers[id] = struct{}{}
	}
	return r
}

// Start launches the background loop.
func (r *Rebalancer) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.loop()
	r.logger.Info("rebalancer started",
		"interval", r.cfg.Interval,
		"max_leaf_population", r.cfg.MaxLeafPopulation,
		"random_splits_merges", r.cfg.RandomSplitsMerges)
}

func (r *Rebalancer) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if !r.active.Load() || !r.queued.CompareAndSwap(false, true) {
				continue
			}
			_ = r.strand.Post(func() {
				defer r.queued.Store(false)
				r.rebalance(r.ctx)
			})
		}
	}
}

// Close stops the loop and waits for any running transition.
func (r *Rebalancer) Close() error {
	r.once.Do(func() {
		close(r.stop)
		r.wg.Wait()
		r.cancel()
		r.strand.Stop()
	})
	return nil
}

// SetActive turns background passes on or off.
func (r *Rebalancer) SetActive(active bool) {
	if r.active.Swap(active) != active {
		r.logger.Info("rebalancer activity changed", "active", active)
	}
}

// Active reports whether background passes run.
func (r *Rebalancer) Active() bool {
	return r.active.Load()
}

// RecordSample adds weight at p to the leaf containing it.
func (r *Rebalancer) RecordSample(p domain.Vector3, weight float64) error {
	if _, err := r.replica.Tree().Snapshot().LeafAt(p); err != nil {
		return err
	}
	return r.strand.Post(func() {
		snap := r.sync()
		n, err := snap.LeafAt(p)
		if err != nil {
			return
		}
		r.pop.add(n.Path, p, weight)
		r.metrics.samples.Inc()
	})
}

// RecordLeafSample adds externally measured load to the leaf at path.
func (r *Rebalancer) RecordLeafSample(path string, weight float64) error {
	if _, err := r.replica.Tree().Leaf(path); err != nil {
		return err
	}
	return r.strand.Post(func() {
		snap := r.sync()
		if _, err := snap.Leaf(path); err != nil {
			return
		}
		r.pop.addWeight(path, weight)
		r.metrics.samples.Inc()
	})
}

// SeedPopulation sets starting estimates, as computed from a density grid.
func (r *Rebalancer) SeedPopulation(ctx context.Context, weights map[string]float64) error {
	return r.strand.Call(ctx, func() {
		r.sync()
		for path, w := range weights {
			r.pop.set(path, w)
		}
	})
}

// Population returns the current estimate for the leaf at path.
func (r *Rebalancer) Population(ctx context.Context, path string) (float64, error) {
	var w float64
	err := r.strand.Call(ctx, func() {
		r.sync()
		w = r.pop.weight(path)
	})
	return w, err
}

// AddFreeServer makes id available to take split regions.
func (r *Rebalancer) AddFreeServer(id domain.ServerID) {
	if !id.Valid() {
		return
	}
	_ = r.strand.Post(func() {
		if _, ok := r.servers[id]; ok {
			return
		}
		r.servers[id] = struct{}{}
		r.logger.Info("server added to pool", "server", id)
		r.updateGauges(r.replica.Tree().Snapshot())
	})
}

// RemoveServer withdraws id from the pool. Regions it already owns keep
// their owner until they are merged away.
func (r *Rebalancer) RemoveServer(id domain.ServerID) {
	_ = r.strand.Post(func() {
		if _, ok := r.servers[id]; !ok {
			return
		}
		delete(r.servers, id)
		if r.replica.Tree().Snapshot().Owners()[id] > 0 {
			r.logger.Warn("removed server still owns regions", "server", id)
		}
		r.updateGauges(r.replica.Tree().Snapshot())
	})
}

// FreeServers lists pool members that own no region.
func (r *Rebalancer) FreeServers(ctx context.Context) ([]domain.ServerID, error) {
	var out []domain.ServerID
	err := r.strand.Call(ctx, func() {
		out = r.freeServers(r.replica.Tree().Snapshot())
	})
	return out, err
}

// MaybeSplit splits the leaf at path if it is over capacity. It reports
// whether the tree changed.
func (r *Rebalancer) MaybeSplit(ctx context.Context, path string) (bool, error) {
	var (
		split bool
		err   error
	)
	if cerr := r.strand.Call(ctx, func() { split, err = r.maybeSplit(ctx, path) }); cerr != nil {
		return false, cerr
	}
	return split, err
}

// MaybeMerge merges the children of parentPath if both are leaves and
// together below half capacity. It reports whether the tree changed.
func (r *Rebalancer) MaybeMerge(ctx context.Context, parentPath string) (bool, error) {
	var (
		merged bool
		err    error
	)
	if cerr := r.strand.Call(ctx, func() { merged, err = r.maybeMerge(ctx, parentPath) }); cerr != nil {
		return false, cerr
	}
	return merged, err
}

// Tick runs one rebalancing pass and waits for it.
func (r *Rebalancer) Tick(ctx context.Context) error {
	return r.strand.Call(ctx, func() { r.rebalance(ctx) })
}

// sync drops estimates for leaves that disappeared through transitions
// this rebalancer did not make.
func (r *Rebalancer) sync() *Snapshot {
	snap := r.replica.Tree().Snapshot()
	if snap.Version != r.seenVersion {
		r.pop.prune(snap)
		r.seenVersion = snap.Version
		r.updateGauges(snap)
	}
	return snap
}

func (r *Rebalancer) updateGauges(snap *Snapshot) {
	r.metrics.leaves.Set(float64(snap.Leaves))
	r.metrics.version.Set(float64(snap.Version))
	r.metrics.freeServers.Set(float64(len(r.freeServers(snap))))
}

func (r *Rebalancer) freeServers(snap *Snapshot) []domain.ServerID {
	owners := snap.Owners()
	var out []domain.ServerID
	for id := range r.servers {
		if owners[id] == 0 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (r *Rebalancer) rebalance(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if r.cfg.RandomSplitsMerges {
		r.chaos(ctx)
		return
	}

	threshold := float64(r.cfg.MaxLeafPopulation)
	for _, leaf := range r.sync().LeafList() {
		if r.pop.weight(leaf.Path) <= threshold {
			continue
		}
		if !r.limiter.Allow() {
			return
		}
		if _, err := r.maybeSplit(ctx, leaf.Path); err != nil {
			r.logger.Warn("split failed; retrying next pass", "leaf", leaf.Path, "error", err)
		}
	}

	for _, parent := range mergeCandidates(r.sync()) {
		if r.pop.weight(parent+"0")+r.pop.weight(parent+"1") >= threshold/2 {
			continue
		}
		if !r.limiter.Allow() {
			return
		}
		if _, err := r.maybeMerge(ctx, parent); err != nil {
			r.logger.Warn("merge failed; retrying next pass", "parent", parent, "error", err)
		}
	}
}

// mergeCandidates lists internal nodes whose children are both leaves,
// deepest first.
func mergeCandidates(s *Snapshot) []string {
	var out []string
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.IsLeaf() {
			return
		}
		if n.Left.IsLeaf() && n.Right.IsLeaf() {
			out = append(out, n.Path)
			return
		}
		walk(n.Left)
		walk(n.Right)
	}
	walk(s.Root)
	slices.SortStableFunc(out, func(a, b string) int { return len(b) - len(a) })
	return out
}

func (r *Rebalancer) maybeSplit(ctx context.Context, path string) (bool, error) {
	snap := r.sync()
	leaf, err := snap.Leaf(path)
	if err != nil {
		return false, err
	}
	if r.pop.weight(path) <= float64(r.cfg.MaxLeafPopulation) {
		return false, nil
	}
	axis := leaf.Bounds.LongestAxis()
	return true, r.split(ctx, snap, leaf, axis, r.splitValue(leaf, axis))
}

// splitValue is the sample median along axis, or the midpoint when there
// are no samples or the median sits on a face.
func (r *Rebalancer) splitValue(leaf LeafInfo, axis domain.Axis) float64 {
	mid := leaf.Bounds.Center().Get(axis)
	v, ok := r.pop.median(leaf.Path, axis)
	if !ok || v <= leaf.Bounds.Min.Get(axis) || v >= leaf.Bounds.Max.Get(axis) {
		return mid
	}
	return v
}

func (r *Rebalancer) split(ctx context.Context, snap *Snapshot, leaf LeafInfo, axis domain.Axis, value float64) error {
	free := r.freeServers(snap)
	if len(free) == 0 {
		r.metrics.failures.WithLabelValues(string(KindSplit), domain.ErrResourceExhausted.Code).Inc()
		return domain.ErrResourceExhausted.WithDetails("no free server to split leaf %q (population %.0f)", leaf.Path, r.pop.weight(leaf.Path))
	}

	t := Transition{
		ID:          ulid.Make().String(),
		Kind:        KindSplit,
		Path:        leaf.Path,
		BaseVersion: snap.Version,
		Axis:        axis,
		Value:       value,
		LeftOwner:   leaf.Owner,
		RightOwner:  free[0],
	}
	next, err := runHandoff(ctx, r.handoff, r.publisher, t, r.cfg.HandoffTimeout, r.logger)
	if err != nil {
		r.metrics.failures.WithLabelValues(string(KindSplit), domain.ErrorCode(err)).Inc()
		return err
	}

	r.pop.split(leaf.Path, axis, value)
	r.committed(t, next)
	return nil
}

func (r *Rebalancer) maybeMerge(ctx context.Context, parent string) (bool, error) {
	snap := r.sync()
	n, ok := snap.Node(parent)
	if !ok || n.IsLeaf() {
		return false, domain.ErrLeafNotFound.WithDetails("merge %q: not an internal node", parent)
	}
	if !n.Left.IsLeaf() || !n.Right.IsLeaf() {
		return false, nil
	}
	if r.pop.weight(parent+"0")+r.pop.weight(parent+"1") >= float64(r.cfg.MaxLeafPopulation)/2 {
		return false, nil
	}
	return true, r.merge(ctx, snap, n)
}

func (r *Rebalancer) merge(ctx context.Context, snap *Snapshot, n *Node) error {
	t := Transition{
		ID:          ulid.Make().String(),
		Kind:        KindMerge,
		Path:        n.Path,
		BaseVersion: snap.Version,
		Owner:       n.Left.Owner,
		Released:    n.Right.Owner,
	}
	next, err := runHandoff(ctx, r.handoff, r.publisher, t, r.cfg.HandoffTimeout, r.logger)
	if err != nil {
		r.metrics.failures.WithLabelValues(string(KindMerge), domain.ErrorCode(err)).Inc()
		return err
	}

	r.pop.merge(n.Path)
	r.committed(t, next)
	return nil
}

func (r *Rebalancer) committed(t Transition, next *Snapshot) {
	r.metrics.transitions.WithLabelValues(string(t.Kind)).Inc()
	r.seenVersion = next.Version
	r.updateGauges(next)
}

// chaos splits or merges around a random leaf.
func (r *Rebalancer) chaos(ctx context.Context) {
	snap := r.sync()
	leaves := snap.LeafList()
	leaf := leaves[r.rng.Intn(len(leaves))]

	var err error
	if r.rng.Intn(2) == 0 || leaf.Path == "" {
		axis := leaf.Bounds.LongestAxis()
		err = r.split(ctx, snap, leaf, axis, leaf.Bounds.Center().Get(axis))
	} else {
		parent := leaf.Path[:len(leaf.Path)-1]
		n, _ := snap.Node(parent)
		if !n.Left.IsLeaf() || !n.Right.IsLeaf() {
			return
		}
		err = r.merge(ctx, snap, n)
	}
	if err != nil {
		r.logger.Debug("random transition skipped", "leaf", leaf.Path, "error", err)
	}
}
