package cseg

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// recordingHandoff remembers every phase and can fail one of them.
type recordingHandoff struct {
	mu     sync.Mutex
	calls  []Phase
	failOn Phase
}

func (h *recordingHandoff) Notify(_ context.Context, req HandoffRequest, _ []domain.ServerID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, req.Phase)
	if req.Phase == h.failOn {
		return domain.ErrHandoffFailed.WithDetails("refused %s", req.Phase)
	}
	return nil
}

func (h *recordingHandoff) phases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Phase(nil), h.calls...)
}

func newTestRebalancer(t *testing.T, h Handoff, mutate ...func(*Config)) (*Rebalancer, *Replica) {
	t.Helper()
	replica := NewReplica(NewTree(newTestSnapshot(t)), nil)
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.OpsPerSecond = 1000
	for _, fn := range mutate {
		fn(&cfg)
	}
	r := NewRebalancer(cfg, replica, NewLocalPublisher(replica), h)
	t.Cleanup(func() { _ = r.Close() })
	return r, replica
}

func sampleUniform(t *testing.T, r *Rebalancer, rng *rand.Rand, box domain.BoundingBox, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p := domain.Vector3{
			X: box.Min.X + box.Extent(domain.AxisX)*rng.Float64(),
			Y: box.Min.Y + box.Extent(domain.AxisY)*rng.Float64(),
			Z: box.Min.Z + box.Extent(domain.AxisZ)*rng.Float64(),
		}
		require.NoError(t, r.RecordSample(p, 1))
	}
}

func TestRebalancer_SplitsOverpopulatedLeaf(t *testing.T) {
	h := &recordingHandoff{}
	r, replica := newTestRebalancer(t, h)
	r.AddFreeServer(2)

	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	sampleUniform(t, r, rng, testWorld, 800)

	split, err := r.MaybeSplit(ctx, "")
	require.NoError(t, err)
	assert.False(t, split, "800 is not over capacity")

	sampleUniform(t, r, rng, testWorld, 1)
	split, err = r.MaybeSplit(ctx, "")
	require.NoError(t, err)
	require.True(t, split)

	snap := replica.Tree().Snapshot()
	require.NoError(t, snap.Validate())
	require.Equal(t, 2, snap.Leaves)

	left, err := snap.Leaf("0")
	require.NoError(t, err)
	right, err := snap.Leaf("1")
	require.NoError(t, err)
	assert.Equal(t, domain.ServerID(1), left.Owner, "left keeps the original owner")
	assert.Equal(t, domain.ServerID(2), right.Owner, "right takes the free server")

	// Split along X near the sample median.
	root, _ := snap.Node("")
	assert.Equal(t, domain.AxisX, root.Axis)
	assert.InDelta(t, 0, root.Value, 20)

	lw, err := r.Population(ctx, "0")
	require.NoError(t, err)
	rw, err := r.Population(ctx, "1")
	require.NoError(t, err)
	assert.InDelta(t, 801, lw+rw, 1e-9, "population is conserved")
	assert.InDelta(t, lw, rw, 40)

	assert.Equal(t, []Phase{PhaseFreeze, PhasePrepare, PhaseRelease}, h.phases())
}

func TestRebalancer_ResourceExhausted(t *testing.T) {
	r, replica := newTestRebalancer(t, NoopHandoff{})

	ctx := context.Background()
	require.NoError(t, r.RecordLeafSample("", 900))

	split, err := r.MaybeSplit(ctx, "")
	assert.True(t, split)
	assert.True(t, errors.Is(err, domain.ErrResourceExhausted))
	assert.Equal(t, 1, replica.Tree().Snapshot().Leaves, "leaf keeps operating over capacity")

	// A server joins; the next pass splits.
	r.AddFreeServer(5)
	require.NoError(t, r.Tick(ctx))
	snap := replica.Tree().Snapshot()
	assert.Equal(t, 2, snap.Leaves)

	leaf, err := snap.Leaf("1")
	require.NoError(t, err)
	assert.Equal(t, domain.ServerID(5), leaf.Owner)

	free, err := r.FreeServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, free)
}

func TestRebalancer_MergesQuietSiblings(t *testing.T) {
	r, replica := newTestRebalancer(t, NoopHandoff{})
	r.AddFreeServer(2)

	ctx := context.Background()
	require.NoError(t, r.RecordLeafSample("", 1000))
	require.NoError(t, r.Tick(ctx))
	require.Equal(t, 2, replica.Tree().Snapshot().Leaves)

	// Not quiet enough yet.
	merged, err := r.MaybeMerge(ctx, "")
	require.NoError(t, err)
	assert.False(t, merged)

	require.NoError(t, r.SeedPopulation(ctx, map[string]float64{"0": 100, "1": 200}))
	merged, err = r.MaybeMerge(ctx, "")
	require.NoError(t, err)
	require.True(t, merged)

	snap := replica.Tree().Snapshot()
	assert.Equal(t, 1, snap.Leaves)
	owner, _ := snap.Lookup(domain.Vector3{X: 50})
	assert.Equal(t, domain.ServerID(1), owner)

	w, err := r.Population(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, float64(300), w)

	free, err := r.FreeServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ServerID{2}, free, "right owner returns to the pool")
}

func TestRebalancer_HandoffRollback(t *testing.T) {
	h := &recordingHandoff{failOn: PhasePrepare}
	r, replica := newTestRebalancer(t, h)
	r.AddFreeServer(2)

	ctx := context.Background()
	require.NoError(t, r.RecordLeafSample("", 1000))

	_, err := r.MaybeSplit(ctx, "")
	assert.True(t, errors.Is(err, domain.ErrHandoffFailed))
	assert.Equal(t, uint64(1), replica.Tree().Version(), "tree stays at the stable assignment")
	assert.Equal(t, []Phase{PhaseFreeze, PhasePrepare, PhaseAbort}, h.phases())

	free, err := r.FreeServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ServerID{2}, free)

	w, err := r.Population(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, float64(1000), w)
}

type slowHandoff struct{}

func (slowHandoff) Notify(ctx context.Context, req HandoffRequest, _ []domain.ServerID) error {
	if req.Phase != PhasePrepare {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRebalancer_HandoffDeadline(t *testing.T) {
	r, replica := newTestRebalancer(t, slowHandoff{}, func(c *Config) { c.HandoffTimeout = 20 * time.Millisecond })
	r.AddFreeServer(2)

	ctx := context.Background()
	require.NoError(t, r.RecordLeafSample("", 1000))

	_, err := r.MaybeSplit(ctx, "")
	assert.True(t, errors.Is(err, domain.ErrHandoffFailed))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, replica.Tree().Snapshot().Leaves)
}

func TestRebalancer_RandomSplitsMerges(t *testing.T) {
	r, replica := newTestRebalancer(t, NoopHandoff{}, func(c *Config) { c.RandomSplitsMerges = true })
	for id := domain.ServerID(2); id <= 8; id++ {
		r.AddFreeServer(id)
	}

	ctx := context.Background()
	versions := map[uint64]bool{}
	for n := 0; n < 30; n++ {
		require.NoError(t, r.Tick(ctx))
		snap := replica.Tree().Snapshot()
		require.NoError(t, snap.Validate())
		versions[snap.Version] = true
	}
	assert.Greater(t, len(versions), 1, "random mode changes the tree without load")
}

func TestRebalancer_RecordSampleOutOfBounds(t *testing.T) {
	r, _ := newTestRebalancer(t, NoopHandoff{})

	err := r.RecordSample(domain.Vector3{X: 1000}, 1)
	assert.True(t, errors.Is(err, domain.ErrOutOfBounds))

	err = r.RecordLeafSample("01", 1)
	assert.True(t, errors.Is(err, domain.ErrLeafNotFound))
}

func TestRebalancer_BackgroundLoop(t *testing.T) {
	r, replica := newTestRebalancer(t, NoopHandoff{}, func(c *Config) { c.Interval = 5 * time.Millisecond })
	r.AddFreeServer(2)
	require.NoError(t, r.RecordLeafSample("", 1000))

	r.SetActive(false)
	r.Start()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, replica.Tree().Snapshot().Leaves, "inactive rebalancer does nothing")

	r.SetActive(true)
	require.Eventually(t, func() bool { return replica.Tree().Snapshot().Leaves == 2 }, time.Second, 5*time.Millisecond)
}

func TestReplica_Watch(t *testing.T) {
	r, replica := newTestRebalancer(t, NoopHandoff{})
	r.AddFreeServer(2)

	events, cancel := replica.Watch(4)
	defer cancel()

	require.NoError(t, r.RecordLeafSample("", 1000))
	require.NoError(t, r.Tick(context.Background()))

	select {
	case ev := <-events:
		assert.Equal(t, KindSplit, ev.Transition.Kind)
		assert.Equal(t, uint64(2), ev.Version)
		assert.Equal(t, 2, ev.Leaves)
		assert.NotEmpty(t, ev.Transition.ID)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	cancel()
	_, ok := <-events
	assert.False(t, ok, "cancel closes the channel")
}
