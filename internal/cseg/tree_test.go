package cseg

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

var testWorld = domain.NewBoundingBox(domain.Vector3{X: -100, Y: -100, Z: -100}, domain.Vector3{X: 100, Y: 100, Z: 100})

func newTestSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(testWorld, 1)
	require.NoError(t, err)
	return s
}

func TestSnapshot_SingleLeaf(t *testing.T) {
	s := newTestSnapshot(t)

	owner, err := s.Lookup(domain.Vector3{})
	require.NoError(t, err)
	assert.Equal(t, domain.ServerID(1), owner)
	assert.Equal(t, 1, s.Leaves)
	assert.NoError(t, s.Validate())
}

func TestSnapshot_OutOfBounds(t *testing.T) {
	s := newTestSnapshot(t)

	_, err := s.Lookup(domain.Vector3{X: 100.5})
	assert.True(t, errors.Is(err, domain.ErrOutOfBounds))

	// The world's maximum corner is inside.
	owner, err := s.Lookup(testWorld.Max)
	require.NoError(t, err)
	assert.Equal(t, domain.ServerID(1), owner)
}

func TestSplit_PartitionsLeaf(t *testing.T) {
	s := newTestSnapshot(t)

	next, err := Split(s, "", domain.AxisX, 25, 1, 2)
	require.NoError(t, err)
	require.NoError(t, next.Validate())

	assert.Equal(t, s.Version+1, next.Version)
	assert.Equal(t, 2, next.Leaves)

	tests := []struct {
		p    domain.Vector3
		want domain.ServerID
	}{
		{domain.Vector3{X: -100, Y: 0, Z: 0}, 1},
		{domain.Vector3{X: 24.999, Y: 0, Z: 0}, 1},
		{domain.Vector3{X: 25, Y: 0, Z: 0}, 2},
		{domain.Vector3{X: 100, Y: 100, Z: 100}, 2},
	}
	for _, tt := range tests {
		got, err := next.Lookup(tt.p)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "point %+v", tt.p)
	}

	leaves := next.LeafList()
	require.Len(t, leaves, 2)
	assert.Equal(t, "0", leaves[0].Path)
	assert.Equal(t, "1", leaves[1].Path)
	assert.Equal(t, s.World(), leaves[0].Bounds.Union(leaves[1].Bounds))

	// The old snapshot is untouched.
	owner, _ := s.Lookup(domain.Vector3{X: 50})
	assert.Equal(t, domain.ServerID(1), owner)
	assert.Equal(t, 1, s.Leaves)
}

func TestSplit_Errors(t *testing.T) {
	s := newTestSnapshot(t)

	_, err := Split(s, "", domain.AxisY, 100, 1, 2)
	assert.True(t, errors.Is(err, domain.ErrOutOfBounds), "cut on a face")

	_, err = Split(s, "0", domain.AxisY, 0, 1, 2)
	assert.True(t, errors.Is(err, domain.ErrLeafNotFound))

	_, err = Split(s, "", domain.AxisY, 0, 1, domain.NullServerID)
	assert.True(t, errors.Is(err, domain.ErrResourceExhausted))

	next, err := Split(s, "", domain.AxisY, 0, 1, 2)
	require.NoError(t, err)
	_, err = Split(next, "", domain.AxisY, 0, 1, 2)
	assert.True(t, errors.Is(err, domain.ErrLeafNotFound), "internal nodes cannot split")
}

func TestMerge_InvertsSplit(t *testing.T) {
	s := newTestSnapshot(t)
	a, err := Split(s, "", domain.AxisX, 0, 1, 2)
	require.NoError(t, err)
	b, err := Split(a, "1", domain.AxisZ, 50, 2, 3)
	require.NoError(t, err)

	merged, err := Merge(b, "1", 2)
	require.NoError(t, err)
	require.NoError(t, merged.Validate())
	assert.Equal(t, a.LeafList(), merged.LeafList())
	assert.Equal(t, a.Leaves, merged.Leaves)

	root, err := Merge(merged, "", 1)
	require.NoError(t, err)
	assert.Equal(t, s.LeafList(), root.LeafList())

	_, err = Merge(b, "", 1)
	assert.True(t, errors.Is(err, domain.ErrLeafNotFound), "children must both be leaves")
	_, err = Merge(s, "", 1)
	assert.True(t, errors.Is(err, domain.ErrLeafNotFound), "leaf is not a parent")
}

func TestSnapshot_LookupIsTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := newTestSnapshot(t)

	// Build an irregular tree.
	for n := 0; n < 40; n++ {
		leaves := s.LeafList()
		leaf := leaves[rng.Intn(len(leaves))]
		axis := domain.Axis(rng.Intn(3))
		lo, hi := leaf.Bounds.Min.Get(axis), leaf.Bounds.Max.Get(axis)
		value := lo + (hi-lo)*(0.1+0.8*rng.Float64())
		next, err := Split(s, leaf.Path, axis, value, leaf.Owner, domain.ServerID(n+2))
		require.NoError(t, err)
		s = next
	}
	require.NoError(t, s.Validate())
	assert.Equal(t, 41, s.Leaves)

	var volume float64
	for _, l := range s.LeafList() {
		volume += l.Bounds.Volume()
	}
	assert.InDelta(t, testWorld.Volume(), volume, 1e-6*testWorld.Volume())

	for n := 0; n < 5000; n++ {
		p := domain.Vector3{
			X: -100 + 200*rng.Float64(),
			Y: -100 + 200*rng.Float64(),
			Z: -100 + 200*rng.Float64(),
		}
		leaf, err := s.LeafAt(p)
		require.NoError(t, err)
		require.True(t, leaf.Bounds.Contains(p), "leaf %q %s does not contain %+v", leaf.Path, leaf.Bounds, p)

		hits := 0
		for _, l := range s.LeafList() {
			if l.Bounds.Contains(p) {
				hits++
			}
		}
		require.Equal(t, 1, hits)
	}
}

func TestTree_Swap(t *testing.T) {
	s := newTestSnapshot(t)
	tree := NewTree(s)

	next, err := Split(s, "", domain.AxisX, 0, 1, 2)
	require.NoError(t, err)
	require.True(t, tree.Swap(s, next))
	assert.False(t, tree.Swap(s, next), "stale base")
	assert.Equal(t, next.Version, tree.Version())

	leaf, err := tree.LeafAt(domain.Vector3{X: 10})
	require.NoError(t, err)
	assert.Equal(t, "1", leaf.Path)
	assert.Equal(t, domain.ServerID(2), leaf.Owner)
}

func TestTransition_Apply(t *testing.T) {
	s := newTestSnapshot(t)

	split := Transition{Kind: KindSplit, Path: "", BaseVersion: s.Version, Axis: domain.AxisY, Value: 10, LeftOwner: 1, RightOwner: 4}
	next, err := split.Apply(s)
	require.NoError(t, err)
	assert.Equal(t, []domain.ServerID{1}, split.Before())
	assert.Equal(t, []domain.ServerID{4}, split.After())

	_, err = split.Apply(next)
	assert.True(t, errors.Is(err, domain.ErrTreeChanged))

	merge := Transition{Kind: KindMerge, Path: "", BaseVersion: next.Version, Owner: 1, Released: 4}
	back, err := merge.Apply(next)
	require.NoError(t, err)
	assert.Equal(t, s.LeafList(), back.LeafList())
	assert.Equal(t, uint64(3), back.Version)
}
