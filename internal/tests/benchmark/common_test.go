package benchmark

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/cseg"
)

// LeafCounts are the approximate tree sizes lookups are measured at.
var LeafCounts = []int{1, 64, 1024, 8192}

var benchWorld = domain.BoundingBox{
	Min: domain.Vector3{X: -1000, Y: -1000, Z: -100},
	Max: domain.Vector3{X: 1000, Y: 1000, Z: 100},
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildTree pre-splits the world from a uniform density grid until it has
// at least leaves leaves.
func buildTree(b *testing.B, leaves int) *cseg.Snapshot {
	b.Helper()
	if leaves <= 1 {
		s, err := cseg.NewSnapshot(benchWorld, 1)
		if err != nil {
			b.Fatal(err)
		}
		return s
	}

	const side = 128
	g := &cseg.DensityGrid{Width: side, Height: side, Cells: make([]float64, side*side)}
	for i := range g.Cells {
		g.Cells[i] = 1
	}
	total := float64(side * side)
	s, _, err := cseg.BuildFromDensity(benchWorld, g, total/float64(leaves), leaves*2)
	if err != nil {
		b.Fatalf("BuildFromDensity(%d): %v", leaves, err)
	}
	return s
}

// randomPoints returns n reproducible points inside the world.
func randomPoints(n int) []domain.Vector3 {
	rng := rand.New(rand.NewSource(7))
	pts := make([]domain.Vector3, n)
	for i := range pts {
		pts[i] = domain.Vector3{
			X: benchWorld.Min.X + benchWorld.Extent(domain.AxisX)*rng.Float64(),
			Y: benchWorld.Min.Y + benchWorld.Extent(domain.AxisY)*rng.Float64(),
			Z: benchWorld.Min.Z + benchWorld.Extent(domain.AxisZ)*rng.Float64(),
		}
	}
	return pts
}

func leavesName(n int) string {
	return fmt.Sprintf("leaves=%d", n)
}
