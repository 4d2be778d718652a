package cseg

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// noData marks a grid cell without a measurement.
const noData = "-9999"

// maxBootstrapDepth stops runaway subdivision of very dense grids.
const maxBootstrapDepth = 32

// DensityGrid is a width x height grid of population densities laid over
// the X/Y extent of the world, row by row from Min.Y.
type DensityGrid struct {
	Width, Height int
	Cells         []float64
}

// LoadDensityGrid reads a grid file.
func LoadDensityGrid(path string, width, height int) (*DensityGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.ErrConfig.WithDetails("open density grid").WithCause(err)
	}
	defer f.Close()
	return ParseDensityGrid(f, width, height)
}

// ParseDensityGrid reads width*height densities separated by any of
// ",: " or newlines. Missing cells count as empty; extra values are an
// error.
func ParseDensityGrid(r io.Reader, width, height int) (*DensityGrid, error) {
	if width <= 0 || height <= 0 {
		return nil, domain.ErrConfig.WithDetails("density grid needs positive dimensions, got %dx%d", width, height)
	}
	g := &DensityGrid{Width: width, Height: height, Cells: make([]float64, width*height)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n, line := 0, 0
	for sc.Scan() {
		line++
		fields := strings.FieldsFunc(sc.Text(), func(c rune) bool {
			return c == ',' || c == ':' || c == ' ' || c == '\t' || c == '\r'
		})
		for _, tok := range fields {
			if n >= len(g.Cells) {
				return nil, domain.ErrConfig.WithDetails("density grid line %d: more than %d values", line, len(g.Cells))
			}
			if tok != noData {
				v, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					return nil, domain.ErrConfig.WithDetails("density grid line %d: %q", line, tok).WithCause(err)
				}
				if v > 0 {
					g.Cells[n] = v
				}
			}
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read density grid: %w", err)
	}
	return g, nil
}

// Population integrates density over the X/Y footprint of box, given the
// world the grid covers.
func (g *DensityGrid) Population(world, box domain.BoundingBox) float64 {
	cw := world.Extent(domain.AxisX) / float64(g.Width)
	ch := world.Extent(domain.AxisY) / float64(g.Height)

	// Only cells overlapping box contribute.
	i0 := clampCell(int((box.Min.X-world.Min.X)/cw), g.Width)
	i1 := clampCell(int((box.Max.X-world.Min.X)/cw), g.Width)
	j0 := clampCell(int((box.Min.Y-world.Min.Y)/ch), g.Height)
	j1 := clampCell(int((box.Max.Y-world.Min.Y)/ch), g.Height)

	var sum float64
	for j := j0; j <= j1; j++ {
		for i := i0; i <= i1; i++ {
			d := g.Cells[j*g.Width+i]
			if d == 0 {
				continue
			}
			x0, x1 := world.Min.X+float64(i)*cw, world.Min.X+float64(i+1)*cw
			y0, y1 := world.Min.Y+float64(j)*ch, world.Min.Y+float64(j+1)*ch
			ox := min(x1, box.Max.X) - max(x0, box.Min.X)
			oy := min(y1, box.Max.Y) - max(y0, box.Min.Y)
			if ox > 0 && oy > 0 {
				sum += d * ox * oy
			}
		}
	}
	return sum
}

func clampCell(i, n int) int {
	return max(0, min(i, n-1))
}

// BuildFromDensity pre-splits world until no leaf's population exceeds
// maxLeaf. Cuts are at midpoints, alternating X and Y starting with X;
// both halves of a region split when either is over capacity. Leaves are
// owned round robin by servers 1..serverCount in left-to-right order. The
// returned map holds each leaf's population.
func BuildFromDensity(world domain.BoundingBox, g *DensityGrid, maxLeaf float64, serverCount int) (*Snapshot, map[string]float64, error) {
	if !world.Valid() {
		return nil, nil, domain.ErrConfig.WithDetails("world %s has no volume", world)
	}
	if serverCount <= 0 {
		return nil, nil, domain.ErrConfig.WithDetails("density bootstrap needs at least one server")
	}

	pops := make(map[string]float64)
	leaves := 0
	var build func(path string, bounds domain.BoundingBox, axis domain.Axis, depth int) *Node
	build = func(path string, bounds domain.BoundingBox, axis domain.Axis, depth int) *Node {
		value := bounds.Center().Get(axis)
		lower, upper, err := bounds.Split(axis, value)
		if err == nil && depth < maxBootstrapDepth {
			lp, up := g.Population(world, lower), g.Population(world, upper)
			if lp > maxLeaf || up > maxLeaf {
				next := domain.AxisY
				if axis == domain.AxisY {
					next = domain.AxisX
				}
				return &Node{
					Path:   path,
					Bounds: bounds,
					Axis:   axis,
					Value:  value,
					Left:   build(path+"0", lower, next, depth+1),
					Right:  build(path+"1", upper, next, depth+1),
				}
			}
		}
		owner := domain.ServerID(leaves%serverCount + 1)
		leaves++
		pops[path] = g.Population(world, bounds)
		return &Node{Path: path, Bounds: bounds, Owner: owner}
	}

	root := build("", world, domain.AxisX, 1)
	return &Snapshot{Version: 1, Root: root, Leaves: leaves}, pops, nil
}
