package cseg

import (
	"math/rand"
	"slices"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// DefaultReservoirSize bounds the sample positions kept per leaf.
const DefaultReservoirSize = 1024

type sample struct {
	pos    domain.Vector3
	weight float64
}

// leafLoad is the population estimate of one leaf.
type leafLoad struct {
	weight  float64
	samples []sample
	seen    uint64
}

// population tracks load per leaf path. It is owned by the rebalancer strand.
type population struct {
	leaves   map[string]*leafLoad
	capacity int
	rng      *rand.Rand
}

func newPopulation(capacity int, rng *rand.Rand) *population {
	if capacity <= 0 {
		capacity = DefaultReservoirSize
	}
	return &population{
		leaves:   make(map[string]*leafLoad),
		capacity: capacity,
		rng:      rng,
	}
}

func (p *population) load(path string) *leafLoad {
	l, ok := p.leaves[path]
	if !ok {
		l = &leafLoad{}
		p.leaves[path] = l
	}
	return l
}

// add records weight at pos in leaf path, keeping a uniform reservoir of
// positions.
func (p *population) add(path string, pos domain.Vector3, weight float64) {
	l := p.load(path)
	l.weight += weight
	l.seen++
	s := sample{pos: pos, weight: weight}
	if len(l.samples) < p.capacity {
		l.samples = append(l.samples, s)
		return
	}
	if j := p.rng.Int63n(int64(l.seen)); j < int64(p.capacity) {
		l.samples[j] = s
	}
}

// addWeight records load with no position.
func (p *population) addWeight(path string, weight float64) {
	p.load(path).weight += weight
}

// weight returns the population of path.
func (p *population) weight(path string) float64 {
	if l, ok := p.leaves[path]; ok {
		return l.weight
	}
	return 0
}

// set overrides the population of path, discarding samples.
func (p *population) set(path string, weight float64) {
	p.leaves[path] = &leafLoad{weight: weight}
}

// median returns the weighted median of the sampled positions along axis.
func (p *population) median(path string, axis domain.Axis) (float64, bool) {
	l, ok := p.leaves[path]
	if !ok || len(l.samples) == 0 {
		return 0, false
	}
	sorted := slices.Clone(l.samples)
	slices.SortFunc(sorted, func(a, b sample) int {
		va, vb := a.pos.Get(axis), b.pos.Get(axis)
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return 0
	})
	var total float64
	for _, s := range sorted {
		total += s.weight
	}
	var acc float64
	for _, s := range sorted {
		acc += s.weight
		if acc*2 >= total {
			return s.pos.Get(axis), true
		}
	}
	return sorted[len(sorted)-1].pos.Get(axis), true
}

// split moves the load of path into its children. Weight is divided in the
// proportion of the samples on either side of value, or evenly without
// samples, so the total is conserved.
func (p *population) split(path string, axis domain.Axis, value float64) {
	l, ok := p.leaves[path]
	delete(p.leaves, path)
	if !ok {
		return
	}

	left, right := &leafLoad{}, &leafLoad{}
	var lw, rw float64
	for _, s := range l.samples {
		if s.pos.Get(axis) < value {
			left.samples = append(left.samples, s)
			lw += s.weight
		} else {
			right.samples = append(right.samples, s)
			rw += s.weight
		}
	}
	frac := 0.5
	if lw+rw > 0 {
		frac = lw / (lw + rw)
	}
	left.weight = l.weight * frac
	right.weight = l.weight - left.weight
	left.seen = uint64(len(left.samples))
	right.seen = uint64(len(right.samples))

	p.leaves[path+"0"] = left
	p.leaves[path+"1"] = right
}

// merge folds the children of parent back into it.
func (p *population) merge(parent string) {
	l, r := p.leaves[parent+"0"], p.leaves[parent+"1"]
	delete(p.leaves, parent+"0")
	delete(p.leaves, parent+"1")

	m := &leafLoad{}
	for _, c := range []*leafLoad{l, r} {
		if c == nil {
			continue
		}
		m.weight += c.weight
		m.samples = append(m.samples, c.samples...)
	}
	if len(m.samples) > p.capacity {
		p.rng.Shuffle(len(m.samples), func(i, j int) { m.samples[i], m.samples[j] = m.samples[j], m.samples[i] })
		m.samples = m.samples[:p.capacity]
	}
	m.seen = uint64(len(m.samples))
	p.leaves[parent] = m
}

// prune drops estimates for paths that are no longer leaves of s.
func (p *population) prune(s *Snapshot) {
	live := make(map[string]struct{}, s.Leaves)
	for _, l := range s.LeafList() {
		live[l.Path] = struct{}{}
	}
	for path := range p.leaves {
		if _, ok := live[path]; !ok {
			delete(p.leaves, path)
		}
	}
}
