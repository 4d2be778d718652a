package cseg

import (
	"fmt"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// TransitionKind names a tree change.
type TransitionKind string

const (
	KindSplit TransitionKind = "split"
	KindMerge TransitionKind = "merge"
)

// Transition is one split or merge. It is what replicas agree on; applying
// the same sequence of transitions to the same starting snapshot yields the
// same tree everywhere.
type Transition struct {
	ID   string         `json:"id"`
	Kind TransitionKind `json:"kind"`
	Path string         `json:"path"`

	// BaseVersion is the snapshot version the transition was planned
	// against. Applying it to any other version fails with ErrTreeChanged.
	BaseVersion uint64 `json:"base_version"`

	// Split.
	Axis       domain.Axis     `json:"axis,omitempty"`
	Value      float64         `json:"value,omitempty"`
	LeftOwner  domain.ServerID `json:"left_owner,omitempty"`
	RightOwner domain.ServerID `json:"right_owner,omitempty"`

	// Merge.
	Owner    domain.ServerID `json:"owner,omitempty"`
	Released domain.ServerID `json:"released,omitempty"`
}

// Apply returns the snapshot that results from applying t to s.
func (t Transition) Apply(s *Snapshot) (*Snapshot, error) {
	if s.Version != t.BaseVersion {
		return nil, domain.ErrTreeChanged.WithDetails("%s %q planned at version %d, tree at %d", t.Kind, t.Path, t.BaseVersion, s.Version)
	}
	switch t.Kind {
	case KindSplit:
		return Split(s, t.Path, t.Axis, t.Value, t.LeftOwner, t.RightOwner)
	case KindMerge:
		return Merge(s, t.Path, t.Owner)
	default:
		return nil, fmt.Errorf("unknown transition kind %q", t.Kind)
	}
}

// Before lists the owners that give up a region in t.
func (t Transition) Before() []domain.ServerID {
	switch t.Kind {
	case KindSplit:
		return []domain.ServerID{t.LeftOwner}
	case KindMerge:
		return []domain.ServerID{t.Released}
	}
	return nil
}

// After lists the owners that take over a region in t.
func (t Transition) After() []domain.ServerID {
	switch t.Kind {
	case KindSplit:
		return []domain.ServerID{t.RightOwner}
	case KindMerge:
		return []domain.ServerID{t.Owner}
	}
	return nil
}

func (t Transition) String() string {
	switch t.Kind {
	case KindSplit:
		return fmt.Sprintf("split %q at %s=%g -> %s/%s", t.Path, t.Axis, t.Value, t.LeftOwner, t.RightOwner)
	case KindMerge:
		return fmt.Sprintf("merge %q -> %s (releases %s)", t.Path, t.Owner, t.Released)
	}
	return string(t.Kind)
}
