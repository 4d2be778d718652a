package cseg

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

// Node is one region of the partition. Nodes are never mutated once they
// are reachable from a published Snapshot.
type Node struct {
	Path   string             `json:"path"`
	Bounds domain.BoundingBox `json:"bounds"`

	// Internal nodes.
	Axis  domain.Axis `json:"axis,omitempty"`
	Value float64     `json:"value,omitempty"`
	Left  *Node       `json:"left,omitempty"`
	Right *Node       `json:"right,omitempty"`

	// Leaves.
	Owner domain.ServerID `json:"owner,omitempty"`
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == nil
}

// LeafInfo describes one leaf of a snapshot.
type LeafInfo struct {
	Path   string             `json:"path"`
	Bounds domain.BoundingBox `json:"bounds"`
	Owner  domain.ServerID    `json:"owner"`
}

// Snapshot is an immutable version of the tree.
type Snapshot struct {
	Version uint64 `json:"version"`
	Root    *Node  `json:"root"`
	Leaves  int    `json:"leaves"`
}

// NewSnapshot returns a single-leaf tree covering world.
func NewSnapshot(world domain.BoundingBox, owner domain.ServerID) (*Snapshot, error) {
	if !world.Valid() {
		return nil, domain.ErrConfig.WithDetails("world %s has no volume", world)
	}
	if !owner.Valid() {
		return nil, domain.ErrConfig.WithDetails("root owner must not be the null server")
	}
	return &Snapshot{
		Version: 1,
		Root:    &Node{Bounds: world, Owner: owner},
		Leaves:  1,
	}, nil
}

// World returns the bounds of the whole tree.
func (s *Snapshot) World() domain.BoundingBox {
	return s.Root.Bounds
}

// LeafAt returns the leaf containing p. The world's maximum faces belong
// to the last leaf along each axis.
func (s *Snapshot) LeafAt(p domain.Vector3) (*Node, error) {
	if !s.Root.Bounds.ContainsClosed(p) {
		return nil, domain.ErrOutOfBounds.WithDetails("point (%g, %g, %g) outside %s", p.X, p.Y, p.Z, s.Root.Bounds)
	}
	n := s.Root
	for !n.IsLeaf() {
		if p.Get(n.Axis) < n.Value {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n, nil
}

// Lookup returns the owner of the leaf containing p.
func (s *Snapshot) Lookup(p domain.Vector3) (domain.ServerID, error) {
	n, err := s.LeafAt(p)
	if err != nil {
		return domain.NullServerID, err
	}
	return n.Owner, nil
}

// Node returns the node at path.
func (s *Snapshot) Node(path string) (*Node, bool) {
	n := s.Root
	for _, c := range path {
		if n.IsLeaf() {
			return nil, false
		}
		switch c {
		case '0':
			n = n.Left
		case '1':
			n = n.Right
		default:
			return nil, false
		}
	}
	return n, true
}

// Leaf returns the leaf at path.
func (s *Snapshot) Leaf(path string) (LeafInfo, error) {
	n, ok := s.Node(path)
	if !ok || !n.IsLeaf() {
		return LeafInfo{}, domain.ErrLeafNotFound.WithDetails("path %q", path)
	}
	return LeafInfo{Path: n.Path, Bounds: n.Bounds, Owner: n.Owner}, nil
}

// LeafList returns every leaf, left to right.
func (s *Snapshot) LeafList() []LeafInfo {
	out := make([]LeafInfo, 0, s.Leaves)
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.IsLeaf() {
			out = append(out, LeafInfo{Path: n.Path, Bounds: n.Bounds, Owner: n.Owner})
			return
		}
		walk(n.Left)
		walk(n.Right)
	}
	walk(s.Root)
	return out
}

// Owners returns the set of servers that own at least one leaf.
func (s *Snapshot) Owners() map[domain.ServerID]int {
	owners := make(map[domain.ServerID]int)
	for _, l := range s.LeafList() {
		owners[l.Owner]++
	}
	return owners
}

// Split returns a new snapshot in which the leaf at path is cut at value
// along axis. The children take leftOwner and rightOwner.
func Split(s *Snapshot, path string, axis domain.Axis, value float64, leftOwner, rightOwner domain.ServerID) (*Snapshot, error) {
	if !leftOwner.Valid() || !rightOwner.Valid() {
		return nil, domain.ErrResourceExhausted.WithDetails("split %q needs two owners", path)
	}
	n, ok := s.Node(path)
	if !ok || !n.IsLeaf() {
		return nil, domain.ErrLeafNotFound.WithDetails("split %q", path)
	}
	lower, upper, err := n.Bounds.Split(axis, value)
	if err != nil {
		return nil, domain.ErrOutOfBounds.WithDetails("leaf %q", path).WithCause(err)
	}

	repl := &Node{
		Path:   n.Path,
		Bounds: n.Bounds,
		Axis:   axis,
		Value:  value,
		Left:   &Node{Path: n.Path + "0", Bounds: lower, Owner: leftOwner},
		Right:  &Node{Path: n.Path + "1", Bounds: upper, Owner: rightOwner},
	}
	return &Snapshot{
		Version: s.Version + 1,
		Root:    replace(s.Root, path, repl),
		Leaves:  s.Leaves + 1,
	}, nil
}

// Merge returns a new snapshot in which the internal node at parentPath,
// whose children must both be leaves, becomes a leaf owned by owner.
func Merge(s *Snapshot, parentPath string, owner domain.ServerID) (*Snapshot, error) {
	if !owner.Valid() {
		return nil, domain.ErrResourceExhausted.WithDetails("merge %q needs an owner", parentPath)
	}
	n, ok := s.Node(parentPath)
	if !ok || n.IsLeaf() {
		return nil, domain.ErrLeafNotFound.WithDetails("merge %q: not an internal node", parentPath)
	}
	if !n.Left.IsLeaf() || !n.Right.IsLeaf() {
		return nil, domain.ErrLeafNotFound.WithDetails("merge %q: children are not both leaves", parentPath)
	}

	repl := &Node{Path: n.Path, Bounds: n.Bounds, Owner: owner}
	return &Snapshot{
		Version: s.Version + 1,
		Root:    replace(s.Root, parentPath, repl),
		Leaves:  s.Leaves - 1,
	}, nil
}

// replace copies the nodes along path and substitutes repl at its end.
func replace(n *Node, path string, repl *Node) *Node {
	rest := strings.TrimPrefix(path, n.Path)
	if rest == "" {
		return repl
	}
	cp := *n
	if rest[0] == '0' {
		cp.Left = replace(n.Left, path, repl)
	} else {
		cp.Right = replace(n.Right, path, repl)
	}
	return &cp
}

// Validate checks that s is a well-formed partition: every internal node
// has two children splitting its bounds and every leaf has an owner.
func (s *Snapshot) Validate() error {
	if s == nil || s.Root == nil {
		return fmt.Errorf("empty snapshot")
	}
	leaves := 0
	var check func(n *Node, path string, bounds domain.BoundingBox) error
	check = func(n *Node, path string, bounds domain.BoundingBox) error {
		if n.Path != path {
			return fmt.Errorf("node %q stored under path %q", n.Path, path)
		}
		if n.Bounds != bounds {
			return fmt.Errorf("node %q bounds %s, want %s", path, n.Bounds, bounds)
		}
		if n.Left == nil && n.Right == nil {
			if !n.Owner.Valid() {
				return fmt.Errorf("leaf %q has no owner", path)
			}
			leaves++
			return nil
		}
		if n.Left == nil || n.Right == nil {
			return fmt.Errorf("node %q has one child", path)
		}
		lower, upper, err := bounds.Split(n.Axis, n.Value)
		if err != nil {
			return fmt.Errorf("node %q: %w", path, err)
		}
		if err := check(n.Left, path+"0", lower); err != nil {
			return err
		}
		return check(n.Right, path+"1", upper)
	}
	if err := check(s.Root, "", s.Root.Bounds); err != nil {
		return err
	}
	if leaves != s.Leaves {
		return fmt.Errorf("snapshot counts %d leaves, found %d", s.Leaves, leaves)
	}
	return nil
}

// Tree publishes snapshots for lock-free readers.
type Tree struct {
	cur atomic.Pointer[Snapshot]
}

// NewTree creates a tree starting at s.
func NewTree(s *Snapshot) *Tree {
	t := &Tree{}
	t.cur.Store(s)
	return t
}

// Snapshot returns the current snapshot.
func (t *Tree) Snapshot() *Snapshot {
	return t.cur.Load()
}

// Lookup resolves p against the current snapshot.
func (t *Tree) Lookup(p domain.Vector3) (domain.ServerID, error) {
	return t.Snapshot().Lookup(p)
}

// LeafAt returns the leaf containing p in the current snapshot.
func (t *Tree) LeafAt(p domain.Vector3) (LeafInfo, error) {
	n, err := t.Snapshot().LeafAt(p)
	if err != nil {
		return LeafInfo{}, err
	}
	return LeafInfo{Path: n.Path, Bounds: n.Bounds, Owner: n.Owner}, nil
}

// Leaves lists the leaves of the current snapshot.
func (t *Tree) Leaves() []LeafInfo {
	return t.Snapshot().LeafList()
}

// Leaf returns the leaf at path in the current snapshot.
func (t *Tree) Leaf(path string) (LeafInfo, error) {
	return t.Snapshot().Leaf(path)
}

// Version returns the current snapshot version.
func (t *Tree) Version() uint64 {
	return t.Snapshot().Version
}

// Swap publishes next if the tree still holds old.
func (t *Tree) Swap(old, next *Snapshot) bool {
	return t.cur.CompareAndSwap(old, next)
}

// Reset replaces the current snapshot unconditionally.
func (t *Tree) Reset(s *Snapshot) {
	t.cur.Store(s)
}
