package domain

import "fmt"

// Axis selects a coordinate.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("axis(%d)", uint8(a))
	}
}

// Vector3 is a point in world space.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Get returns the coordinate along a.
func (v Vector3) Get(a Axis) float64 {
	switch a {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

// With returns v with the coordinate along a replaced.
func (v Vector3) With(a Axis, val float64) Vector3 {
	switch a {
	case AxisX:
		v.X = val
	case AxisY:
		v.Y = val
	default:
		v.Z = val
	}
	return v
}

// BoundingBox is an axis-aligned box [Min, Max).
type BoundingBox struct {
	Min Vector3 `json:"min"`
	Max Vector3 `json:"max"`
}

// NewBoundingBox builds a box from two corners.
func NewBoundingBox(min, max Vector3) BoundingBox {
	return BoundingBox{Min: min, Max: max}
}

// Valid reports whether the box has positive extent on every axis.
func (b BoundingBox) Valid() bool {
	return b.Max.X > b.Min.X && b.Max.Y > b.Min.Y && b.Max.Z > b.Min.Z
}

// Extent returns the length of the box along a.
func (b BoundingBox) Extent(a Axis) float64 {
	return b.Max.Get(a) - b.Min.Get(a)
}

// LongestAxis returns the axis with the greatest extent; ties prefer X, then Y.
func (b BoundingBox) LongestAxis() Axis {
	best := AxisX
	for _, a := range []Axis{AxisY, AxisZ} {
		if b.Extent(a) > b.Extent(best) {
			best = a
		}
	}
	return best
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Vector3 {
	return Vector3{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Volume returns the box volume.
func (b BoundingBox) Volume() float64 {
	return b.Extent(AxisX) * b.Extent(AxisY) * b.Extent(AxisZ)
}

// Contains reports whether p lies in [Min, Max).
func (b BoundingBox) Contains(p Vector3) bool {
	return p.X >= b.Min.X && p.X < b.Max.X &&
		p.Y >= b.Min.Y && p.Y < b.Max.Y &&
		p.Z >= b.Min.Z && p.Z < b.Max.Z
}

// ContainsClosed reports whether p lies in [Min, Max].
func (b BoundingBox) ContainsClosed(p Vector3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Split cuts the box at value along a. The cut must lie strictly inside.
func (b BoundingBox) Split(a Axis, value float64) (lower, upper BoundingBox, err error) {
	if value <= b.Min.Get(a) || value >= b.Max.Get(a) {
		return BoundingBox{}, BoundingBox{}, fmt.Errorf("split %s=%g outside (%g, %g)", a, value, b.Min.Get(a), b.Max.Get(a))
	}
	lower = BoundingBox{Min: b.Min, Max: b.Max.With(a, value)}
	upper = BoundingBox{Min: b.Min.With(a, value), Max: b.Max}
	return lower, upper, nil
}

// Union returns the smallest box covering b and o.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		Min: Vector3{X: min(b.Min.X, o.Min.X), Y: min(b.Min.Y, o.Min.Y), Z: min(b.Min.Z, o.Min.Z)},
		Max: Vector3{X: max(b.Max.X, o.Max.X), Y: max(b.Max.Y, o.Max.Y), Z: max(b.Max.Z, o.Max.Z)},
	}
}

// Intersect returns the overlap of b and o and whether it has positive volume.
func (b BoundingBox) Intersect(o BoundingBox) (BoundingBox, bool) {
	r := BoundingBox{
		Min: Vector3{X: max(b.Min.X, o.Min.X), Y: max(b.Min.Y, o.Min.Y), Z: max(b.Min.Z, o.Min.Z)},
		Max: Vector3{X: min(b.Max.X, o.Max.X), Y: min(b.Max.Y, o.Max.Y), Z: min(b.Max.Z, o.Max.Z)},
	}
	return r, r.Valid()
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("<%g,%g,%g>-<%g,%g,%g>", b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
}
