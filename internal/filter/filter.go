// Package filter retains or discards LiDAR points by geometric and
// elevation predicates. Filters compose into a chain; points that fail a
// predicate are silently excluded, never errors.
package filter

import (
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/tberends/heron/internal/cloud"
	"github.com/tberends/heron/internal/waterdelen"
)

// Filter retains the subset of points satisfying a predicate. Name returns
// the abbreviation appended to output artifact names when the filter ran.
type Filter interface {
	Name() string
	Apply(pts cloud.PointSet) (cloud.PointSet, error)
}

// HeightRange keeps points with Min < z < Max, dropping returns outside
// the plausible water-level band (vegetation, birds, multipath).
type HeightRange struct {
	Min, Max float64
}

// Name implements Filter.
func (HeightRange) Name() string { return "minmax" }

// Apply implements Filter.
func (h HeightRange) Apply(pts cloud.PointSet) (cloud.PointSet, error) {
	out := make(cloud.PointSet, 0, len(pts))
	for _, p := range pts {
		if p.Z > h.Min && p.Z < h.Max {
			out = append(out, p)
		}
	}
	return out, nil
}

// Membership keeps points lying inside the union of a set of water-body
// polygons. Polygon boundaries are inclusive. Candidate polygons per point
// come from an rtree bounding-box pre-check before the exact containment
// test, because a naive per-point per-polygon scan is O(points x vertices).
// Only the geometries go into the tree; membership never needs to know
// which body matched.
type Membership struct {
	tree *rtree.Rtree
	n    int
}

// NewMembership indexes the bodies valid at the reference date. A nil date
// keeps all bodies. Zero surviving bodies is not an error; the resulting
// filter simply retains nothing.
func NewMembership(bodies []waterdelen.WaterBody, refDate *time.Time) *Membership {
	valid := waterdelen.FilterValidAt(bodies, refDate)
	tree := rtree.NewTree(25, 50)
	for _, wb := range valid {
		tree.Insert(wb.Geom)
	}
	return &Membership{tree: tree, n: len(valid)}
}

// Name implements Filter.
func (*Membership) Name() string { return "spatial" }

// Bodies returns the number of polygons in the index.
func (m *Membership) Bodies() int { return m.n }

// Apply implements Filter. A point inside (or on the edge of) at least one
// indexed polygon survives.
func (m *Membership) Apply(pts cloud.PointSet) (cloud.PointSet, error) {
	out := make(cloud.PointSet, 0, len(pts))
	for _, p := range pts {
		if m.Contains(p.X, p.Y) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Contains reports whether (x,y) lies within at least one indexed polygon.
func (m *Membership) Contains(x, y float64) bool {
	if m.n == 0 {
		return false
	}
	pt := geom.Point{X: x, Y: y}
	probe := &geom.Bounds{Min: pt, Max: pt}
	for _, hit := range m.tree.SearchIntersect(probe) {
		if within(pt, hit.(geom.Polygon)) {
			return true
		}
	}
	return false
}

// within treats on-edge points as contained (closed polygons).
func within(p geom.Point, poly geom.Polygon) bool {
	switch p.Within(poly) {
	case geom.Inside, geom.OnEdge:
		return true
	}
	return false
}

// Chain applies filters in order, short-circuiting once no points remain.
func Chain(pts cloud.PointSet, filters ...Filter) (cloud.PointSet, error) {
	var err error
	for _, f := range filters {
		pts, err = f.Apply(pts)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			return pts, nil
		}
	}
	return pts, nil
}
