// Package cloud holds the point-cloud data model shared by every pipeline
// stage: individual LiDAR returns, point sets with derivable bounds, and
// batched point sources.
//
// Points are produced by an external decoder and are read-only once created.
// The pipeline never re-decodes raw sensor bytes; it consumes Source streams.
package cloud

import (
	"context"
	"errors"
	"io"
	"math"

	"github.com/ctessum/geom"
)

// ErrEmptyInput reports that a stage received no points at all. The stage
// aborts and nothing downstream runs for that input.
var ErrEmptyInput = errors.New("cloud: empty point input")

// Point is a single LiDAR return in a planar projected reference system
// (the original data uses EPSG:28992, Dutch RD New). Z is the elevation.
type Point struct {
	X, Y, Z        float64
	Classification uint8
}

// PointSet is an unordered multiset of points. Order is irrelevant to all
// operations on it; duplicates are meaningful and never removed.
type PointSet []Point

// Bounds returns the axis-aligned bounding box of the set, or nil for an
// empty set.
func (ps PointSet) Bounds() *geom.Bounds {
	if len(ps) == 0 {
		return nil
	}
	b := &geom.Bounds{
		Min: geom.Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: geom.Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for _, p := range ps {
		if p.X < b.Min.X {
			b.Min.X = p.X
		}
		if p.Y < b.Min.Y {
			b.Min.Y = p.Y
		}
		if p.X > b.Max.X {
			b.Max.X = p.X
		}
		if p.Y > b.Max.Y {
			b.Max.Y = p.Y
		}
	}
	return b
}

// Validate returns ErrEmptyInput for an empty set.
func (ps PointSet) Validate() error {
	if len(ps) == 0 {
		return ErrEmptyInput
	}
	return nil
}

// Source yields points in bounded batches so memory scales with batch size
// rather than total input size. Next returns up to max points per call and
// io.EOF once the stream is exhausted (possibly alongside a final batch).
type Source interface {
	Next(ctx context.Context, max int) ([]Point, error)
}

// SliceSource adapts an in-memory slice to the Source interface. Useful for
// tests and for inputs that are already resident.
type SliceSource struct {
	points []Point
	pos    int
}

// NewSliceSource returns a Source that replays pts in order.
func NewSliceSource(pts []Point) *SliceSource {
	return &SliceSource{points: pts}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context, max int) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.points) {
		return nil, io.EOF
	}
	if max <= 0 {
		max = len(s.points) - s.pos
	}
	end := s.pos + max
	if end > len(s.points) {
		end = len(s.points)
	}
	batch := s.points[s.pos:end]
	s.pos = end
	if s.pos >= len(s.points) {
		return batch, io.EOF
	}
	return batch, nil
}

// ReadAll drains a source into a PointSet using the given batch size.
// It returns ErrEmptyInput when the source yields no points.
func ReadAll(ctx context.Context, src Source, batchSize int) (PointSet, error) {
	var all PointSet
	for {
		batch, err := src.Next(ctx, batchSize)
		all = append(all, batch...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(all) == 0 {
		return nil, ErrEmptyInput
	}
	return all, nil
}
