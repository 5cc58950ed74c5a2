// Package partition splits oversized point clouds into bounded-size tiles.
//
// A bounding box is bisected recursively at axis midpoints until every
// leaf fits the configured maximum tile dimensions. Splitting is fully
// deterministic, so re-running on identical input reproduces identical
// tile boundaries. Points stream through in bounded batches and each point
// lands in exactly one tile.
package partition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"

	"github.com/tberends/heron/internal/cloud"
)

// ErrInvalidConfig reports a partition configuration that can never
// terminate or cover anything: non-positive maximum dimensions or a
// bounding box with zero extent.
var ErrInvalidConfig = errors.New("partition: invalid configuration")

// Tile is one leaf of the subdivision: its bounding box plus the points
// assigned to it so far.
type Tile struct {
	Bounds geom.Bounds
	Points []cloud.Point
}

// Split recursively bisects b into sub-bounds no wider than maxW and no
// taller than maxH. The sub-bounds are pairwise non-overlapping and their
// union is exactly b. When both axes exceed their bound the box splits
// four ways at the midpoints; otherwise it splits the offending axis.
// Children are emitted bottom-left first, row by row.
func Split(b geom.Bounds, maxW, maxH float64) ([]geom.Bounds, error) {
	if maxW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("%w: max tile size %gx%g must be positive", ErrInvalidConfig, maxW, maxH)
	}
	if b.Max.X <= b.Min.X || b.Max.Y <= b.Min.Y {
		return nil, fmt.Errorf("%w: bounding box (%g,%g,%g,%g) has zero extent",
			ErrInvalidConfig, b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
	}
	return split(b, maxW, maxH), nil
}

func split(b geom.Bounds, maxW, maxH float64) []geom.Bounds {
	w := b.Max.X - b.Min.X
	h := b.Max.Y - b.Min.Y
	midX := b.Min.X + w/2
	midY := b.Min.Y + h/2

	switch {
	case w > maxW && h > maxH:
		var out []geom.Bounds
		out = append(out, split(geom.Bounds{Min: b.Min, Max: geom.Point{X: midX, Y: midY}}, maxW, maxH)...)
		out = append(out, split(geom.Bounds{Min: geom.Point{X: midX, Y: b.Min.Y}, Max: geom.Point{X: b.Max.X, Y: midY}}, maxW, maxH)...)
		out = append(out, split(geom.Bounds{Min: geom.Point{X: b.Min.X, Y: midY}, Max: geom.Point{X: midX, Y: b.Max.Y}}, maxW, maxH)...)
		out = append(out, split(geom.Bounds{Min: geom.Point{X: midX, Y: midY}, Max: b.Max}, maxW, maxH)...)
		return out
	case w > maxW:
		left := split(geom.Bounds{Min: b.Min, Max: geom.Point{X: midX, Y: b.Max.Y}}, maxW, maxH)
		right := split(geom.Bounds{Min: geom.Point{X: midX, Y: b.Min.Y}, Max: b.Max}, maxW, maxH)
		return append(left, right...)
	case h > maxH:
		down := split(geom.Bounds{Min: b.Min, Max: geom.Point{X: b.Max.X, Y: midY}}, maxW, maxH)
		up := split(geom.Bounds{Min: geom.Point{X: b.Min.X, Y: midY}, Max: b.Max}, maxW, maxH)
		return append(down, up...)
	default:
		return []geom.Bounds{b}
	}
}

// Partitioner assigns streamed point batches to the tiles of a split
// bounding box. Each point maps to exactly one tile: tiles own the
// half-open box [xmin,xmax) x [ymin,ymax), except that the globally
// maximal edges are closed so boundary points on the outer rim are kept.
type Partitioner struct {
	global geom.Bounds
	tiles  []Tile
}

// New splits b into tiles no larger than maxW x maxH and returns a
// partitioner ready to accept point batches.
func New(b geom.Bounds, maxW, maxH float64) (*Partitioner, error) {
	bounds, err := Split(b, maxW, maxH)
	if err != nil {
		return nil, err
	}
	tiles := make([]Tile, len(bounds))
	for i, tb := range bounds {
		tiles[i] = Tile{Bounds: tb}
	}
	return &Partitioner{global: b, tiles: tiles}, nil
}

// Assign routes each point of the batch to its owning tile. Points outside
// the global bounding box are dropped silently.
func (p *Partitioner) Assign(batch []cloud.Point) {
	for _, pt := range batch {
		for i := range p.tiles {
			if p.owns(p.tiles[i].Bounds, pt) {
				p.tiles[i].Points = append(p.tiles[i].Points, pt)
				break
			}
		}
	}
}

// owns applies the half-open ownership rule with closed global max edges.
func (p *Partitioner) owns(b geom.Bounds, pt cloud.Point) bool {
	if pt.X < b.Min.X || pt.Y < b.Min.Y {
		return false
	}
	if pt.X > b.Max.X || (pt.X == b.Max.X && b.Max.X != p.global.Max.X) {
		return false
	}
	if pt.Y > b.Max.Y || (pt.Y == b.Max.Y && b.Max.Y != p.global.Max.Y) {
		return false
	}
	return true
}

// Consume drains src in batches of batchSize, assigning every batch.
// Peak memory is bounded by batch size plus the points already tiled.
func (p *Partitioner) Consume(ctx context.Context, src cloud.Source, batchSize int) error {
	for {
		batch, err := src.Next(ctx, batchSize)
		p.Assign(batch)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("partition: read point batch: %w", err)
		}
	}
}

// Tiles returns the tiles in deterministic split order.
func (p *Partitioner) Tiles() []Tile { return p.tiles }

// TileName derives the artifact name for a tile by embedding its rounded
// xmin and ymax into the source name, matching the naming scheme
// <stem>_<xmin>_<ymax><ext>.
func TileName(source string, b geom.Bounds) string {
	ext := filepath.Ext(source)
	stem := strings.TrimSuffix(filepath.Base(source), ext)
	return fmt.Sprintf("%s_%d_%d%s", stem, int(math.Round(b.Min.X)), int(math.Round(b.Max.Y)), ext)
}
