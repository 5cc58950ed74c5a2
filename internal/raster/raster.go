// Package raster bins points into a fixed 1x1-unit grid and reduces each
// cell's elevations to one statistic. Grids use a flat row-major cell
// slice addressed through Idx, with an explicit no-data sentinel for cells
// no point fell into.
package raster

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tberends/heron/internal/cloud"
)

// Statistic selects the per-cell (or per-polygon) reduction.
type Statistic string

// Recognised statistics.
const (
	Mean   Statistic = "mean"
	Median Statistic = "median"
	Mode   Statistic = "mode"
)

// ParseStatistic validates a statistic name from configuration.
func ParseStatistic(s string) (Statistic, error) {
	switch Statistic(s) {
	case Mean, Median, Mode:
		return Statistic(s), nil
	}
	return "", fmt.Errorf("unknown statistic %q (want mean, median or mode)", s)
}

// CellSize is fixed at one unit of the projected reference system.
const CellSize = 1.0

// DefaultNoData marks cells without points. It is far outside any
// plausible elevation in the supported reference systems.
const DefaultNoData = -9999.0

// Grid is an aggregated raster. The origin is the lower-left corner,
// floor-aligned to the cell size; Values is row-major with row 0 at the
// bottom (ymin) edge.
type Grid struct {
	OriginX, OriginY float64
	Cols, Rows       int
	CellSize         float64
	NoData           float64
	Values           []float64
}

// Idx returns the flat index of (col,row).
func (g *Grid) Idx(col, row int) int { return row*g.Cols + col }

// At returns the value at (col,row).
func (g *Grid) At(col, row int) float64 { return g.Values[g.Idx(col, row)] }

// Cell returns the (col,row) owning planar coordinate (x,y) and whether it
// lies inside the grid.
func (g *Grid) Cell(x, y float64) (col, row int, ok bool) {
	col = int(math.Floor((x - g.OriginX) / g.CellSize))
	row = int(math.Floor((y - g.OriginY) / g.CellSize))
	return col, row, col >= 0 && col < g.Cols && row >= 0 && row < g.Rows
}

// newGrid allocates a grid filled with the no-data sentinel.
func newGrid(originX, originY float64, cols, rows int) *Grid {
	g := &Grid{
		OriginX:  originX,
		OriginY:  originY,
		Cols:     cols,
		Rows:     rows,
		CellSize: CellSize,
		NoData:   DefaultNoData,
		Values:   make([]float64, cols*rows),
	}
	for i := range g.Values {
		g.Values[i] = g.NoData
	}
	return g
}

// Aggregate bins pts into 1x1 cells covering their bounding box and
// reduces each cell with stat. The result is independent of input order:
// every cell's elevations are sorted before reduction, so even float
// summation rounds identically across permutations.
func Aggregate(pts cloud.PointSet, statistic Statistic) (*Grid, error) {
	if err := pts.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParseStatistic(string(statistic)); err != nil {
		return nil, err
	}
	b := pts.Bounds()
	originX := math.Floor(b.Min.X)
	originY := math.Floor(b.Min.Y)
	cols := int(math.Floor(b.Max.X)-originX) + 1
	rows := int(math.Floor(b.Max.Y)-originY) + 1
	g := newGrid(originX, originY, cols, rows)

	cells := make(map[int][]float64)
	for _, p := range pts {
		col, row, ok := g.Cell(p.X, p.Y)
		if !ok {
			continue
		}
		idx := g.Idx(col, row)
		cells[idx] = append(cells[idx], p.Z)
	}
	for idx, zs := range cells {
		sort.Float64s(zs)
		g.Values[idx] = reduce(zs, statistic)
	}
	return g, nil
}

// reduce assumes zs is sorted and non-empty.
func reduce(zs []float64, statistic Statistic) float64 {
	switch statistic {
	case Median:
		return MedianOf(zs)
	case Mode:
		return ModeOf(zs)
	default:
		return MeanOf(zs)
	}
}

// MeanOf returns the arithmetic mean of zs.
func MeanOf(zs []float64) float64 { return stat.Mean(zs, nil) }

// MedianOf returns the middle value for odd counts and the average of the
// two middle values for even counts. zs must be sorted.
func MedianOf(zs []float64) float64 {
	n := len(zs)
	if n%2 == 1 {
		return zs[n/2]
	}
	return (zs[n/2-1] + zs[n/2]) / 2
}

// ModeOf returns the most frequent elevation after quantizing to the
// nearest 0.01 unit. Ties break towards the smallest quantized value, so
// the result is independent of input order.
func ModeOf(zs []float64) float64 {
	counts := make(map[float64]int, len(zs))
	for _, z := range zs {
		counts[quantize(z)]++
	}
	best := math.Inf(1)
	bestCount := 0
	for z, c := range counts {
		if c > bestCount || (c == bestCount && z < best) {
			best, bestCount = z, c
		}
	}
	return best
}

// quantize snaps z to the documented 0.01-unit mode precision.
func quantize(z float64) float64 { return math.Round(z*100) / 100 }
