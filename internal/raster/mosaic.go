package raster

import (
	"fmt"
	"math"
)

// Mosaic merges grids into one grid covering their union. Where several
// grids carry a valid value for the same cell (tile seams), the values are
// averaged; no-data cells are transparent. All inputs must share the same
// cell size and 1x1 alignment.
func Mosaic(grids []*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("mosaic: no grids to merge")
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, g := range grids {
		if g.CellSize != CellSize {
			return nil, fmt.Errorf("mosaic: grid cell size %g, want %g", g.CellSize, CellSize)
		}
		minX = math.Min(minX, g.OriginX)
		minY = math.Min(minY, g.OriginY)
		maxX = math.Max(maxX, g.OriginX+float64(g.Cols)*g.CellSize)
		maxY = math.Max(maxY, g.OriginY+float64(g.Rows)*g.CellSize)
	}
	out := newGrid(minX, minY, int(math.Round(maxX-minX)), int(math.Round(maxY-minY)))

	sums := make([]float64, len(out.Values))
	counts := make([]int, len(out.Values))
	for _, g := range grids {
		colOff := int(math.Round(g.OriginX - out.OriginX))
		rowOff := int(math.Round(g.OriginY - out.OriginY))
		for row := 0; row < g.Rows; row++ {
			for col := 0; col < g.Cols; col++ {
				v := g.At(col, row)
				if v == g.NoData {
					continue
				}
				idx := out.Idx(col+colOff, row+rowOff)
				sums[idx] += v
				counts[idx]++
			}
		}
	}
	for i := range out.Values {
		if counts[i] > 0 {
			out.Values[i] = sums[i] / float64(counts[i])
		}
	}
	return out, nil
}
