// Package zonal computes per-polygon statistics over the elevations of
// contained points. Unlike the membership filter, containment is evaluated
// per polygon rather than per union: a point inside two overlapping water
// bodies contributes to both entries.
package zonal

import (
	"fmt"
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/tberends/heron/internal/cloud"
	"github.com/tberends/heron/internal/raster"
	"github.com/tberends/heron/internal/waterdelen"
)

// Entry is the aggregated statistic for one water body. Count == 0 marks a
// polygon that contained no points; its Value is meaningless (no-data).
type Entry struct {
	Value float64
	Count int
}

// Table maps water-body identifiers to their aggregated statistic. Every
// input polygon has an entry, including empty ones.
type Table map[string]Entry

// indexedBody is one water body as stored in the rtree. The embedded
// polygon satisfies the tree's geometry interface; idx points back into
// the bodies slice.
type indexedBody struct {
	geom.Polygon
	idx int
}

// Aggregate computes statistic over the z values of the points contained
// in each body. Only mean and median are supported for zonal output.
func Aggregate(pts cloud.PointSet, bodies []waterdelen.WaterBody, statistic raster.Statistic) (Table, error) {
	if statistic != raster.Mean && statistic != raster.Median {
		return nil, fmt.Errorf("zonal statistic %q not supported (want mean or median)", statistic)
	}

	tree := rtree.NewTree(25, 50)
	for i, wb := range bodies {
		tree.Insert(indexedBody{Polygon: wb.Geom, idx: i})
	}

	zs := make([][]float64, len(bodies))
	for _, p := range pts {
		pt := geom.Point{X: p.X, Y: p.Y}
		probe := &geom.Bounds{Min: pt, Max: pt}
		for _, hit := range tree.SearchIntersect(probe) {
			wb := hit.(indexedBody)
			if within(pt, wb.Polygon) {
				zs[wb.idx] = append(zs[wb.idx], p.Z)
			}
		}
	}

	table := make(Table, len(bodies))
	for i, wb := range bodies {
		vals := zs[i]
		if len(vals) == 0 {
			table[wb.ID] = Entry{}
			continue
		}
		sort.Float64s(vals)
		e := Entry{Count: len(vals)}
		if statistic == raster.Median {
			e.Value = raster.MedianOf(vals)
		} else {
			e.Value = raster.MeanOf(vals)
		}
		table[wb.ID] = e
	}
	return table, nil
}

// within treats on-edge points as contained, matching the membership filter.
func within(p geom.Point, poly geom.Polygon) bool {
	switch p.Within(poly) {
	case geom.Inside, geom.OnEdge:
		return true
	}
	return false
}

// IDs returns the table's keys in sorted order for deterministic output.
func (t Table) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
