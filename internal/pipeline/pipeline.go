// Package pipeline wires the processing stages together: optional tile
// partitioning to bound memory, the configured filter chain per tile, and
// the raster/zonal aggregations over the survivors.
//
// Tiles are mutually independent, so the filter and per-tile raster work
// fans out across a bounded worker pool; only final outputs are merged
// (raster mosaic, concatenated point sets).
package pipeline

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tberends/heron/internal/cloud"
	"github.com/tberends/heron/internal/filter"
	"github.com/tberends/heron/internal/partition"
	"github.com/tberends/heron/internal/raster"
	"github.com/tberends/heron/internal/waterdelen"
	"github.com/tberends/heron/internal/zonal"
)

// Options is the configuration surface the pipeline consumes. Zero values
// disable the corresponding stage.
type Options struct {
	// Tiling. Both dimensions must be positive to enable partitioning.
	MaxTileWidth  float64
	MaxTileHeight float64
	// BatchPointCount bounds how many points are read per source call.
	BatchPointCount int

	// Filter chain.
	FilterGeometries bool
	FilterMinMax     bool
	MinPeil          float64
	MaxPeil          float64
	FilterCenterline bool
	BufferDistance   float64
	ReferenceDate    *time.Time

	// Aggregation. Empty statistics disable the respective output.
	RasterStatistic raster.Statistic
	ZonalStatistic  raster.Statistic

	// Workers bounds tile-level parallelism; 0 means GOMAXPROCS.
	Workers int
}

// Result bundles everything one run produces.
type Result struct {
	// Name is the output stem: the source stem plus one abbreviation per
	// filter that ran, e.g. "X126000Y500000_spatial_minmax".
	Name             string
	TotalPoints      int
	RetainedPoints   int
	Points           cloud.PointSet
	Grid             *raster.Grid
	Zonal            zonal.Table
	GeometryFailures []*filter.GeometryError
}

// Pipeline is a configured, reusable run plan over one water-body set.
type Pipeline struct {
	opts    Options
	bodies  []waterdelen.WaterBody
	filters []filter.Filter
	geoErrs []*filter.GeometryError
}

// New builds the filter chain for opts. Centerline extraction failures are
// collected per polygon, not fatal; they surface on every Result.
func New(opts Options, bodies []waterdelen.WaterBody) (*Pipeline, error) {
	p := &Pipeline{opts: opts, bodies: bodies}
	if opts.FilterGeometries {
		p.filters = append(p.filters, filter.NewMembership(bodies, opts.ReferenceDate))
	}
	if opts.FilterMinMax {
		if opts.MinPeil >= opts.MaxPeil {
			return nil, fmt.Errorf("pipeline: min_peil %g must be below max_peil %g", opts.MinPeil, opts.MaxPeil)
		}
		p.filters = append(p.filters, filter.HeightRange{Min: opts.MinPeil, Max: opts.MaxPeil})
	}
	if opts.FilterCenterline {
		cp, failures, err := filter.NewCenterlineProximity(waterdelen.FilterValidAt(bodies, opts.ReferenceDate), opts.BufferDistance)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		for _, f := range failures {
			log.Printf("pipeline: skipping waterdeel %s: %v", f.WaterBodyID, f.Err)
		}
		p.geoErrs = failures
		p.filters = append(p.filters, cp)
	}
	if opts.RasterStatistic != "" {
		if _, err := raster.ParseStatistic(string(opts.RasterStatistic)); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	return p, nil
}

// Run drains src and produces the configured outputs. sourceName is the
// original artifact name used to derive output stems.
func (p *Pipeline) Run(ctx context.Context, src cloud.Source, sourceName string) (*Result, error) {
	pts, err := cloud.ReadAll(ctx, src, p.opts.BatchPointCount)
	if err != nil {
		return nil, err
	}
	return p.RunSet(ctx, pts, sourceName)
}

// RunSet processes an already-resident point set.
func (p *Pipeline) RunSet(ctx context.Context, pts cloud.PointSet, sourceName string) (*Result, error) {
	if err := pts.Validate(); err != nil {
		return nil, err
	}
	res := &Result{
		Name:             outputName(sourceName, p.filters),
		TotalPoints:      len(pts),
		GeometryFailures: p.geoErrs,
	}

	var tileGrids []*raster.Grid
	if p.opts.MaxTileWidth > 0 && p.opts.MaxTileHeight > 0 {
		part, err := partition.New(*pts.Bounds(), p.opts.MaxTileWidth, p.opts.MaxTileHeight)
		if err != nil {
			return nil, err
		}
		part.Assign(pts)
		filtered, grids, err := p.processTiles(ctx, part.Tiles())
		if err != nil {
			return nil, err
		}
		res.Points = filtered
		tileGrids = grids
	} else {
		filtered, err := filter.Chain(pts, p.filters...)
		if err != nil {
			return nil, err
		}
		res.Points = filtered
		if p.opts.RasterStatistic != "" && len(filtered) > 0 {
			g, err := raster.Aggregate(filtered, p.opts.RasterStatistic)
			if err != nil {
				return nil, err
			}
			tileGrids = []*raster.Grid{g}
		}
	}
	res.RetainedPoints = len(res.Points)

	if len(tileGrids) > 0 {
		g, err := raster.Mosaic(tileGrids)
		if err != nil {
			return nil, err
		}
		res.Grid = g
	}
	if p.opts.ZonalStatistic != "" && len(p.bodies) > 0 {
		bodies := waterdelen.FilterValidAt(p.bodies, p.opts.ReferenceDate)
		table, err := zonal.Aggregate(res.Points, bodies, p.opts.ZonalStatistic)
		if err != nil {
			return nil, err
		}
		res.Zonal = table
	}
	return res, nil
}

// processTiles filters (and optionally rasterizes) every tile across a
// bounded worker pool. Tiles share no state; outputs merge afterwards.
func (p *Pipeline) processTiles(ctx context.Context, tiles []partition.Tile) (cloud.PointSet, []*raster.Grid, error) {
	workers := p.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(tiles) {
		workers = len(tiles)
	}

	outs := make([]tileOut, len(tiles))
	idxCh := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				outs[i] = p.processTile(tiles[i])
			}
		}()
	}
	for i := range tiles {
		select {
		case <-ctx.Done():
			close(idxCh)
			wg.Wait()
			return nil, nil, ctx.Err()
		case idxCh <- i:
		}
	}
	close(idxCh)
	wg.Wait()

	var filtered cloud.PointSet
	var grids []*raster.Grid
	for _, o := range outs {
		if o.err != nil {
			return nil, nil, o.err
		}
		filtered = append(filtered, o.points...)
		if o.grid != nil {
			grids = append(grids, o.grid)
		}
	}
	return filtered, grids, nil
}

type tileOut struct {
	points cloud.PointSet
	grid   *raster.Grid
	err    error
}

func (p *Pipeline) processTile(t partition.Tile) (out tileOut) {
	if len(t.Points) == 0 {
		return out
	}
	pts, err := filter.Chain(cloud.PointSet(t.Points), p.filters...)
	if err != nil {
		out.err = err
		return out
	}
	out.points = pts
	if p.opts.RasterStatistic != "" && len(pts) > 0 {
		g, err := raster.Aggregate(pts, p.opts.RasterStatistic)
		if err != nil {
			out.err = err
			return out
		}
		out.grid = g
	}
	return out
}

// outputName chains filter abbreviations onto the source stem.
func outputName(sourceName string, filters []filter.Filter) string {
	stem := sourceName
	if i := strings.LastIndex(stem, "."); i > 0 {
		stem = stem[:i]
	}
	parts := []string{stem}
	for _, f := range filters {
		parts = append(parts, f.Name())
	}
	return strings.Join(parts, "_")
}
