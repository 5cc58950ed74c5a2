// Command heron runs the water-level point pipeline over a decoded point
// cloud: optional tiling, the configured filter chain, raster aggregation
// and per-waterdeel zonal statistics, plus file reports and SQLite
// persistence of the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ctessum/geom"

	"github.com/tberends/heron/internal/cloud"
	"github.com/tberends/heron/internal/config"
	"github.com/tberends/heron/internal/pipeline"
	"github.com/tberends/heron/internal/raster"
	"github.com/tberends/heron/internal/report"
	"github.com/tberends/heron/internal/storage"
	"github.com/tberends/heron/internal/waterdelen"
)

var (
	input           = flag.String("input", "", "Input point CSV (X,Y,Z,classification)")
	outputDir       = flag.String("output-dir", "data/output", "Directory for output artifacts")
	configPath      = flag.String("config", "", "Optional JSON config file")
	waterdeelFile   = flag.String("waterdeel", "", "Waterdeel GeoJSON file")
	fetchWaterdelen = flag.Bool("fetch-waterdelen", false, "Download waterdelen from the PDOK BGT API for the input extent")
	fetchBuffer     = flag.Float64("fetch-buffer", 100, "Extent buffer in units when fetching waterdelen")
	dbFile          = flag.String("db", "", "Optional SQLite results database")
	migrationsDir   = flag.String("migrations", "migrations", "Schema migrations directory")
	freqCoord       = flag.String("freq", "", "Probe coordinate \"x,y\" for a frequency diagram")
)

func main() {
	flag.Parse()
	if *input == "" {
		flag.Usage()
		log.Fatal("missing -input")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	opts, err := cfg.PipelineOptions()
	if err != nil {
		return err
	}

	f, err := os.Open(*input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	pts, err := cloud.ReadAll(ctx, cloud.NewCSVSource(f), cfg.BatchPointCount)
	if err != nil {
		return fmt.Errorf("read %s: %w", *input, err)
	}
	log.Printf("total points: %d", len(pts))

	bodies, err := loadWaterdelen(ctx, pts)
	if err != nil {
		return err
	}
	log.Printf("waterdelen: %d", len(bodies))

	pl, err := pipeline.New(opts, bodies)
	if err != nil {
		return err
	}
	started := time.Now()
	res, err := pl.RunSet(ctx, pts, filepath.Base(*input))
	if err != nil {
		return err
	}
	log.Printf("points after filtering: %d", res.RetainedPoints)
	for _, ge := range res.GeometryFailures {
		log.Printf("skipped waterdeel %s: %v", ge.WaterBodyID, ge.Err)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		return err
	}
	if err := writeOutputs(res, cfg); err != nil {
		return err
	}
	if *dbFile != "" {
		if err := persist(ctx, res, cfg, started); err != nil {
			return err
		}
	}
	return nil
}

// loadWaterdelen reads polygons from a file or downloads them for the
// buffered extent of the input points.
func loadWaterdelen(ctx context.Context, pts cloud.PointSet) ([]waterdelen.WaterBody, error) {
	if *waterdeelFile != "" {
		data, err := os.ReadFile(*waterdeelFile)
		if err != nil {
			return nil, fmt.Errorf("read waterdeel file: %w", err)
		}
		return waterdelen.FromGeoJSON(data)
	}
	if !*fetchWaterdelen {
		return nil, nil
	}
	b := pts.Bounds()
	bbox := geom.Bounds{
		Min: geom.Point{X: b.Min.X - *fetchBuffer, Y: b.Min.Y - *fetchBuffer},
		Max: geom.Point{X: b.Max.X + *fetchBuffer, Y: b.Max.Y + *fetchBuffer},
	}
	return waterdelen.NewClient().Download(ctx, bbox)
}

func writeOutputs(res *pipeline.Result, cfg config.Config) error {
	csvPath := filepath.Join(*outputDir, res.Name+".csv")
	cf, err := os.Create(csvPath)
	if err != nil {
		return err
	}
	defer cf.Close()
	if err := cloud.WriteCSV(cf, res.Points); err != nil {
		return fmt.Errorf("write %s: %w", csvPath, err)
	}
	log.Printf("wrote %s", csvPath)

	if res.Grid != nil {
		ascPath := filepath.Join(*outputDir, res.Name+".asc")
		af, err := os.Create(ascPath)
		if err != nil {
			return err
		}
		defer af.Close()
		if err := raster.WriteASCIIGrid(af, res.Grid); err != nil {
			return fmt.Errorf("write %s: %w", ascPath, err)
		}
		log.Printf("wrote %s (%dx%d cells, %s)", ascPath, res.Grid.Cols, res.Grid.Rows, cfg.RasterAveragingMode)
	}

	if len(res.Zonal) > 0 {
		htmlPath := filepath.Join(*outputDir, res.Name+"_zonal.html")
		if err := report.WriteZonalChart(res.Zonal, cfg.PolygonStatistic, htmlPath); err != nil {
			return err
		}
		log.Printf("wrote %s", htmlPath)
	}

	if *freqCoord != "" {
		x, y, err := parseCoord(*freqCoord)
		if err != nil {
			return err
		}
		pngPath := filepath.Join(*outputDir, res.Name+"_frequencydiagram.png")
		if err := report.WriteFrequencyDiagram(res.Points, x, y, 1, pngPath); err != nil {
			return err
		}
		log.Printf("wrote %s", pngPath)
	}
	return nil
}

func persist(ctx context.Context, res *pipeline.Result, cfg config.Config, started time.Time) error {
	db, err := storage.Open(*dbFile)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.MigrateUp(*migrationsDir); err != nil {
		return err
	}
	runID, err := db.RecordRun(ctx, storage.Run{
		Source:         filepath.Base(*input),
		OutputName:     res.Name,
		TotalPoints:    res.TotalPoints,
		RetainedPoints: res.RetainedPoints,
		RasterMode:     cfg.RasterAveragingMode,
		StartedAt:      started,
		FinishedAt:     time.Now(),
	})
	if err != nil {
		return err
	}
	if len(res.Zonal) > 0 {
		if err := db.RecordZonal(ctx, runID, cfg.PolygonStatistic, res.Zonal); err != nil {
			return err
		}
	}
	log.Printf("recorded run %s", runID)
	return nil
}

func parseCoord(s string) (x, y float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("coordinate must be \"x,y\", got %q", s)
	}
	if x, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, fmt.Errorf("parse x %q: %w", parts[0], err)
	}
	if y, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, fmt.Errorf("parse y %q: %w", parts[1], err)
	}
	return x, y, nil
}
