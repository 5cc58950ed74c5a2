// Package config loads run configuration from JSON files. Fields omitted
// from a file keep their defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tberends/heron/internal/pipeline"
	"github.com/tberends/heron/internal/raster"
)

// maxFileSize caps config files at 1MB.
const maxFileSize = 1 * 1024 * 1024

// dateLayout is the reference-date format in config files.
const dateLayout = "2006-01-02"

// Config is the full option surface of one pipeline run. The raster cell
// size is fixed at one unit and intentionally not configurable.
type Config struct {
	// Partitioning
	MaxTileWidth    float64 `json:"max_tile_width"`
	MaxTileHeight   float64 `json:"max_tile_height"`
	BatchPointCount int     `json:"batch_point_count"`

	// Filters
	FilterGeometries bool    `json:"filter_geometries"`
	FilterMinMax     bool    `json:"filter_minmax"`
	MinPeil          float64 `json:"min_peil"`
	MaxPeil          float64 `json:"max_peil"`
	FilterCenterline bool    `json:"filter_centerline"`
	BufferDistance   float64 `json:"buffer_distance"`
	ReferenceDate    string  `json:"reference_date,omitempty"`

	// Aggregation
	RasterAveragingMode string `json:"raster_averaging_mode"`
	PolygonStatistic    string `json:"polygon_statistic"`

	// Workers bounds tile-level parallelism; 0 means all CPUs.
	Workers int `json:"workers"`
}

// Default returns the configuration matching the original tool defaults.
func Default() Config {
	return Config{
		BatchPointCount:     1_000_000,
		MinPeil:             -1,
		MaxPeil:             1,
		BufferDistance:      2,
		RasterAveragingMode: string(raster.Mode),
		PolygonStatistic:    string(raster.Mean),
	}
}

// Load reads a JSON config file over the defaults. The path must carry a
// .json extension and stay under the size cap.
func Load(path string) (Config, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints without touching I/O.
func (c Config) Validate() error {
	if (c.MaxTileWidth > 0) != (c.MaxTileHeight > 0) {
		return fmt.Errorf("max tile size needs both dimensions, got %gx%g", c.MaxTileWidth, c.MaxTileHeight)
	}
	if c.BatchPointCount < 0 {
		return fmt.Errorf("batch_point_count %d must not be negative", c.BatchPointCount)
	}
	if c.FilterMinMax && c.MinPeil >= c.MaxPeil {
		return fmt.Errorf("min_peil %g must be below max_peil %g", c.MinPeil, c.MaxPeil)
	}
	if c.FilterCenterline && c.BufferDistance < 0 {
		return fmt.Errorf("buffer_distance %g must not be negative", c.BufferDistance)
	}
	if c.RasterAveragingMode != "" {
		if _, err := raster.ParseStatistic(c.RasterAveragingMode); err != nil {
			return fmt.Errorf("raster_averaging_mode: %w", err)
		}
	}
	if c.PolygonStatistic != "" {
		s := raster.Statistic(c.PolygonStatistic)
		if s != raster.Mean && s != raster.Median {
			return fmt.Errorf("polygon_statistic %q must be mean or median", c.PolygonStatistic)
		}
	}
	if _, err := c.referenceDate(); err != nil {
		return err
	}
	return nil
}

func (c Config) referenceDate() (*time.Time, error) {
	if c.ReferenceDate == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, c.ReferenceDate)
	if err != nil {
		return nil, fmt.Errorf("reference_date %q: %w", c.ReferenceDate, err)
	}
	return &t, nil
}

// PipelineOptions converts the validated config into pipeline options.
func (c Config) PipelineOptions() (pipeline.Options, error) {
	if err := c.Validate(); err != nil {
		return pipeline.Options{}, err
	}
	refDate, err := c.referenceDate()
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		MaxTileWidth:     c.MaxTileWidth,
		MaxTileHeight:    c.MaxTileHeight,
		BatchPointCount:  c.BatchPointCount,
		FilterGeometries: c.FilterGeometries,
		FilterMinMax:     c.FilterMinMax,
		MinPeil:          c.MinPeil,
		MaxPeil:          c.MaxPeil,
		FilterCenterline: c.FilterCenterline,
		BufferDistance:   c.BufferDistance,
		ReferenceDate:    refDate,
		RasterStatistic:  raster.Statistic(c.RasterAveragingMode),
		ZonalStatistic:   raster.Statistic(c.PolygonStatistic),
		Workers:          c.Workers,
	}, nil
}
