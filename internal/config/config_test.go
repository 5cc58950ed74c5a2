package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tberends/heron/internal/raster"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.BatchPointCount != 1_000_000 {
		t.Errorf("BatchPointCount = %d, want 1000000", cfg.BatchPointCount)
	}
	if cfg.MinPeil != -1 || cfg.MaxPeil != 1 {
		t.Errorf("peil band = (%g,%g), want (-1,1)", cfg.MinPeil, cfg.MaxPeil)
	}
	if cfg.BufferDistance != 2 {
		t.Errorf("BufferDistance = %g, want 2", cfg.BufferDistance)
	}
	if cfg.RasterAveragingMode != "mode" || cfg.PolygonStatistic != "mean" {
		t.Errorf("statistics = %q/%q, want mode/mean", cfg.RasterAveragingMode, cfg.PolygonStatistic)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "run.json", `{
		"max_tile_width": 50,
		"max_tile_height": 64.17,
		"filter_geometries": true,
		"filter_minmax": true,
		"min_peil": -0.5,
		"raster_averaging_mode": "median",
		"reference_date": "2023-06-01"
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxTileWidth != 50 || cfg.MaxTileHeight != 64.17 {
		t.Errorf("tile size = %gx%g, want 50x64.17", cfg.MaxTileWidth, cfg.MaxTileHeight)
	}
	if !cfg.FilterGeometries || !cfg.FilterMinMax {
		t.Error("filter flags not applied")
	}
	if cfg.MinPeil != -0.5 {
		t.Errorf("MinPeil = %g, want -0.5", cfg.MinPeil)
	}
	// Untouched fields keep their defaults.
	if cfg.MaxPeil != 1 || cfg.BatchPointCount != 1_000_000 {
		t.Errorf("defaults clobbered: max_peil=%g batch=%d", cfg.MaxPeil, cfg.BatchPointCount)
	}

	opts, err := cfg.PipelineOptions()
	if err != nil {
		t.Fatalf("PipelineOptions failed: %v", err)
	}
	if opts.RasterStatistic != raster.Median {
		t.Errorf("RasterStatistic = %q, want median", opts.RasterStatistic)
	}
	want := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	if opts.ReferenceDate == nil || !opts.ReferenceDate.Equal(want) {
		t.Errorf("ReferenceDate = %v, want %v", opts.ReferenceDate, want)
	}
}

func TestLoadRejectsWrongExtension(t *testing.T) {
	path := writeConfig(t, "run.yaml", `{}`)
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a non-.json config path")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, "bad.json", `{"max_tile_width": `)
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"one-sided tile size", func(c *Config) { c.MaxTileWidth = 50 }},
		{"negative batch", func(c *Config) { c.BatchPointCount = -1 }},
		{"inverted peil band", func(c *Config) { c.FilterMinMax = true; c.MinPeil = 2 }},
		{"negative buffer", func(c *Config) { c.FilterCenterline = true; c.BufferDistance = -1 }},
		{"unknown raster mode", func(c *Config) { c.RasterAveragingMode = "max" }},
		{"mode as polygon statistic", func(c *Config) { c.PolygonStatistic = "mode" }},
		{"bad reference date", func(c *Config) { c.ReferenceDate = "01-06-2023" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
