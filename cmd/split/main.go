// Command split recursively partitions an oversized point CSV into
// bounded-size tile files so downstream processing stays within memory.
// Tile files are named <stem>_<xmin>_<ymax>.csv after their bounds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"

	"github.com/tberends/heron/internal/cloud"
	"github.com/tberends/heron/internal/partition"
)

var (
	input     = flag.String("input", "", "Input point CSV (X,Y,Z,classification)")
	outputDir = flag.String("output-dir", "data/tiles", "Directory for tile files")
	size      = flag.String("size", "", "Maximum tile size, e.g. 50x64.17")
	batch     = flag.Int("points-per-iter", 1_000_000, "Points read per iteration")
)

func main() {
	flag.Parse()
	if *input == "" || *size == "" {
		flag.Usage()
		log.Fatal("missing -input or -size")
	}
	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	maxW, maxH, err := parseSize(*size)
	if err != nil {
		return err
	}

	// First pass: derive the global bounding box without keeping points.
	bounds, total, err := scanBounds(ctx)
	if err != nil {
		return err
	}
	log.Printf("input: %d points, bounds (%g,%g)-(%g,%g)",
		total, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)

	part, err := partition.New(*bounds, maxW, maxH)
	if err != nil {
		return err
	}

	// Second pass: stream batches into the tiles.
	f, err := os.Open(*input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	if err := part.Consume(ctx, cloud.NewCSVSource(f), *batch); err != nil {
		return err
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		return err
	}
	for _, tile := range part.Tiles() {
		if len(tile.Points) == 0 {
			continue
		}
		name := partition.TileName(filepath.Base(*input), tile.Bounds)
		path := filepath.Join(*outputDir, name)
		tf, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := cloud.WriteCSV(tf, tile.Points); err != nil {
			tf.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := tf.Close(); err != nil {
			return err
		}
		log.Printf("wrote %s (%d points)", path, len(tile.Points))
	}
	return nil
}

// scanBounds streams the input once to derive its bounding box and count.
func scanBounds(ctx context.Context) (*geom.Bounds, int, error) {
	f, err := os.Open(*input)
	if err != nil {
		return nil, 0, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	src := cloud.NewCSVSource(f)
	var bounds *geom.Bounds
	total := 0
	for {
		pts, err := src.Next(ctx, *batch)
		total += len(pts)
		if b := cloud.PointSet(pts).Bounds(); b != nil {
			if bounds == nil {
				bounds = b
			} else {
				bounds.Min.X = math.Min(bounds.Min.X, b.Min.X)
				bounds.Min.Y = math.Min(bounds.Min.Y, b.Min.Y)
				bounds.Max.X = math.Max(bounds.Max.X, b.Max.X)
				bounds.Max.Y = math.Max(bounds.Max.Y, b.Max.Y)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
	}
	if bounds == nil {
		return nil, 0, cloud.ErrEmptyInput
	}
	return bounds, total, nil
}

// parseSize converts "numberxnumber" (e.g. "50x64.17") into dimensions.
func parseSize(s string) (w, h float64, err error) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("size must be in the form numberxnumber, e.g. 50x64.17, got %q", s)
	}
	if w, err = strconv.ParseFloat(parts[0], 64); err != nil {
		return 0, 0, fmt.Errorf("parse size width %q: %w", parts[0], err)
	}
	if h, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return 0, 0, fmt.Errorf("parse size height %q: %w", parts[1], err)
	}
	return w, h, nil
}
