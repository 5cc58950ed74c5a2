package raster

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/tberends/heron/internal/cloud"
)

func TestParseStatistic(t *testing.T) {
	for _, s := range []string{"mean", "median", "mode"} {
		if _, err := ParseStatistic(s); err != nil {
			t.Errorf("ParseStatistic(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseStatistic("average"); err == nil {
		t.Error("ParseStatistic should reject unknown names")
	}
}

func TestReductions(t *testing.T) {
	zs := []float64{1, 1, 2, 5}
	if got := MeanOf(zs); got != 2.25 {
		t.Errorf("MeanOf = %g, want 2.25", got)
	}
	if got := MedianOf(zs); got != 1.5 {
		t.Errorf("MedianOf = %g, want 1.5", got)
	}
	if got := ModeOf(zs); got != 1 {
		t.Errorf("ModeOf = %g, want 1", got)
	}
	if got := MedianOf([]float64{1, 2, 9}); got != 2 {
		t.Errorf("MedianOf odd count = %g, want 2", got)
	}
}

func TestModeTieBreaksLow(t *testing.T) {
	// 1 and 2 both occur twice; the smaller value wins.
	if got := ModeOf([]float64{1, 1, 2, 2, 5}); got != 1 {
		t.Errorf("ModeOf tie = %g, want 1", got)
	}
	// Values within 0.01 quantize together.
	if got := ModeOf([]float64{1.001, 0.999, 7}); got != 1 {
		t.Errorf("ModeOf quantized = %g, want 1", got)
	}
}

func TestAggregateCells(t *testing.T) {
	pts := cloud.PointSet{
		{X: 0.2, Y: 0.3, Z: 1},
		{X: 0.7, Y: 0.9, Z: 1},
		{X: 0.5, Y: 0.5, Z: 2},
		{X: 0.1, Y: 0.1, Z: 5},
		{X: 2.5, Y: 0.5, Z: 3}, // its own cell
	}
	g, err := Aggregate(pts, Mean)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if g.Cols != 3 || g.Rows != 1 {
		t.Fatalf("grid is %dx%d, want 3x1", g.Cols, g.Rows)
	}
	if g.OriginX != 0 || g.OriginY != 0 {
		t.Errorf("origin (%g,%g), want (0,0)", g.OriginX, g.OriginY)
	}
	if got := g.At(0, 0); got != 2.25 {
		t.Errorf("cell (0,0) = %g, want mean 2.25", got)
	}
	if got := g.At(1, 0); got != g.NoData {
		t.Errorf("cell (1,0) = %g, want no-data %g", got, g.NoData)
	}
	if got := g.At(2, 0); got != 3 {
		t.Errorf("cell (2,0) = %g, want 3", got)
	}
}

func TestAggregateFloorAlignedOrigin(t *testing.T) {
	pts := cloud.PointSet{{X: 12.7, Y: -3.2, Z: 1}}
	g, err := Aggregate(pts, Mode)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if g.OriginX != 12 || g.OriginY != -4 {
		t.Errorf("origin (%g,%g), want floor-aligned (12,-4)", g.OriginX, g.OriginY)
	}
	if g.Cols != 1 || g.Rows != 1 {
		t.Errorf("grid is %dx%d, want 1x1", g.Cols, g.Rows)
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := make(cloud.PointSet, 500)
	for i := range pts {
		pts[i] = cloud.Point{
			X: rng.Float64() * 10,
			Y: rng.Float64() * 10,
			Z: rng.Float64()*4 - 2,
		}
	}
	want, err := Aggregate(pts, Mean)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	shuffled := make(cloud.PointSet, len(pts))
	copy(shuffled, pts)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	got, err := Aggregate(shuffled, Mean)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	for i := range want.Values {
		if got.Values[i] != want.Values[i] {
			t.Fatalf("cell %d differs across permutations: %v vs %v", i, got.Values[i], want.Values[i])
		}
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	if _, err := Aggregate(nil, Mean); !errors.Is(err, cloud.ErrEmptyInput) {
		t.Errorf("Aggregate(nil) error = %v, want ErrEmptyInput", err)
	}
}

func TestAggregateBadStatistic(t *testing.T) {
	pts := cloud.PointSet{{X: 0, Y: 0, Z: 1}}
	if _, err := Aggregate(pts, Statistic("max")); err == nil {
		t.Error("Aggregate should reject unknown statistics")
	}
}

func TestMosaicAveragesOverlap(t *testing.T) {
	left, err := Aggregate(cloud.PointSet{
		{X: 0.5, Y: 0.5, Z: 2},
		{X: 1.5, Y: 0.5, Z: 4},
	}, Mean)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	right, err := Aggregate(cloud.PointSet{
		{X: 1.5, Y: 0.5, Z: 6},
		{X: 2.5, Y: 0.5, Z: 8},
	}, Mean)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	m, err := Mosaic([]*Grid{left, right})
	if err != nil {
		t.Fatalf("Mosaic failed: %v", err)
	}
	if m.Cols != 3 || m.Rows != 1 {
		t.Fatalf("mosaic is %dx%d, want 3x1", m.Cols, m.Rows)
	}
	if got := m.At(0, 0); got != 2 {
		t.Errorf("cell (0,0) = %g, want 2", got)
	}
	// The seam cell appears in both grids and is averaged.
	if got := m.At(1, 0); got != 5 {
		t.Errorf("seam cell = %g, want (4+6)/2 = 5", got)
	}
	if got := m.At(2, 0); got != 8 {
		t.Errorf("cell (2,0) = %g, want 8", got)
	}
}

func TestMosaicNoDataTransparent(t *testing.T) {
	a, err := Aggregate(cloud.PointSet{
		{X: 0.5, Y: 0.5, Z: 1},
		{X: 2.5, Y: 0.5, Z: 1}, // leaves a no-data gap at column 1
	}, Mean)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	b, err := Aggregate(cloud.PointSet{{X: 1.5, Y: 0.5, Z: 9}}, Mean)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	m, err := Mosaic([]*Grid{a, b})
	if err != nil {
		t.Fatalf("Mosaic failed: %v", err)
	}
	// b fills a's gap; a's no-data must not drag the value down.
	if got := m.At(1, 0); got != 9 {
		t.Errorf("gap cell = %g, want 9", got)
	}
}

func TestMosaicEmpty(t *testing.T) {
	if _, err := Mosaic(nil); err == nil {
		t.Error("Mosaic of zero grids should fail")
	}
}

func TestWriteASCIIGrid(t *testing.T) {
	g, err := Aggregate(cloud.PointSet{
		{X: 0.5, Y: 0.5, Z: 1},
		{X: 1.5, Y: 1.5, Z: 2},
	}, Mean)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	var sb strings.Builder
	if err := WriteASCIIGrid(&sb, g); err != nil {
		t.Fatalf("WriteASCIIGrid failed: %v", err)
	}
	want := "ncols 2\n" +
		"nrows 2\n" +
		"xllcorner 0\n" +
		"yllcorner 0\n" +
		"cellsize 1\n" +
		"NODATA_value -9999\n" +
		"-9999 2\n" + // top row first
		"1 -9999\n"
	if sb.String() != want {
		t.Errorf("ASCII grid mismatch:\ngot:\n%swant:\n%s", sb.String(), want)
	}
}

func TestCellLookup(t *testing.T) {
	g := &Grid{OriginX: 10, OriginY: 20, Cols: 5, Rows: 3, CellSize: CellSize}
	col, row, ok := g.Cell(12.3, 21.9)
	if !ok || col != 2 || row != 1 {
		t.Errorf("Cell(12.3,21.9) = (%d,%d,%v), want (2,1,true)", col, row, ok)
	}
	if _, _, ok := g.Cell(9.9, 20); ok {
		t.Error("coordinate left of the origin should be outside the grid")
	}
	if _, _, ok := g.Cell(10, 23+math.SmallestNonzeroFloat64); ok {
		t.Error("coordinate above the top edge should be outside the grid")
	}
}
