// Package report renders file-based summaries of a run: a frequency
// diagram of elevations around a probe location and an HTML chart of the
// zonal statistics. Rendering is an output collaborator; the pipeline
// itself never imports this package.
package report

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/tberends/heron/internal/cloud"
	"github.com/tberends/heron/internal/raster"
)

// histogramBins matches the original frequency diagram resolution.
const histogramBins = 100

// WriteFrequencyDiagram plots a histogram of the z values of all points
// within radius of (x,y) and saves it as a PNG. The title names the most
// common elevation, which is the value a surveyor reads off as the water
// level at that spot. Returns an error when no point falls in the buffer.
func WriteFrequencyDiagram(pts cloud.PointSet, x, y, radius float64, path string) error {
	var zs []float64
	for _, p := range pts {
		if math.Hypot(p.X-x, p.Y-y) <= radius {
			zs = append(zs, p.Z)
		}
	}
	if len(zs) == 0 {
		return fmt.Errorf("no points within %g of (%g,%g)", radius, x, y)
	}

	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Most common z-value: %.2f mNAP (%d points)", raster.ModeOf(zs), len(zs))
	pl.X.Label.Text = "Waterlevel (mNAP)"
	pl.Y.Label.Text = "Number of points"

	h, err := plotter.NewHist(plotter.Values(zs), histogramBins)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	pl.Add(h)

	if err := pl.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save frequency diagram: %w", err)
	}
	return nil
}
