package report

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/tberends/heron/internal/zonal"
)

// WriteZonalChart renders the per-waterdeel statistics as an HTML bar
// chart. Water bodies without points are drawn with a zero-height bar and
// flagged in the tooltip rather than dropped, so gaps in coverage stay
// visible.
func WriteZonalChart(table zonal.Table, statistic, path string) error {
	ids := table.IDs()
	if len(ids) == 0 {
		return fmt.Errorf("zonal table is empty")
	}

	data := make([]opts.BarData, len(ids))
	for i, id := range ids {
		e := table[id]
		if e.Count == 0 {
			data[i] = opts.BarData{Value: 0, Name: fmt.Sprintf("%s (no data)", id)}
			continue
		}
		data[i] = opts.BarData{Value: e.Value, Name: fmt.Sprintf("%s (%d points)", id, e.Count)}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Water level per waterdeel (%s z)", statistic),
			Subtitle: fmt.Sprintf("%d water bodies", len(ids)),
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mNAP"}),
	)
	bar.SetXAxis(ids).AddSeries(statistic, data)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create zonal chart: %w", err)
	}
	defer f.Close()
	if err := bar.Render(f); err != nil {
		return fmt.Errorf("render zonal chart: %w", err)
	}
	return nil
}
