// Package plot renders averaged checkpoint profiles as PNG line charts.
package plot

import (
	"errors"
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/gradient/experiment"
)

const (
	width  = 1024
	height = 512
)

// RenderProfiles draws mean population against position, one line per checkpoint.
func RenderProfiles(w io.Writer, profiles []experiment.Profile) error {
	return render(w, profiles, "population", func(p experiment.Profile) []float64 { return p.PopulationMean })
}

// RenderGrowth draws the mean founder growth rate against position, one line per checkpoint.
func RenderGrowth(w io.Writer, profiles []experiment.Profile) error {
	return render(w, profiles, "growth rate", func(p experiment.Profile) []float64 { return p.GrowthMean })
}

func render(w io.Writer, profiles []experiment.Profile, yName string, values func(experiment.Profile) []float64) error {
	if len(profiles) == 0 {
		return errors.New("no profiles to plot")
	}
	length := len(values(profiles[0]))
	if length == 0 {
		return errors.New("empty profile")
	}

	xs := make([]float64, length)
	for i := range xs {
		xs[i] = float64(i)
	}

	yMax := 0.0
	series := make([]chart.Series, 0, len(profiles))
	for k, p := range profiles {
		ys := values(p)
		if len(ys) != length {
			return fmt.Errorf("checkpoint %d has %d sites, want %d", p.Index, len(ys), length)
		}
		yMax = max(yMax, floats.Max(ys))
		series = append(series, chart.ContinuousSeries{
			Name:    fmt.Sprintf("t=%g", p.Target),
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeColor: shade(k, len(profiles)), StrokeWidth: 2.0},
		})
	}
	if yMax <= 0 {
		yMax = 1
	}

	graph := chart.Chart{
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			Name:  "site",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: max(float64(length-1), 1)},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Name:  yName,
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: yMax * 1.05},
		},
		Series: series,
	}
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("rendering %s chart: %w", yName, err)
	}
	return nil
}

// shade fades from blue at the first checkpoint to red at the last.
func shade(k, n int) drawing.Color {
	f := 0.0
	if n > 1 {
		f = float64(k) / float64(n-1)
	}
	return drawing.Color{R: uint8(255 * f), G: 64, B: uint8(255 * (1 - f)), A: 255}
}
