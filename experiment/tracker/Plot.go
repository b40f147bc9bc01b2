package tracker

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotReturns saves a line chart of episodic returns to path, together
// with their moving average over window episodes. The image format is
// chosen from the extension of path.
func PlotReturns(returns []float64, window int, path string) error {
	if len(returns) == 0 {
		return fmt.Errorf("plotReturns: no returns to plot")
	}
	if window < 1 {
		window = 1
	}

	p := plot.New()
	p.Title.Text = "Episodic Return"
	p.X.Label.Text = "Episode"
	p.Y.Label.Text = "Return"

	mean := fmt.Sprintf("%v-episode mean", window)
	series := []struct {
		name string
		data []float64
	}{
		{"return", returns},
		{mean, MovingAverage(returns, window)},
	}
	for i, s := range series {
		points := make(plotter.XYs, len(s.data))
		for j, v := range s.data {
			points[j] = plotter.XY{X: float64(j + 1), Y: v}
		}

		line, err := plotter.NewLine(points)
		if err != nil {
			return fmt.Errorf("plotReturns: %w", err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("plotReturns: %w", err)
	}
	return nil
}

// MovingAverage returns the trailing mean of data over window entries.
// The first window-1 entries average over the entries seen so far.
func MovingAverage(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	sum := 0.0
	for i, v := range data {
		sum += v
		if i >= window {
			sum -= data[i-window]
		}
		n := i + 1
		if n > window {
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}
