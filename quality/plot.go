package quality

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteResidualHistogram renders a histogram of reprojection residual
// magnitudes to path, one bar per bin, so a reviewer can see the tail a
// percentile cutoff would remove before committing to FilterByPercentile.
func WriteResidualHistogram(path string, residuals []float64, bins int) error {
	if len(residuals) == 0 {
		return fmt.Errorf("quality: no residuals to plot")
	}
	if bins <= 0 {
		bins = 30
	}

	p := plot.New()
	p.Title.Text = "Reprojection residual magnitudes"
	p.X.Label.Text = "Residual (pixels)"
	p.Y.Label.Text = "Count"

	hist, err := plotter.NewHist(plotter.Values(residuals), bins)
	if err != nil {
		return fmt.Errorf("quality: building histogram: %w", err)
	}
	p.Add(hist)

	mean := stat.Mean(residuals, nil)
	p.Title.Text = fmt.Sprintf("Reprojection residual magnitudes (mean %.3f px, n=%d)", mean, len(residuals))

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
