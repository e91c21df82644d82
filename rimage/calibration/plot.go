package calibration

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/zhanlv600/calibrate-camera/utils"
)

// PlotFileName is the name of the error chart in the output directory.
const PlotFileName = "reprojection_errors.png"

// PlotErrors saves a bar chart of the per image RMS with a line at the average.
func PlotErrors(eval *Evaluation, path string) error {
	p := plot.New()
	p.Title.Text = "Reprojection error"
	p.X.Label.Text = "image"
	p.Y.Label.Text = "rms (pixels)"

	values := make(plotter.Values, len(eval.Images))
	names := make([]string, len(eval.Images))
	for i, img := range eval.Images {
		values[i] = img.RMS
		names[i] = fmt.Sprint(img.Index)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return err
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	p.Add(bars)
	p.NominalX(names...)

	mean, err := plotter.NewLine(plotter.XYs{
		{X: -0.5, Y: eval.Mean},
		{X: float64(len(values)) - 0.5, Y: eval.Mean},
	})
	if err != nil {
		return err
	}
	mean.Color = color.RGBA{R: 200, A: 255}
	mean.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(mean)
	p.Legend.Add(fmt.Sprintf("average %.3f", eval.Mean), mean)
	p.Y.Min = 0

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return utils.NewIOFailureError("save", path, err)
	}
	return nil
}
