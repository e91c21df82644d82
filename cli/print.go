package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"

	"github.com/zhanlv600/calibrate-camera/pipeline"
)

const histogramWidth = 40

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// printSummary prints the camera found by a run, the error of every image and a histogram of
// those errors.
func printSummary(w io.Writer, summary *pipeline.Summary) error {
	model := summary.Result.Model
	intrinsics := table.NewWriter()
	intrinsics.SetTitle("camera")
	intrinsics.AppendHeader(table.Row{"fx", "fy", "cx", "cy", "k1", "k2", "p1", "p2", "k3"})
	row := table.Row{model.Fx, model.Fy, model.Ppx, model.Ppy}
	for _, c := range model.Coefficients() {
		row = append(row, c)
	}
	intrinsics.AppendRow(row)
	intrinsics.SetColumnConfigs(floatColumns(len(row)))
	printf(w, "%s", intrinsics.Render())

	images := table.NewWriter()
	images.SetTitle("reprojection error (pixels)")
	images.AppendHeader(table.Row{"#", "File", "RMS", "Mean", "Max"})
	rms := make([]float64, 0, len(summary.Evaluation.Images))
	for _, img := range summary.Evaluation.Images {
		images.AppendRow(table.Row{img.Index, filepath.Base(img.Name), img.RMS, img.Mean, img.Max})
		rms = append(rms, img.RMS)
	}
	for _, skipped := range summary.Skipped {
		images.AppendRow(table.Row{skipped.Index, filepath.Base(skipped.Path), "skipped", "", ""})
	}
	images.AppendFooter(table.Row{"", "average", summary.Evaluation.Mean, "", ""})
	images.SortBy([]table.SortBy{{Name: "#", Mode: table.AscNumeric}})
	images.SetColumnConfigs(floatColumns(5))
	printf(w, "%s", images.Render())

	if len(rms) > 1 {
		printf(w, "per image rms:")
		if err := histogram.Fprint(w, histogram.Hist(min(len(rms), 10), rms), histogram.Linear(histogramWidth)); err != nil {
			return errors.Wrap(err, "cannot print histogram")
		}
	}
	printf(w, "rms %.4f px after %d iterations, results in %s", summary.Result.RMS, summary.Result.Iterations, summary.OutputDir)
	return nil
}

func floatColumns(count int) []table.ColumnConfig {
	configs := make([]table.ColumnConfig, count)
	for i := range configs {
		configs[i] = table.ColumnConfig{
			Number:            i + 1,
			Align:             text.AlignRight,
			Transformer:       formatFloat,
			TransformerFooter: formatFloat,
		}
	}
	return configs
}

func formatFloat(val interface{}) string {
	if f, ok := val.(float64); ok {
		return fmt.Sprintf("%.4f", f)
	}
	return fmt.Sprint(val)
}
