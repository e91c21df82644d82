// Package pipeline runs a whole calibration: find the board in every image of a directory,
// calibrate the camera, report the error and write undistorted copies of the images.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/zhanlv600/calibrate-camera/config"
	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/rimage"
	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/calibration"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/utils"
)

// SkippedImage is an input image the run went on without.
type SkippedImage struct {
	Index int
	Path  string
	Err   error
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	OutputDir  string
	Inputs     []string
	Skipped    []SkippedImage
	Result     *calibration.Result
	Evaluation *calibration.Evaluation
	// Rectified holds the undistorted image written for each input, empty when none was.
	Rectified []string
	Elapsed   time.Duration
}

type extraction struct {
	obs     *calibrate.ImageObservation
	skipped error
}

// Run calibrates the camera from the images in conf.InputDir and writes every result to
// conf.OutputDir. If the output directory cannot be created, results go to the current
// directory instead.
func Run(ctx context.Context, conf *config.Config, logger logging.Logger) (*Summary, error) {
	start := time.Now()
	if err := conf.Validate("config"); err != nil {
		return nil, err
	}
	inputs, err := utils.ListImageFiles(conf.InputDir)
	if err != nil {
		return nil, err
	}
	logger.Infow("found images", "dir", conf.InputDir, "count", len(inputs))

	outDir, err := utils.EnsureOutputDir(conf.OutputDir)
	if err != nil {
		logger.Warnw("writing results to the current directory", "error", err)
	}
	summary := &Summary{OutputDir: outDir, Inputs: inputs}

	obs, err := extractAll(ctx, conf, inputs, outDir, summary, logger.Sublogger("extract"))
	if err != nil {
		return nil, err
	}

	res, err := calibration.Calibrate(ctx, conf.Grid, obs, conf.Solver, logger.Sublogger("solve"))
	if err != nil {
		return nil, err
	}
	summary.Result = res

	evalLogger := logger.Sublogger("evaluate")
	eval, err := calibration.Evaluate(conf.Grid, res.Model, res.Poses, obs)
	if err != nil {
		return nil, err
	}
	summary.Evaluation = eval
	worst := eval.Worst()
	evalLogger.Infow("reprojection error", "mean", eval.Mean, "rms", eval.RMS, "worst_image", worst.Index, "worst_rms", worst.RMS)

	if err := writeResults(conf, res, eval, outDir, summary, evalLogger); err != nil {
		return nil, err
	}

	summary.Rectified, err = Rectify(ctx, res.Model, inputs, outDir, RectifyOptions{
		Format:         conf.OutputFormat,
		Workers:        conf.Workers,
		SkipMismatched: conf.FailurePolicy == config.SkipImage,
	}, logger.Sublogger("rectify"))
	if err != nil {
		return nil, err
	}
	summary.Elapsed = time.Since(start)
	logger.Infow("done", "output_dir", outDir, "elapsed", summary.Elapsed)
	return summary, nil
}

// extractAll finds the board in every input. Under the skip policy images without a board are
// recorded in summary.Skipped; otherwise the first one ends the run.
func extractAll(
	ctx context.Context,
	conf *config.Config,
	inputs []string,
	outDir string,
	summary *Summary,
	logger logging.Logger,
) ([]*calibrate.ImageObservation, error) {
	extractor, err := calibrate.NewExtractor(conf.Grid, conf.Extractor, logger)
	if err != nil {
		return nil, err
	}

	results, err := utils.MapOrdered(ctx, len(inputs), conf.Workers, func(ctx context.Context, index int) (extraction, error) {
		path := inputs[index]
		img, err := rimage.ReadImageFromFile(path)
		if err != nil {
			return extraction{}, err
		}
		obs, err := extractor.Extract(ctx, img, index, filepath.Base(path))
		if err != nil {
			if conf.FailurePolicy == config.SkipImage && errors.Is(err, utils.ErrPatternNotFound) {
				logger.Warnw("skipping image", "index", index, "file", path, "error", err)
				return extraction{skipped: err}, nil
			}
			return extraction{}, err
		}
		logger.Debugw("found board", "index", index, "file", path)
		if conf.DrawCorners {
			drawOverlay(img, obs, conf.Grid, outDir, logger)
		}
		return extraction{obs: obs}, nil
	})
	if err != nil {
		return nil, err
	}

	var skippedErr error
	for i, r := range results {
		if r.skipped != nil {
			summary.Skipped = append(summary.Skipped, SkippedImage{Index: i, Path: inputs[i], Err: r.skipped})
			skippedErr = multierr.Append(skippedErr, r.skipped)
		}
	}
	if skippedErr != nil {
		logger.Warnw("images without a board", "count", len(summary.Skipped), "errors", skippedErr)
	}
	return lo.FilterMap(results, func(r extraction, _ int) (*calibrate.ImageObservation, bool) {
		return r.obs, r.obs != nil
	}), nil
}

// drawOverlay saves the detected grid over the image. Failures only warrant a warning.
func drawOverlay(img image.Image, obs *calibrate.ImageObservation, grid calibrate.GridSpec, outDir string, logger logging.Logger) {
	path, err := utils.SafeJoinDir(outDir, fmt.Sprintf("corners_%d.png", obs.Index))
	if err == nil {
		var overlay image.Image
		if overlay, err = calibrate.DrawCorners(img, obs, grid); err == nil {
			err = rimage.WriteImageToFile(path, overlay)
		}
	}
	if err != nil {
		logger.Warnw("cannot save corner overlay", "index", obs.Index, "error", err)
	}
}

func writeResults(
	conf *config.Config,
	res *calibration.Result,
	eval *calibration.Evaluation,
	outDir string,
	summary *Summary,
	logger logging.Logger,
) error {
	if err := calibration.WriteReportFile(filepath.Join(outDir, calibration.ReportFileName), res, eval); err != nil {
		return err
	}
	resultFile := calibration.NewResultFile(conf.Grid, res, eval)
	summary.RunID = resultFile.RunID
	if err := calibration.WriteResultJSON(filepath.Join(outDir, calibration.ResultFileName), resultFile); err != nil {
		return err
	}
	if conf.Plot {
		if err := calibration.PlotErrors(eval, filepath.Join(outDir, calibration.PlotFileName)); err != nil {
			logger.Warnw("cannot plot reprojection errors", "error", err)
		}
	}
	return nil
}

// RectifyOptions controls Rectify.
type RectifyOptions struct {
	// Format is the extension of the written images.
	Format  string
	Workers int
	// SkipMismatched leaves out images whose size differs from the model's instead of failing.
	SkipMismatched bool
}

// Rectify writes an undistorted copy of every input as <index>.<format> in outDir and returns
// the written paths. A skipped input has an empty path.
func Rectify(
	ctx context.Context,
	model *transform.PinholeCameraModel,
	inputs []string,
	outDir string,
	opts RectifyOptions,
	logger logging.Logger,
) ([]string, error) {
	if !rimage.IsOutputFormat(opts.Format) {
		return nil, errors.Errorf("unsupported output format %q", opts.Format)
	}
	format := rimage.NormalizeFormat(opts.Format)
	rectifier, err := transform.NewRectifier(model, color.Black)
	if err != nil {
		return nil, err
	}
	return utils.MapOrdered(ctx, len(inputs), opts.Workers, func(ctx context.Context, index int) (string, error) {
		img, err := rimage.ReadImageFromFile(inputs[index])
		if err != nil {
			return "", err
		}
		out, err := rectifier.Undistort(img)
		if err != nil {
			if opts.SkipMismatched && errors.Is(err, utils.ErrDimensionMismatch) {
				logger.Warnw("not rectifying image", "index", index, "file", inputs[index], "error", err)
				return "", nil
			}
			return "", errors.Wrapf(err, "image %d", index)
		}
		path, err := utils.SafeJoinDir(outDir, fmt.Sprintf("%d.%s", index, format))
		if err != nil {
			return "", err
		}
		if err := rimage.WriteImageToFile(path, out); err != nil {
			return "", err
		}
		logger.Debugw("rectified", "index", index, "file", path)
		return path, nil
	})
}
