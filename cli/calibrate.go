package cli

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/zhanlv600/calibrate-camera/config"
	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/pipeline"
	"github.com/zhanlv600/calibrate-camera/rimage"
	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/calibration"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/utils"
)

// GroundTruthFileName is the file synth writes the rendering camera and poses to.
const GroundTruthFileName = "ground_truth.json"

// RunAction is the corresponding Action for 'run'.
func RunAction(c *cli.Context) error {
	conf, err := runConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, conf.LogLevel)
	if err != nil {
		return err
	}

	ctx := c.Context
	if timeout := c.Duration(runFlagTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	summary, err := pipeline.Run(ctx, conf, logger)
	if err != nil {
		return err
	}
	return printSummary(c.App.Writer, summary)
}

// runConfig reads the config file when one is given and applies the flags on top of it.
func runConfig(c *cli.Context) (*config.Config, error) {
	conf := config.DefaultConfig()
	if path := c.String(flagConfig); path != "" {
		var err error
		if conf, err = config.Read(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet(runFlagInput) {
		conf.InputDir = c.String(runFlagInput)
	}
	if c.IsSet(runFlagOutput) {
		conf.OutputDir = c.String(runFlagOutput)
	}
	if c.IsSet(runFlagRows) {
		conf.Grid.Rows = c.Int(runFlagRows)
	}
	if c.IsSet(runFlagCols) {
		conf.Grid.Cols = c.Int(runFlagCols)
	}
	if c.IsSet(runFlagSquareSize) {
		conf.Grid.SquareSize = c.Float64(runFlagSquareSize)
	}
	if c.IsSet(runFlagPolicy) {
		conf.FailurePolicy = config.FailurePolicy(c.String(runFlagPolicy))
	}
	if c.IsSet(runFlagWorkers) {
		conf.Workers = c.Int(runFlagWorkers)
	}
	if c.IsSet(runFlagFormat) {
		conf.OutputFormat = rimage.NormalizeFormat(c.String(runFlagFormat))
	}
	if c.IsSet(runFlagDrawCorners) {
		conf.DrawCorners = c.Bool(runFlagDrawCorners)
	}
	if c.Bool(runFlagNoPlot) {
		conf.Plot = false
	}
	if c.IsSet(runFlagMethod) {
		conf.Solver.Method = c.String(runFlagMethod)
	}
	if c.IsSet(runFlagMinImages) {
		conf.Solver.MinImages = c.Int(runFlagMinImages)
	}
	for name, field := range map[string]*bool{
		runFlagFixPrincipalPoint: &conf.Solver.FixPrincipalPoint,
		runFlagFixAspectRatio:    &conf.Solver.FixAspectRatio,
		runFlagZeroTangentDist:   &conf.Solver.ZeroTangentDist,
		runFlagFixK3:             &conf.Solver.FixK3,
	} {
		if c.IsSet(name) {
			*field = c.Bool(name)
		}
	}
	if c.Bool(flagDebug) {
		conf.LogLevel = "debug"
	}
	return conf, nil
}

// newLogger logs to the app's error writer so that the summary stays alone on Writer.
func newLogger(c *cli.Context, level string) (logging.Logger, error) {
	if c.Bool(flagDebug) {
		level = "debug"
	}
	logLevel, err := logging.LevelFromString(level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewBlankLogger(c.App.Name)
	logger.SetLevel(logLevel)
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	return logger, nil
}

// SynthAction is the corresponding Action for 'synth'.
func SynthAction(c *cli.Context) error {
	logger, err := newLogger(c, "info")
	if err != nil {
		return err
	}
	grid := calibrate.GridSpec{Rows: 6, Cols: 8, SquareSize: 10}
	if c.IsSet(runFlagRows) {
		grid.Rows = c.Int(runFlagRows)
	}
	if c.IsSet(runFlagCols) {
		grid.Cols = c.Int(runFlagCols)
	}
	if c.IsSet(runFlagSquareSize) {
		grid.SquareSize = c.Float64(runFlagSquareSize)
	}
	if err := grid.Validate(); err != nil {
		return err
	}
	if c.Int(synthFlagCount) < 1 {
		return errors.Errorf("--%s must be positive", synthFlagCount)
	}

	width, height := c.Int(synthFlagWidth), c.Int(synthFlagHeight)
	distortion, err := transform.NewBrownConradyFromCoefficients([]float64{c.Float64(synthFlagK1), c.Float64(synthFlagK2)})
	if err != nil {
		return err
	}
	model := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width:  width,
			Height: height,
			Fx:     c.Float64(synthFlagFocal),
			Fy:     c.Float64(synthFlagFocal),
			Ppx:    float64(width-1) / 2,
			Ppy:    float64(height-1) / 2,
		},
		Distortion: distortion,
	}
	if err := model.CheckValid(); err != nil {
		return err
	}

	outDir := c.String(runFlagOutput)
	if _, err := utils.EnsureOutputDir(outDir); err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(c.Int64(synthFlagSeed))) //nolint:gosec
	poses := calibration.RandomPoses(grid, c.Int(synthFlagCount), calibration.DefaultViewRange(grid, model), rng)
	images, err := calibration.RenderViews(grid, model, poses, calibrate.DefaultRenderOptions())
	if err != nil {
		return errors.Wrap(err, "board does not fit the image, try a smaller board or a longer focal length")
	}
	for i, img := range images {
		path := filepath.Join(outDir, fmt.Sprintf("board_%02d.png", i))
		if err := rimage.WriteImageToFile(path, img); err != nil {
			return err
		}
		logger.Debugw("rendered", "index", i, "file", path)
	}

	truth := &calibration.ResultFile{
		RunID:              uuid.NewString(),
		PinholeCameraModel: model,
		Grid:               grid,
		Converged:          true,
		Poses:              poses,
	}
	if err := calibration.WriteResultJSON(filepath.Join(outDir, GroundTruthFileName), truth); err != nil {
		return err
	}
	printf(c.App.Writer, "wrote %d images of a %dx%d board to %s", len(images), grid.Rows, grid.Cols, outDir)
	return nil
}

// UndistortAction is the corresponding Action for 'undistort'.
func UndistortAction(c *cli.Context) error {
	logger, err := newLogger(c, "info")
	if err != nil {
		return err
	}
	result, err := calibration.ReadResultJSON(c.String(undistortFlagResult))
	if err != nil {
		return err
	}
	if result.RunID != "" {
		logger.Infow("using calibration", "run_id", result.RunID, "rms", result.RMS)
	}
	inputs, err := utils.ListImageFiles(c.String(runFlagInput))
	if err != nil {
		return err
	}
	outDir, err := utils.EnsureOutputDir(c.String(runFlagOutput))
	if err != nil {
		return err
	}
	written, err := pipeline.Rectify(c.Context, result.PinholeCameraModel, inputs, outDir, pipeline.RectifyOptions{
		Format:         c.String(runFlagFormat),
		Workers:        c.Int(runFlagWorkers),
		SkipMismatched: true,
	}, logger)
	if err != nil {
		return err
	}
	count := lo.CountBy(written, func(path string) bool { return path != "" })
	printf(c.App.Writer, "rectified %d of %d images into %s", count, len(inputs), outDir)
	return nil
}
