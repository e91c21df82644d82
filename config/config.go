// Package config defines the settings of a calibration run and how they are read from disk.
package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/zhanlv600/calibrate-camera/rimage"
	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/calibration"
	rutils "github.com/zhanlv600/calibrate-camera/utils"
)

// FailurePolicy decides what happens when the board is not found in an image.
type FailurePolicy string

const (
	// FailFast aborts the run on the first image without a board.
	FailFast FailurePolicy = "fail-fast"
	// SkipImage drops the image, logs a warning and carries on with the rest.
	SkipImage FailurePolicy = "skip"
)

// Config describes one calibration run.
type Config struct {
	InputDir  string `json:"input_dir"`
	OutputDir string `json:"output_dir"`

	Grid      calibrate.GridSpec        `json:"grid"`
	Extractor calibrate.ExtractorConfig `json:"extractor"`
	Solver    calibration.SolverConfig  `json:"solver"`

	FailurePolicy FailurePolicy `json:"failure_policy"`
	// Workers bounds the images processed at once. 0 uses one per CPU.
	Workers int `json:"workers"`
	// OutputFormat is the file extension of the rectified images.
	OutputFormat string `json:"output_format"`
	DrawCorners  bool   `json:"draw_corners"`
	Plot         bool   `json:"plot"`
	LogLevel     string `json:"log_level"`
}

// DefaultConfig returns a config with every optional field set. The board and the directories
// still have to be given.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:     "result",
		Extractor:     calibrate.DefaultExtractorConfig(),
		Solver:        calibration.DefaultSolverConfig(),
		FailurePolicy: FailFast,
		OutputFormat:  "bmp",
		Plot:          true,
		LogLevel:      "info",
	}
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.InputDir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "input_dir")
	}
	if conf.OutputDir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "output_dir")
	}
	if err := conf.Grid.Validate(); err != nil {
		return utils.NewConfigValidationError(path+".grid", err)
	}
	if err := conf.Extractor.Validate(); err != nil {
		return utils.NewConfigValidationError(path+".extractor", err)
	}
	if err := conf.Solver.Validate(); err != nil {
		return utils.NewConfigValidationError(path+".solver", err)
	}
	switch conf.FailurePolicy {
	case FailFast, SkipImage:
	default:
		return utils.NewConfigValidationError(path,
			errors.Errorf("failure_policy must be %q or %q, got %q", FailFast, SkipImage, conf.FailurePolicy))
	}
	if conf.Workers < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("workers must not be negative, got %d", conf.Workers))
	}
	if !rimage.IsOutputFormat(conf.OutputFormat) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("unsupported output_format %q, expected one of %v", conf.OutputFormat, rimage.OutputFormats))
	}
	return nil
}

// Read reads a config from the given JSON file. Environment variables in the file are
// expanded first, so "${HOME}/boards" is a valid input_dir. Fields the file leaves out keep
// their DefaultConfig values.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, rutils.NewIOFailureError("read", filePath, err)
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies where, if applicable, the
// file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	conf := DefaultConfig()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(conf); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}
	conf.OutputFormat = rimage.NormalizeFormat(conf.OutputFormat)
	if err := conf.Validate("config"); err != nil {
		return nil, err
	}
	return conf, nil
}
