package calibrate

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/rimage"
	"github.com/zhanlv600/calibrate-camera/utils"
)

// ExtractorConfig tunes corner detection.
type ExtractorConfig struct {
	// BlurSigma is the gaussian blur applied before computing the saddle response.
	BlurSigma float64 `json:"blur_sigma"`
	// ResponseThreshold keeps local maxima above this fraction of the strongest response.
	ResponseThreshold float64 `json:"response_threshold"`
	// MinDistance is the minimum spacing in pixels between candidates.
	MinDistance float64 `json:"min_distance"`
	// SnapTolerance is how far, in cells, a candidate may sit from its grid position.
	SnapTolerance float64 `json:"snap_tolerance"`
	// DetectionMaxDim shrinks larger images for candidate detection. 0 disables shrinking.
	DetectionMaxDim int `json:"detection_max_dim"`

	SubPixWindow     int     `json:"subpix_window"`
	SubPixEpsilon    float64 `json:"subpix_epsilon"`
	SubPixIterations int     `json:"subpix_iterations"`
}

// DefaultExtractorConfig returns the settings used when none are given.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		BlurSigma:         1.5,
		ResponseThreshold: 0.15,
		MinDistance:       5,
		SnapTolerance:     0.3,
		SubPixWindow:      5,
		SubPixEpsilon:     0.01,
		SubPixIterations:  30,
	}
}

// Validate checks the settings are usable.
func (cfg ExtractorConfig) Validate() error {
	switch {
	case cfg.BlurSigma < 0:
		return errors.Errorf("blur_sigma must not be negative, got %v", cfg.BlurSigma)
	case !(cfg.ResponseThreshold > 0 && cfg.ResponseThreshold < 1):
		return errors.Errorf("response_threshold must be in (0, 1), got %v", cfg.ResponseThreshold)
	case cfg.MinDistance < 1:
		return errors.Errorf("min_distance must be at least 1, got %v", cfg.MinDistance)
	case !(cfg.SnapTolerance > 0 && cfg.SnapTolerance < 0.5):
		return errors.Errorf("snap_tolerance must be in (0, 0.5), got %v", cfg.SnapTolerance)
	case cfg.DetectionMaxDim < 0:
		return errors.Errorf("detection_max_dim must not be negative, got %v", cfg.DetectionMaxDim)
	case cfg.SubPixWindow < 1:
		return errors.Errorf("subpix_window must be at least 1, got %v", cfg.SubPixWindow)
	case !(cfg.SubPixEpsilon > 0):
		return errors.Errorf("subpix_epsilon must be positive, got %v", cfg.SubPixEpsilon)
	case cfg.SubPixIterations < 1:
		return errors.Errorf("subpix_iterations must be at least 1, got %v", cfg.SubPixIterations)
	}
	return nil
}

// Extractor finds the grid intersections in images of one checkerboard.
type Extractor struct {
	grid   GridSpec
	cfg    ExtractorConfig
	logger logging.Logger
}

// NewExtractor returns an Extractor for the given board.
func NewExtractor(grid GridSpec, cfg ExtractorConfig, logger logging.Logger) (*Extractor, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{grid: grid, cfg: cfg, logger: logger}, nil
}

// Grid returns the board the extractor looks for.
func (e *Extractor) Grid() GridSpec {
	return e.grid
}

// Extract locates every intersection of the board in img and returns them in grid order with
// sub-pixel accuracy. index and name identify the image in errors and logs. When the board is
// not found the error wraps utils.ErrPatternNotFound.
func (e *Extractor) Extract(ctx context.Context, img image.Image, index int, name string) (*ImageObservation, error) {
	if img == nil {
		return nil, utils.NewPatternNotFoundError(index, name, "no image")
	}
	size := img.Bounds().Size()

	detectImg, scale := rimage.ShrinkToFit(img, e.cfg.DetectionMaxDim)
	blurred := rimage.GrayFloat(rimage.Blur(detectImg, e.cfg.BlurSigma*scale))
	resp, err := SaddleResponse(blurred)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := getCornerList(resp, e.cfg.ResponseThreshold)
	strongest := topNCorners(candidates, e.grid.Count(), e.cfg.MinDistance*scale)
	e.logger.Debugw("corner candidates", "image", index, "candidates", len(candidates), "kept", len(strongest))
	if len(strongest) < e.grid.Count() {
		return nil, utils.NewPatternNotFoundError(index, name,
			errors.Errorf("found %d of %d corners", len(strongest), e.grid.Count()).Error())
	}

	points := make([]r2.Point, len(strongest))
	for i, c := range strongest {
		points[i] = c.Point().Mul(1 / scale)
	}
	labelled, err := fitGrid(points, e.grid, e.cfg.SnapTolerance)
	if err != nil {
		return nil, utils.NewPatternNotFoundError(index, name, err.Error())
	}

	refined, err := RefineCornersSubPix(ctx, rimage.GrayFloat(img), labelled, SubPixConfig{
		HalfWindow:    e.cfg.SubPixWindow,
		Epsilon:       e.cfg.SubPixEpsilon,
		MaxIterations: e.cfg.SubPixIterations,
	})
	if err != nil {
		return nil, err
	}
	obs := &ImageObservation{Index: index, Name: name, Size: size, Points: refined}
	return obs, obs.Validate(e.grid)
}
