package calibration

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/utils"
)

// Refinement methods.
const (
	MethodLM    = "lm"
	MethodLBFGS = "lbfgs"
)

// minImagesFloor is the fewest views any configuration accepts. One view of a plane cannot
// separate the focal length from the board's distance.
const minImagesFloor = 2

// SolverConfig controls Calibrate.
type SolverConfig struct {
	// MinImages is the fewest usable views accepted. Values below 2 are raised to 2.
	MinImages     int     `json:"min_images"`
	MaxIterations int     `json:"max_iterations"`
	// Epsilon stops refinement once the relative cost decrease of a step falls below it.
	Epsilon float64 `json:"epsilon"`
	// MaxRMS is the largest final reprojection RMS, in pixels, reported as a success.
	MaxRMS float64 `json:"max_rms"`
	Method string  `json:"method"`

	FixPrincipalPoint bool `json:"fix_principal_point"`
	FixAspectRatio    bool `json:"fix_aspect_ratio"`
	ZeroTangentDist   bool `json:"zero_tangent_dist"`
	FixK3             bool `json:"fix_k3"`
}

// DefaultSolverConfig returns the settings used when none are given.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		MinImages:     3,
		MaxIterations: 100,
		Epsilon:       1e-12,
		MaxRMS:        5,
		Method:        MethodLM,
	}
}

// Validate checks the settings are usable.
func (cfg SolverConfig) Validate() error {
	if cfg.MaxIterations < 1 {
		return errors.Errorf("max_iterations must be at least 1, got %d", cfg.MaxIterations)
	}
	if !(cfg.Epsilon > 0) {
		return errors.Errorf("epsilon must be positive, got %v", cfg.Epsilon)
	}
	if !(cfg.MaxRMS > 0) {
		return errors.Errorf("max_rms must be positive, got %v", cfg.MaxRMS)
	}
	switch cfg.Method {
	case MethodLM, MethodLBFGS:
	default:
		return errors.Errorf("unknown refinement method %q", cfg.Method)
	}
	return nil
}

// Result is a calibrated camera together with the pose of the board in every view, in the
// order the observations were given.
type Result struct {
	Model      *transform.PinholeCameraModel
	Poses      []Pose
	RMS        float64
	Iterations int
	Converged  bool
}

// Calibrate estimates the camera model and board poses that best explain the observations.
// Every observation must come from an image of the same size. The model starts from a closed
// form estimate and is refined by minimizing the reprojection error of all points at once.
func Calibrate(
	ctx context.Context,
	grid calibrate.GridSpec,
	obs []*calibrate.ImageObservation,
	cfg SolverConfig,
	logger logging.Logger,
) (*Result, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	need := max(cfg.MinImages, minImagesFloor)
	if len(obs) < need {
		return nil, utils.NewInsufficientDataError(len(obs), need)
	}
	for _, o := range obs {
		if err := o.Validate(grid); err != nil {
			return nil, err
		}
		if o.Size != obs[0].Size {
			return nil, errors.Wrapf(
				utils.NewDimensionMismatchError(obs[0].Size.X, obs[0].Size.Y, o.Size.X, o.Size.Y),
				"image %d", o.Index)
		}
	}

	model, poses, err := initialModel(grid, obs, cfg, logger)
	if err != nil {
		return nil, utils.WrapConvergenceFailure(err)
	}

	p := newProblem(grid, obs, model, cfg)
	x := p.pack(model, poses)
	initialRMS := rmsFromCost(p.cost(x), len(obs)*grid.Count())
	logger.Debugw("initial estimate", "rms", initialRMS)

	refine := refineLM
	if cfg.Method == MethodLBFGS {
		refine = refineLBFGS
	}
	iterations, converged, err := refine(ctx, p, x, cfg, logger)
	if err != nil {
		return nil, err
	}

	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, utils.NewConvergenceFailureError("parameters diverged after %d iterations", iterations)
		}
	}
	model, poses = p.unpack(x)
	if !(model.Fx > 0) || !(model.Fy > 0) {
		return nil, utils.NewConvergenceFailureError("non-positive focal length fx=%g fy=%g", model.Fx, model.Fy)
	}
	if err := model.CheckValid(); err != nil {
		return nil, utils.WrapConvergenceFailure(err)
	}
	rms := rmsFromCost(p.cost(x), len(obs)*grid.Count())
	if !(rms <= cfg.MaxRMS) {
		return nil, utils.NewConvergenceFailureError("reprojection rms %.3f px exceeds %.3f px", rms, cfg.MaxRMS)
	}
	if !converged {
		logger.Warnw("refinement hit the iteration limit", "iterations", iterations, "rms", rms)
	}
	logger.Infow("calibrated", "images", len(obs), "rms", rms, "iterations", iterations,
		"fx", model.Fx, "fy", model.Fy, "cx", model.Ppx, "cy", model.Ppy)

	return &Result{
		Model:      model,
		Poses:      poses,
		RMS:        rms,
		Iterations: iterations,
		Converged:  converged,
	}, nil
}

// rmsFromCost turns a sum of squared coordinate residuals into the RMS point distance.
func rmsFromCost(cost float64, points int) float64 {
	return math.Sqrt(cost / float64(points))
}
