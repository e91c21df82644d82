package calibration

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/spatialmath"
	"github.com/zhanlv600/calibrate-camera/utils"
)

var testGrid = calibrate.GridSpec{Rows: 6, Cols: 8, SquareSize: 10}

func newTestModel(fx, fy, cx, cy float64, coeffs ...float64) *transform.PinholeCameraModel {
	model := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: 640, Height: 480, Fx: fx, Fy: fy, Ppx: cx, Ppy: cy,
		},
		Distortion: &transform.BrownConrady{},
	}
	if len(coeffs) > 0 {
		var err error
		model.Distortion, err = transform.NewBrownConradyFromCoefficients(coeffs)
		if err != nil {
			panic(err)
		}
	}
	return model
}

// testPoses are views of testGrid from different directions, all with the board in frame.
func testPoses() []Pose {
	rotations := []r3.Vector{
		{X: 0.3, Y: 0.1, Z: 0.05},
		{X: -0.25, Y: 0.2, Z: -0.1},
		{X: 0.1, Y: -0.35, Z: 0.2},
		{X: -0.2, Y: -0.2, Z: 0.3},
		{X: 0.35, Y: 0.3, Z: -0.15},
		{X: 0.05, Y: 0.25, Z: 0.1},
	}
	offsets := []r3.Vector{
		{X: 5, Y: -3, Z: 250},
		{X: -8, Y: 4, Z: 270},
		{X: 0, Y: 6, Z: 290},
		{X: 10, Y: 0, Z: 260},
		{X: -4, Y: -6, Z: 300},
		{X: 3, Y: 8, Z: 280},
	}
	centre := r3.Vector{
		X: float64(testGrid.Cols-1) * testGrid.SquareSize / 2,
		Y: float64(testGrid.Rows-1) * testGrid.SquareSize / 2,
	}
	poses := make([]Pose, len(rotations))
	for i, rot := range rotations {
		poses[i] = Pose{Rotation: rot, Translation: offsets[i].Sub(spatialmath.RotatePoint(rot, centre))}
	}
	return poses
}

func observe(model *transform.PinholeCameraModel, poses []Pose) []*calibrate.ImageObservation {
	obs := make([]*calibrate.ImageObservation, len(poses))
	for i, pose := range poses {
		obs[i] = &calibrate.ImageObservation{
			Index:  i,
			Name:   fmt.Sprintf("view_%02d.png", i),
			Size:   image.Point{640, 480},
			Points: model.ProjectPoints(testGrid.ObjectPoints(), pose.Rotation, pose.Translation),
		}
	}
	return obs
}

func TestCalibrateRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	truth := newTestModel(810, 790, 330, 235, -0.12, 0.08, 0.001, -0.002, 0)
	poses := testPoses()
	obs := observe(truth, poses)

	res, err := Calibrate(context.Background(), testGrid, obs, DefaultSolverConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Converged, test.ShouldBeTrue)
	test.That(t, res.RMS, test.ShouldBeLessThan, 1e-3)

	m := res.Model
	test.That(t, m.Width, test.ShouldEqual, 640)
	test.That(t, m.Height, test.ShouldEqual, 480)
	test.That(t, m.Fx, test.ShouldAlmostEqual, truth.Fx, truth.Fx*1e-3)
	test.That(t, m.Fy, test.ShouldAlmostEqual, truth.Fy, truth.Fy*1e-3)
	test.That(t, m.Ppx, test.ShouldAlmostEqual, truth.Ppx, truth.Ppx*1e-3)
	test.That(t, m.Ppy, test.ShouldAlmostEqual, truth.Ppy, truth.Ppy*1e-3)
	got, want := m.Coefficients(), truth.Coefficients()
	for i := 0; i < 4; i++ {
		test.That(t, got[i], test.ShouldAlmostEqual, want[i], 1e-3)
	}
	test.That(t, got[4], test.ShouldAlmostEqual, want[4], 1e-2)

	test.That(t, len(res.Poses), test.ShouldEqual, len(poses))
	for i, pose := range res.Poses {
		test.That(t, pose.Rotation.Sub(poses[i].Rotation).Norm(), test.ShouldBeLessThan, 1e-3)
		test.That(t, pose.Translation.Sub(poses[i].Translation).Norm(), test.ShouldBeLessThan, 0.1)
	}

	eval, err := Evaluate(testGrid, res.Model, res.Poses, obs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(eval.Images), test.ShouldEqual, len(obs))
	for _, img := range eval.Images {
		test.That(t, img.RMS, test.ShouldBeLessThan, 0.1)
		test.That(t, img.Max, test.ShouldBeLessThan, 0.1)
	}
	test.That(t, eval.Mean, test.ShouldBeLessThan, 0.1)
}

func TestCalibrateFlags(t *testing.T) {
	truth := newTestModel(800, 800, 319.5, 239.5, -0.05, 0.01, 0, 0, 0)
	cfg := DefaultSolverConfig()
	cfg.FixPrincipalPoint = true
	cfg.FixAspectRatio = true
	cfg.ZeroTangentDist = true
	cfg.FixK3 = true

	res, err := Calibrate(context.Background(), testGrid, observe(truth, testPoses()), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Model.Ppx, test.ShouldEqual, 319.5)
	test.That(t, res.Model.Ppy, test.ShouldEqual, 239.5)
	test.That(t, res.Model.Fy, test.ShouldEqual, res.Model.Fx)
	test.That(t, res.Model.Fx, test.ShouldAlmostEqual, 800, 0.8)
	coeffs := res.Model.Coefficients()
	test.That(t, coeffs[0], test.ShouldAlmostEqual, -0.05, 1e-3)
	test.That(t, coeffs[2], test.ShouldEqual, 0.0)
	test.That(t, coeffs[3], test.ShouldEqual, 0.0)
	test.That(t, coeffs[4], test.ShouldEqual, 0.0)
}

func TestCalibrateLBFGS(t *testing.T) {
	truth := newTestModel(800, 800, 319.5, 239.5)
	cfg := DefaultSolverConfig()
	cfg.Method = MethodLBFGS
	res, err := Calibrate(context.Background(), testGrid, observe(truth, testPoses()), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.RMS, test.ShouldBeLessThan, 0.05)
	test.That(t, res.Model.Fx, test.ShouldAlmostEqual, 800, 8)
	test.That(t, res.Model.Fy, test.ShouldAlmostEqual, 800, 8)
}

func TestCalibrateInsufficientData(t *testing.T) {
	logger := logging.NewTestLogger(t)
	obs := observe(newTestModel(800, 800, 320, 240), testPoses())

	_, err := Calibrate(context.Background(), testGrid, obs[:1], DefaultSolverConfig(), logger)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	// a single view is never enough, whatever the configuration says
	cfg := DefaultSolverConfig()
	cfg.MinImages = 1
	_, err = Calibrate(context.Background(), testGrid, obs[:1], cfg, logger)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	_, err = Calibrate(context.Background(), testGrid, obs[:2], DefaultSolverConfig(), logger)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	_, err = Calibrate(context.Background(), testGrid, nil, DefaultSolverConfig(), logger)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	short := *obs[2]
	short.Points = short.Points[:10]
	withShort := []*calibrate.ImageObservation{obs[0], obs[1], &short, obs[3]}
	_, err = Calibrate(context.Background(), testGrid, withShort, DefaultSolverConfig(), logger)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "image 2")
}

func TestCalibrateDimensionMismatch(t *testing.T) {
	obs := observe(newTestModel(800, 800, 320, 240), testPoses())
	odd := *obs[1]
	odd.Size = image.Point{1280, 960}
	obs[1] = &odd
	_, err := Calibrate(context.Background(), testGrid, obs, DefaultSolverConfig(), logging.NewTestLogger(t))
	test.That(t, errors.Is(err, utils.ErrDimensionMismatch), test.ShouldBeTrue)
}

func TestCalibrateConvergenceFailure(t *testing.T) {
	obs := observe(newTestModel(800, 800, 320, 240), testPoses())
	rng := rand.New(rand.NewSource(3))
	for _, o := range obs {
		for i := range o.Points {
			o.Points[i] = o.Points[i].Add(r2.Point{X: rng.NormFloat64(), Y: rng.NormFloat64()})
		}
	}
	cfg := DefaultSolverConfig()
	cfg.MaxRMS = 0.01
	_, err := Calibrate(context.Background(), testGrid, obs, cfg, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, utils.ErrConvergenceFailure), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exceeds")
}

func TestCalibrateCancelled(t *testing.T) {
	obs := observe(newTestModel(800, 800, 320, 240), testPoses())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Calibrate(ctx, testGrid, obs, DefaultSolverConfig(), logging.NewTestLogger(t))
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestSolverConfigValidate(t *testing.T) {
	test.That(t, DefaultSolverConfig().Validate(), test.ShouldBeNil)
	for _, mutate := range []func(*SolverConfig){
		func(c *SolverConfig) { c.MaxIterations = 0 },
		func(c *SolverConfig) { c.Epsilon = 0 },
		func(c *SolverConfig) { c.MaxRMS = -1 },
		func(c *SolverConfig) { c.Method = "newton" },
	} {
		cfg := DefaultSolverConfig()
		mutate(&cfg)
		test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	}
}

func TestInitialEstimate(t *testing.T) {
	truth := newTestModel(800, 760, 319.5, 239.5)
	poses := testPoses()
	obs := observe(truth, poses)
	homographies, err := boardHomographies(testGrid, obs)
	test.That(t, err, test.ShouldBeNil)

	fx, fy, ok := initFocalLengths(homographies, 319.5, 239.5, false)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, fx, test.ShouldAlmostEqual, 800, 1e-3)
	test.That(t, fy, test.ShouldAlmostEqual, 760, 1e-3)

	for i, h := range homographies {
		pose, err := poseFromHomography(h, truth.GetCameraMatrix())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.Rotation.Sub(poses[i].Rotation).Norm(), test.ShouldBeLessThan, 1e-6)
		test.That(t, pose.Translation.Sub(poses[i].Translation).Norm(), test.ShouldBeLessThan, 1e-4)
	}

	// boards facing the camera say nothing about the focal length
	frontal := make([]Pose, 3)
	for i := range frontal {
		frontal[i] = Pose{Rotation: r3.Vector{Z: 0.2 * float64(i)}, Translation: r3.Vector{X: -35, Y: -25, Z: 250}}
	}
	homographies, err = boardHomographies(testGrid, observe(truth, frontal))
	test.That(t, err, test.ShouldBeNil)
	_, _, ok = initFocalLengths(homographies, 319.5, 239.5, false)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestPose(t *testing.T) {
	pose := Pose{Rotation: r3.Vector{Z: math.Pi / 2}, Translation: r3.Vector{X: 1, Y: 2, Z: 3}}
	p := pose.Transform(r3.Vector{X: 1})
	test.That(t, p.X, test.ShouldAlmostEqual, 1)
	test.That(t, p.Y, test.ShouldAlmostEqual, 3)
	test.That(t, p.Z, test.ShouldAlmostEqual, 3)

	rot := pose.RotationMatrix()
	test.That(t, rot.At(1, 0), test.ShouldAlmostEqual, 1)
	test.That(t, poseFromVector(pose.vector()), test.ShouldResemble, pose)
}
