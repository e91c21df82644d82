package calibration

import (
	"context"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
)

func TestRandomPoses(t *testing.T) {
	views := DefaultViewRange(testGrid, newTestModel(800, 800, 320, 240))
	test.That(t, views.MinDepth, test.ShouldAlmostEqual, 187.5)
	poses := RandomPoses(testGrid, 20, views, rand.New(rand.NewSource(9)))
	test.That(t, len(poses), test.ShouldEqual, 20)
	for _, pose := range poses {
		test.That(t, pose.Rotation.Norm(), test.ShouldBeLessThanOrEqualTo, r3.Vector{X: views.MaxTilt, Y: views.MaxTilt, Z: views.MaxTwist}.Norm())
		middle := pose.Transform(r3.Vector{X: 35, Y: 25})
		test.That(t, middle.Z, test.ShouldBeBetweenOrEqual, views.MinDepth, views.MaxDepth)
	}
	again := RandomPoses(testGrid, 20, views, rand.New(rand.NewSource(9)))
	test.That(t, again, test.ShouldResemble, poses)
}

func TestRenderedViewsCalibrate(t *testing.T) {
	grid := calibrate.GridSpec{Rows: 4, Cols: 6, SquareSize: 10}
	model := newTestModel(800, 800, 320, 240)
	poses := RandomPoses(grid, 4, DefaultViewRange(grid, model), rand.New(rand.NewSource(1)))
	images, err := RenderViews(grid, model, poses, calibrate.DefaultRenderOptions())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(images), test.ShouldEqual, 4)

	logger := logging.NewTestLogger(t)
	extractor, err := calibrate.NewExtractor(grid, calibrate.DefaultExtractorConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	obs := make([]*calibrate.ImageObservation, len(images))
	for i, img := range images {
		obs[i], err = extractor.Extract(context.Background(), img, i, "")
		test.That(t, err, test.ShouldBeNil)
	}
	res, err := Calibrate(context.Background(), grid, obs, DefaultSolverConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.RMS, test.ShouldBeLessThan, 0.5)

	// a view that puts the board behind the camera
	_, err = RenderViews(grid, model, []Pose{{Translation: r3.Vector{Z: -100}}}, calibrate.DefaultRenderOptions())
	test.That(t, err, test.ShouldNotBeNil)
}
