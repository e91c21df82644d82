package calibrate

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/rimage"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/spatialmath"
	"github.com/zhanlv600/calibrate-camera/utils"
)

var testGrid = GridSpec{Rows: 4, Cols: 6, SquareSize: 10}

func testCamera() *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: 640, Height: 480, Fx: 800, Fy: 800, Ppx: 320, Ppy: 240,
		},
		Distortion: &transform.BrownConrady{},
	}
}

// centredPose returns the translation that puts the middle of the grid on the optical axis at
// the given depth.
func centredPose(grid GridSpec, rotation r3.Vector, depth float64) r3.Vector {
	centre := r3.Vector{
		X: float64(grid.Cols-1) * grid.SquareSize / 2,
		Y: float64(grid.Rows-1) * grid.SquareSize / 2,
	}
	return r3.Vector{Z: depth}.Sub(spatialmath.RotatePoint(rotation, centre))
}

func renderTestBoard(
	t *testing.T,
	model *transform.PinholeCameraModel,
	rotation r3.Vector,
	depth float64,
) (*image.Gray, []r2.Point) {
	t.Helper()
	translation := centredPose(testGrid, rotation, depth)
	img, err := RenderBoard(testGrid, model, rotation, translation, DefaultRenderOptions())
	test.That(t, err, test.ShouldBeNil)
	return img, model.ProjectPoints(testGrid.ObjectPoints(), rotation, translation)
}

func maxPointError(a, b []r2.Point) float64 {
	var worst float64
	for i := range a {
		worst = math.Max(worst, a[i].Sub(b[i]).Norm())
	}
	return worst
}

func TestRenderBoard(t *testing.T) {
	img, truth := renderTestBoard(t, testCamera(), r3.Vector{}, 250)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 640, 480))
	test.That(t, img.GrayAt(0, 0).Y, test.ShouldEqual, uint8(128))
	// the square just inside the first intersection is black
	first := truth[0]
	test.That(t, img.GrayAt(int(first.X)-5, int(first.Y)-5).Y, test.ShouldEqual, uint8(0))
	test.That(t, img.GrayAt(int(first.X)+5, int(first.Y)-5).Y, test.ShouldEqual, uint8(255))

	_, err := RenderBoard(testGrid, testCamera(), r3.Vector{}, r3.Vector{Z: 250}, RenderOptions{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestExtract(t *testing.T) {
	logger := logging.NewTestLogger(t)
	extractor, err := NewExtractor(testGrid, DefaultExtractorConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, extractor.Grid(), test.ShouldResemble, testGrid)

	for _, tc := range []struct {
		name     string
		rotation r3.Vector
		depth    float64
	}{
		{"frontal", r3.Vector{}, 250},
		{"tilted", r3.Vector{X: 0.3, Y: -0.2, Z: 0.1}, 270},
		{"quarter turn", r3.Vector{Z: math.Pi / 2}, 260},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img, truth := renderTestBoard(t, testCamera(), tc.rotation, tc.depth)
			obs, err := extractor.Extract(context.Background(), img, 2, "board.png")
			test.That(t, err, test.ShouldBeNil)
			test.That(t, obs.Index, test.ShouldEqual, 2)
			test.That(t, obs.Name, test.ShouldEqual, "board.png")
			test.That(t, obs.Size, test.ShouldResemble, image.Point{640, 480})
			test.That(t, len(obs.Points), test.ShouldEqual, testGrid.Count())
			test.That(t, maxPointError(obs.Points, truth), test.ShouldBeLessThan, 0.2)
		})
	}
}

func TestExtractDownscaled(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.DetectionMaxDim = 400
	extractor, err := NewExtractor(testGrid, cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	img, truth := renderTestBoard(t, testCamera(), r3.Vector{X: -0.2, Y: 0.25}, 240)
	obs, err := extractor.Extract(context.Background(), img, 0, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxPointError(obs.Points, truth), test.ShouldBeLessThan, 0.2)
}

func TestExtractNoBoard(t *testing.T) {
	extractor, err := NewExtractor(testGrid, DefaultExtractorConfig(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	blank := image.NewGray(image.Rect(0, 0, 160, 120))
	for i := range blank.Pix {
		blank.Pix[i] = 90
	}
	_, err = extractor.Extract(context.Background(), blank, 7, "blank.png")
	test.That(t, errors.Is(err, utils.ErrPatternNotFound), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "blank.png")

	// a board with more intersections than the image shows
	bigger, err := NewExtractor(GridSpec{Rows: 7, Cols: 9, SquareSize: 10}, DefaultExtractorConfig(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	img, _ := renderTestBoard(t, testCamera(), r3.Vector{X: 0.1}, 250)
	_, err = bigger.Extract(context.Background(), img, 1, "small_board.png")
	test.That(t, errors.Is(err, utils.ErrPatternNotFound), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "of 63 corners")

	_, err = extractor.Extract(context.Background(), nil, 0, "nil")
	test.That(t, errors.Is(err, utils.ErrPatternNotFound), test.ShouldBeTrue)
}

func TestExtractCancelled(t *testing.T) {
	extractor, err := NewExtractor(testGrid, DefaultExtractorConfig(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	img, _ := renderTestBoard(t, testCamera(), r3.Vector{}, 250)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = extractor.Extract(ctx, img, 0, "")
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestExtractorConfig(t *testing.T) {
	test.That(t, DefaultExtractorConfig().Validate(), test.ShouldBeNil)

	for _, mutate := range []func(*ExtractorConfig){
		func(c *ExtractorConfig) { c.BlurSigma = -1 },
		func(c *ExtractorConfig) { c.ResponseThreshold = 0 },
		func(c *ExtractorConfig) { c.MinDistance = 0 },
		func(c *ExtractorConfig) { c.SnapTolerance = 0.5 },
		func(c *ExtractorConfig) { c.DetectionMaxDim = -3 },
		func(c *ExtractorConfig) { c.SubPixWindow = 0 },
		func(c *ExtractorConfig) { c.SubPixEpsilon = 0 },
		func(c *ExtractorConfig) { c.SubPixIterations = 0 },
	} {
		cfg := DefaultExtractorConfig()
		mutate(&cfg)
		test.That(t, cfg.Validate(), test.ShouldNotBeNil)
		_, err := NewExtractor(testGrid, cfg, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldNotBeNil)
	}

	_, err := NewExtractor(GridSpec{Rows: 1, Cols: 1, SquareSize: 1}, DefaultExtractorConfig(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRefineCornersSubPix(t *testing.T) {
	img, truth := renderTestBoard(t, testCamera(), r3.Vector{X: 0.15, Y: 0.1}, 250)
	gray := rimage.GrayFloat(img)

	offsets := []r2.Point{{X: 1.5, Y: -1}, {X: -2, Y: 0.5}, {X: 0.7, Y: 1.8}}
	start := make([]r2.Point, len(truth))
	for i, p := range truth {
		start[i] = p.Add(offsets[i%len(offsets)])
	}
	refined, err := RefineCornersSubPix(context.Background(), gray, start, SubPixConfig{
		HalfWindow: 5, Epsilon: 0.01, MaxIterations: 30,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxPointError(refined, truth), test.ShouldBeLessThan, 0.1)

	// nothing to lock on to in a flat image
	flat := rimage.GrayFloat(image.NewGray(image.Rect(0, 0, 40, 40)))
	stuck, err := RefineCornersSubPix(context.Background(), flat, []r2.Point{{X: 20, Y: 20}}, SubPixConfig{
		HalfWindow: 5, Epsilon: 0.01, MaxIterations: 30,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stuck, test.ShouldResemble, []r2.Point{{X: 20, Y: 20}})
}

func TestRefineCornersSubPixStaysOnTruth(t *testing.T) {
	for _, rotation := range []r3.Vector{{}, {X: 0.15, Y: 0.1}, {X: -0.2, Y: 0.25, Z: 0.3}} {
		img, truth := renderTestBoard(t, testCamera(), rotation, 250)
		refined, err := RefineCornersSubPix(context.Background(), rimage.GrayFloat(img), truth, SubPixConfig{
			HalfWindow: 5, Epsilon: 0.01, MaxIterations: 30,
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, maxPointError(refined, truth), test.ShouldBeLessThan, 0.05)
	}
}

func TestDrawCorners(t *testing.T) {
	img, truth := renderTestBoard(t, testCamera(), r3.Vector{}, 250)
	obs := &ImageObservation{Size: image.Point{640, 480}, Points: truth}
	overlay, err := DrawCorners(img, obs, testGrid)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, overlay.Bounds(), test.ShouldResemble, img.Bounds())
	r, g, b, _ := overlay.At(int(math.Round(truth[0].X)), int(math.Round(truth[0].Y))).RGBA()
	// the marker is colored, the board is not
	test.That(t, r == g && g == b, test.ShouldBeFalse)

	_, err = DrawCorners(img, &ImageObservation{Points: truth[:3]}, testGrid)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)
}
