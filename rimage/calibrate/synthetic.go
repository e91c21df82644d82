package calibrate

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/spatialmath"
	"github.com/zhanlv600/calibrate-camera/utils"
)

// RenderOptions controls RenderBoard.
type RenderOptions struct {
	// Supersample is the number of samples per pixel along each axis.
	Supersample int
	// Background is the gray level outside the board and its quiet zone.
	Background uint8
}

// DefaultRenderOptions returns 4x4 supersampling on a mid gray background.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Supersample: 4, Background: 128}
}

// RenderBoard draws the checkerboard described by grid as seen by model from the given pose
// (axis angle rotation and translation taking board coordinates into the camera frame).
// Around the grid intersections is one row of squares, then a one square white quiet zone.
func RenderBoard(
	grid GridSpec,
	model *transform.PinholeCameraModel,
	rotation, translation r3.Vector,
	opts RenderOptions,
) (*image.Gray, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if opts.Supersample < 1 {
		return nil, errors.Errorf("supersample must be at least 1, got %d", opts.Supersample)
	}
	rot := spatialmath.AxisAngleToMatrix(rotation)
	// board normal and origin expressed in the camera frame
	normal := r3.Vector{X: rot.At(0, 2), Y: rot.At(1, 2), Z: rot.At(2, 2)}
	originDepth := normal.Dot(translation)
	axisX := r3.Vector{X: rot.At(0, 0), Y: rot.At(1, 0), Z: rot.At(2, 0)}
	axisY := r3.Vector{X: rot.At(0, 1), Y: rot.At(1, 1), Z: rot.At(2, 1)}
	inverse := model.Distortion.Inverse()

	shade := func(px, py float64) float64 {
		x, y := model.PixelToNormalized(px, py)
		x, y = inverse.Transform(x, y)
		ray := r3.Vector{X: x, Y: y, Z: 1}
		denom := normal.Dot(ray)
		if math.Abs(denom) < 1e-12 {
			return float64(opts.Background)
		}
		s := originDepth / denom
		if s <= 0 {
			return float64(opts.Background)
		}
		hit := ray.Mul(s).Sub(translation)
		return boardShade(grid, r2.Point{X: hit.Dot(axisX), Y: hit.Dot(axisY)}, opts.Background)
	}

	width, height := model.Width, model.Height
	out := image.NewGray(image.Rect(0, 0, width, height))
	n := opts.Supersample
	step := 1 / float64(n)
	utils.ParallelForEachPixel(image.Point{width, height}, func(x, y int) {
		var sum float64
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				// pixel centres sit on integer coordinates
				sum += shade(float64(x)-0.5+(float64(i)+0.5)*step, float64(y)-0.5+(float64(j)+0.5)*step)
			}
		}
		out.Pix[y*out.Stride+x] = uint8(math.Round(sum / float64(n*n)))
	})
	return out, nil
}

func boardShade(grid GridSpec, p r2.Point, background uint8) float64 {
	col := math.Floor(p.X / grid.SquareSize)
	row := math.Floor(p.Y / grid.SquareSize)
	cols, rows := float64(grid.Cols), float64(grid.Rows)
	switch {
	case col < -2 || row < -2 || col > cols || row > rows:
		return float64(background)
	case col < -1 || row < -1 || col > cols-1 || row > rows-1:
		return 255
	case int(col+row)%2 == 0:
		return 0
	default:
		return 255
	}
}
