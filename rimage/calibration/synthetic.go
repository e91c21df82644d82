package calibration

import (
	"image"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/spatialmath"
)

// ViewRange bounds the random views made by RandomPoses.
type ViewRange struct {
	// MaxTilt is the largest rotation about the board's X and Y axes, in radians.
	MaxTilt float64
	// MaxTwist is the largest rotation about the optical axis, in radians.
	MaxTwist  float64
	MinDepth  float64
	MaxDepth  float64
	MaxOffset float64
}

// DefaultViewRange gives tilts up to about 20 degrees at distances where the board, outer
// squares included, fills at most 60% of the image width.
func DefaultViewRange(grid calibrate.GridSpec, model *transform.PinholeCameraModel) ViewRange {
	extent := float64(max(grid.Rows, grid.Cols)+1) * grid.SquareSize
	depth := model.Fx * extent / (0.6 * float64(model.Width))
	return ViewRange{MaxTilt: 0.35, MaxTwist: 0.1, MinDepth: depth, MaxDepth: 1.25 * depth, MaxOffset: 0.1 * extent}
}

// RandomPoses returns count poses that look at the middle of the board from random
// directions. The board's middle lands at most MaxOffset from the optical axis.
func RandomPoses(grid calibrate.GridSpec, count int, views ViewRange, rng *rand.Rand) []Pose {
	centre := r3.Vector{
		X: float64(grid.Cols-1) * grid.SquareSize / 2,
		Y: float64(grid.Rows-1) * grid.SquareSize / 2,
	}
	uniform := func(limit float64) float64 {
		return (2*rng.Float64() - 1) * limit
	}
	poses := make([]Pose, count)
	for i := range poses {
		rotation := r3.Vector{X: uniform(views.MaxTilt), Y: uniform(views.MaxTilt), Z: uniform(views.MaxTwist)}
		target := r3.Vector{
			X: uniform(views.MaxOffset),
			Y: uniform(views.MaxOffset),
			Z: views.MinDepth + rng.Float64()*(views.MaxDepth-views.MinDepth),
		}
		poses[i] = Pose{
			Rotation:    rotation,
			Translation: target.Sub(spatialmath.RotatePoint(rotation, centre)),
		}
	}
	return poses
}

// RenderViews draws the board once per pose. Every intersection must be in front of the
// camera and inside the image.
func RenderViews(
	grid calibrate.GridSpec,
	model *transform.PinholeCameraModel,
	poses []Pose,
	opts calibrate.RenderOptions,
) ([]*image.Gray, error) {
	objects := grid.ObjectPoints()
	width, height := float64(model.Width-1), float64(model.Height-1)
	images := make([]*image.Gray, len(poses))
	for i, pose := range poses {
		for j, p := range model.ProjectPoints(objects, pose.Rotation, pose.Translation) {
			if pose.Transform(objects[j]).Z <= 0 || math.IsNaN(p.X) || p.X < 0 || p.Y < 0 || p.X > width || p.Y > height {
				return nil, errors.Errorf("view %d does not show the whole board", i)
			}
		}
		img, err := calibrate.RenderBoard(grid, model, pose.Rotation, pose.Translation, opts)
		if err != nil {
			return nil, err
		}
		images[i] = img
	}
	return images, nil
}
