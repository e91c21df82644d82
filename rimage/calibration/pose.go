// Package calibration estimates the intrinsic parameters and lens distortion of a camera from
// several views of a planar checkerboard, and evaluates how well the result explains them.
package calibration

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/zhanlv600/calibrate-camera/spatialmath"
)

// Pose takes points from the board frame into the camera frame: p_cam = R * p_board + T.
// Rotation is an axis angle vector whose norm is the angle in radians.
type Pose struct {
	Rotation    r3.Vector `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

// RotationMatrix returns R as a 3x3 matrix.
func (p Pose) RotationMatrix() *mat.Dense {
	return spatialmath.AxisAngleToMatrix(p.Rotation)
}

// Transform applies the pose to a board point.
func (p Pose) Transform(pt r3.Vector) r3.Vector {
	return spatialmath.RotatePoint(p.Rotation, pt).Add(p.Translation)
}

func (p Pose) vector() []float64 {
	return []float64{p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Translation.X, p.Translation.Y, p.Translation.Z}
}

func poseFromVector(v []float64) Pose {
	return Pose{
		Rotation:    r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Translation: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
	}
}
