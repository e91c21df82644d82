package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/zhanlv600/calibrate-camera/spatialmath"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if !(params.Fx > 0) || math.IsInf(params.Fx, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if !(params.Fy > 0) || math.IsInf(params.Fy, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if math.IsNaN(params.Ppx) || math.IsInf(params.Ppx, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if math.IsNaN(params.Ppy) || math.IsInf(params.Ppy, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// PixelToNormalized removes the camera matrix from a pixel position.
func (params *PinholeCameraIntrinsics) PixelToNormalized(u, v float64) (float64, float64) {
	return (u - params.Ppx) / params.Fx, (v - params.Ppy) / params.Fy
}

// NormalizedToPixel applies the camera matrix to a normalized image position.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(x, y float64) (float64, float64) {
	return x*params.Fx + params.Ppx, y*params.Fy + params.Ppy
}

// PinholeCameraModel is the model of a pinhole camera with lens distortion.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               *BrownConrady `json:"distortion_parameters"`
}

// CheckValid checks the intrinsics and, when present, the distortion.
func (params *PinholeCameraModel) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("camera model does not exist")
	}
	if err := params.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return err
	}
	if params.Distortion != nil {
		return params.Distortion.CheckValid()
	}
	return nil
}

// Coefficients returns the distortion coefficients k1, k2, p1, p2, k3.
func (params *PinholeCameraModel) Coefficients() []float64 {
	return params.Distortion.Coefficients()
}

// ProjectNormalized distorts the undistorted normalized point and maps it to pixels.
func (params *PinholeCameraModel) ProjectNormalized(x, y float64) r2.Point {
	x, y = params.Distortion.Transform(x, y)
	u, v := params.NormalizedToPixel(x, y)
	return r2.Point{X: u, Y: v}
}

// ProjectPoint projects a point expressed in the camera frame. Points at or behind the camera
// plane have no image and yield NaN coordinates.
func (params *PinholeCameraModel) ProjectPoint(p r3.Vector) r2.Point {
	if p.Z <= 0 {
		return r2.Point{X: math.NaN(), Y: math.NaN()}
	}
	return params.ProjectNormalized(p.X/p.Z, p.Y/p.Z)
}

// ProjectPoints transforms object points by the pose (axis angle rotation, translation) and
// projects them into the image.
func (params *PinholeCameraModel) ProjectPoints(points []r3.Vector, rotation, translation r3.Vector) []r2.Point {
	rot := spatialmath.AxisAngleToMatrix(rotation)
	out := make([]r2.Point, len(points))
	for i, p := range points {
		camPt := r3.Vector{
			X: rot.At(0, 0)*p.X + rot.At(0, 1)*p.Y + rot.At(0, 2)*p.Z + translation.X,
			Y: rot.At(1, 0)*p.X + rot.At(1, 1)*p.Y + rot.At(1, 2)*p.Z + translation.Y,
			Z: rot.At(2, 0)*p.X + rot.At(2, 1)*p.Y + rot.At(2, 2)*p.Z + translation.Z,
		}
		out[i] = params.ProjectPoint(camPt)
	}
	return out
}

