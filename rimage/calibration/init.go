package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
	"github.com/zhanlv600/calibrate-camera/spatialmath"
)

// boardHomographies fits, for every observation, the homography taking board coordinates
// (X, Y) to image pixels.
func boardHomographies(grid calibrate.GridSpec, obs []*calibrate.ImageObservation) ([]*transform.Homography, error) {
	objectPts := make([]r2.Point, grid.Count())
	for i, p := range grid.ObjectPoints() {
		objectPts[i] = r2.Point{X: p.X, Y: p.Y}
	}
	homographies := make([]*transform.Homography, len(obs))
	for i, o := range obs {
		h, err := transform.EstimateHomography(objectPts, o.Points)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", o.Index)
		}
		homographies[i] = h
	}
	return homographies, nil
}

// initFocalLengths solves for fx and fy with the principal point held at (cx, cy). Each view
// gives two linear constraints on 1/fx^2 and 1/fy^2: its first two rotation columns are
// orthogonal and of equal length. ok is false when the views do not determine the focal
// lengths, as happens when every board faces the camera.
func initFocalLengths(homographies []*transform.Homography, cx, cy float64, sameAspect bool) (fx, fy float64, ok bool) {
	rows := 2 * len(homographies)
	a := mat.NewDense(rows, 2, nil)
	b := mat.NewVecDense(rows, nil)
	for i, h := range homographies {
		// columns of H with the principal point moved to the origin
		var col [2]r3.Vector
		for j := 0; j < 2; j++ {
			col[j] = r3.Vector{
				X: h.At(0, j) - cx*h.At(2, j),
				Y: h.At(1, j) - cy*h.At(2, j),
				Z: h.At(2, j),
			}
		}
		// the two axes are orthogonal, and so are the diagonals since the axes have equal
		// length. Vanishing points are scaled to unit norm to keep the rows comparable.
		pairs := [2][2]r3.Vector{
			{col[0], col[1]},
			{col[0].Add(col[1]), col[0].Sub(col[1])},
		}
		for j, pair := range pairs {
			u, v := pair[0].Normalize(), pair[1].Normalize()
			a.Set(2*i+j, 0, u.X*v.X)
			a.Set(2*i+j, 1, u.Y*v.Y)
			b.SetVec(2*i+j, -u.Z*v.Z)
		}
	}

	if mat.Norm(b, 2) < 1e-9 {
		return 0, 0, false
	}

	if sameAspect {
		merged := mat.NewDense(rows, 1, nil)
		for r := 0; r < rows; r++ {
			merged.Set(r, 0, a.At(r, 0)+a.At(r, 1))
		}
		var sol mat.VecDense
		if err := sol.SolveVec(merged, b); err != nil || !(sol.AtVec(0) > 0) {
			return 0, 0, false
		}
		f := 1 / math.Sqrt(sol.AtVec(0))
		return f, f, true
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return 0, 0, false
	}
	invFx2, invFy2 := sol.AtVec(0), sol.AtVec(1)
	if !(invFx2 > 0) || !(invFy2 > 0) {
		return 0, 0, false
	}
	return 1 / math.Sqrt(invFx2), 1 / math.Sqrt(invFy2), true
}

// poseFromHomography recovers the board pose from H = K [r1 r2 t].
func poseFromHomography(h *transform.Homography, k *mat.Dense) (Pose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return Pose{}, err
	}
	var m mat.Dense
	m.Mul(&kInv, h.Matrix())
	r1 := r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
	r2v := r3.Vector{X: m.At(0, 1), Y: m.At(1, 1), Z: m.At(2, 1)}
	t := r3.Vector{X: m.At(0, 2), Y: m.At(1, 2), Z: m.At(2, 2)}

	scale := 2 / (r1.Norm() + r2v.Norm())
	if t.Z < 0 {
		// the board is in front of the camera
		scale = -scale
	}
	r1, r2v, t = r1.Mul(scale), r2v.Mul(scale), t.Mul(scale)
	r3v := r1.Cross(r2v)

	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})
	rot, err := spatialmath.NearestRotation(approx)
	if err != nil {
		return Pose{}, err
	}
	return Pose{Rotation: spatialmath.MatrixToAxisAngle(rot), Translation: t}, nil
}

// initialModel builds the starting point for refinement: focal lengths from the homography
// constraints, principal point at the image centre, no distortion, and one pose per view.
func initialModel(
	grid calibrate.GridSpec,
	obs []*calibrate.ImageObservation,
	cfg SolverConfig,
	logger logging.Logger,
) (*transform.PinholeCameraModel, []Pose, error) {
	size := obs[0].Size
	cx, cy := (float64(size.X)-1)/2, (float64(size.Y)-1)/2

	homographies, err := boardHomographies(grid, obs)
	if err != nil {
		return nil, nil, err
	}
	fx, fy, ok := initFocalLengths(homographies, cx, cy, cfg.FixAspectRatio)
	if !ok {
		f := float64(max(size.X, size.Y))
		logger.Warnw("views do not constrain the focal length, starting from a guess", "focal", f)
		fx, fy = f, f
	}
	logger.Debugw("initial intrinsics", "fx", fx, "fy", fy, "cx", cx, "cy", cy)

	model := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: size.X, Height: size.Y, Fx: fx, Fy: fy, Ppx: cx, Ppy: cy,
		},
		Distortion: &transform.BrownConrady{},
	}
	k := model.GetCameraMatrix()
	poses := make([]Pose, len(obs))
	for i, h := range homographies {
		if poses[i], err = poseFromHomography(h, k); err != nil {
			return nil, nil, errors.Wrapf(err, "image %d", obs[i].Index)
		}
	}
	return model, poses, nil
}
