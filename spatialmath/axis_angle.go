package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// See https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
// An axis angle can be stored as four numbers (R4: a unit axis and theta), or as an R3 vector
// whose direction is the axis and whose length is theta. Camera poses use the R3 form.

// R4AA represents an R4 axis angle.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA creates a zero rotation about the Z axis.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// ToR3 converts an R4 angle axis to R3.
func (r4 *R4AA) ToR3() r3.Vector {
	return r3.Vector{X: r4.RX * r4.Theta, Y: r4.RY * r4.Theta, Z: r4.RZ * r4.Theta}
}

// ToQuat converts an R4 axis angle to a unit quaternion.
func (r4 *R4AA) ToQuat() quat.Number {
	if r4.Theta == 0 {
		return quat.Number{Real: 1}
	}
	norm := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	sinA := math.Sin(r4.Theta/2) / norm
	return quat.Number{Real: math.Cos(r4.Theta / 2), Imag: r4.RX * sinA, Jmag: r4.RY * sinA, Kmag: r4.RZ * sinA}
}

// R3ToR4 converts an R3 angle axis to R4.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta == 0 {
		return NewR4AA()
	}
	return &R4AA{theta, aa.X / theta, aa.Y / theta, aa.Z / theta}
}

// RotatePoint applies the rotation described by the R3 axis angle aa to p.
func RotatePoint(aa r3.Vector, p r3.Vector) r3.Vector {
	q := R3ToR4(aa).ToQuat()
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: p.X, Jmag: p.Y, Kmag: p.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// AxisAngleToMatrix converts an R3 axis angle to a 3x3 rotation matrix (Rodrigues' formula).
func AxisAngleToMatrix(aa r3.Vector) *mat.Dense {
	theta := aa.Norm()
	if theta < 1e-12 {
		// first order expansion, exact enough at this size
		return mat.NewDense(3, 3, []float64{
			1, -aa.Z, aa.Y,
			aa.Z, 1, -aa.X,
			-aa.Y, aa.X, 1,
		})
	}
	k := aa.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + t*k.X*k.X, t*k.X*k.Y - s*k.Z, t*k.X*k.Z + s*k.Y,
		t*k.Y*k.X + s*k.Z, c + t*k.Y*k.Y, t*k.Y*k.Z - s*k.X,
		t*k.Z*k.X - s*k.Y, t*k.Z*k.Y + s*k.X, c + t*k.Z*k.Z,
	})
}

// MatrixToAxisAngle converts a 3x3 rotation matrix to an R3 axis angle with theta in [0, pi].
func MatrixToAxisAngle(rot mat.Matrix) r3.Vector {
	anti := r3.Vector{
		X: rot.At(2, 1) - rot.At(1, 2),
		Y: rot.At(0, 2) - rot.At(2, 0),
		Z: rot.At(1, 0) - rot.At(0, 1),
	}
	cosTheta := (rot.At(0, 0) + rot.At(1, 1) + rot.At(2, 2) - 1) / 2
	sinTheta := anti.Norm() / 2
	theta := math.Atan2(sinTheta, cosTheta)

	switch {
	case sinTheta > 1e-7:
		return anti.Mul(theta / (2 * sinTheta))
	case cosTheta > 0:
		return anti.Mul(0.5)
	}

	// theta is pi: R = 2kk^T - I, so the axis comes from the symmetric part.
	diag := []float64{(rot.At(0, 0) + 1) / 2, (rot.At(1, 1) + 1) / 2, (rot.At(2, 2) + 1) / 2}
	var k r3.Vector
	switch {
	case diag[0] >= diag[1] && diag[0] >= diag[2]:
		k.X = math.Sqrt(diag[0])
		k.Y = (rot.At(0, 1) + rot.At(1, 0)) / (4 * k.X)
		k.Z = (rot.At(0, 2) + rot.At(2, 0)) / (4 * k.X)
	case diag[1] >= diag[2]:
		k.Y = math.Sqrt(diag[1])
		k.X = (rot.At(0, 1) + rot.At(1, 0)) / (4 * k.Y)
		k.Z = (rot.At(1, 2) + rot.At(2, 1)) / (4 * k.Y)
	default:
		k.Z = math.Sqrt(diag[2])
		k.X = (rot.At(0, 2) + rot.At(2, 0)) / (4 * k.Z)
		k.Y = (rot.At(1, 2) + rot.At(2, 1)) / (4 * k.Z)
	}
	return k.Normalize().Mul(theta)
}

// NearestRotation returns the rotation matrix closest to m in the Frobenius norm, U*V^T from
// the SVD of m with the sign of the last singular direction flipped when needed to keep
// det = +1.
func NearestRotation(m mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("svd factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	return &rot, nil
}
