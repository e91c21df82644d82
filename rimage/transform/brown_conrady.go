package transform

import (
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidDistortion is wrapped by InvalidDistortionError.
var ErrInvalidDistortion = errors.New("invalid distortion_parameters")

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(ErrInvalidDistortion, msg)
}

// BrownConrady is the radial and tangential lens distortion model. It maps undistorted
// normalized coordinates to distorted ones:
//
//	x_d = x * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x*y + p2*(r² + 2*x²)
//	y_d = y * (1 + k1*r² + k2*r⁴ + k3*r⁶) + p1*(r² + 2*y²) + 2*p2*x*y
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConradyFromCoefficients takes the coefficient vector in the order k1, k2, p1, p2, k3.
func NewBrownConradyFromCoefficients(coeffs []float64) (*BrownConrady, error) {
	vals, err := padParameters(coeffs)
	if err != nil {
		return nil, err
	}
	return &BrownConrady{RadialK1: vals[0], RadialK2: vals[1], TangentialP1: vals[2], TangentialP2: vals[3], RadialK3: vals[4]}, nil
}

func padParameters(inp []float64) ([]float64, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	vals := make([]float64, 5)
	copy(vals, inp)
	return vals, nil
}

// CheckValid checks that every coefficient is finite.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	for _, v := range bc.Parameters() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return InvalidDistortionError("distortion coefficients must be finite")
		}
	}
	return nil
}

// Parameters returns k1, k2, k3, p1, p2.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Coefficients returns k1, k2, p1, p2, k3, the order calibration reports use.
func (bc *BrownConrady) Coefficients() []float64 {
	if bc == nil {
		return make([]float64, 5)
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// IsZero is true when the model leaves every point unchanged.
func (bc *BrownConrady) IsZero() bool {
	return bc == nil || *bc == BrownConrady{}
}

// Transform distorts the undistorted normalized point (x, y).
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	return bc.distort(x, y)
}

// Inverse returns the model that undoes this distortion.
func (bc *BrownConrady) Inverse() *InverseBrownConrady {
	if bc == nil {
		return nil
	}
	return &InverseBrownConrady{
		RadialK1:     bc.RadialK1,
		RadialK2:     bc.RadialK2,
		RadialK3:     bc.RadialK3,
		TangentialP1: bc.TangentialP1,
		TangentialP2: bc.TangentialP2,
	}
}

func (bc *BrownConrady) distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := 1 + r2*(bc.RadialK1+r2*(bc.RadialK2+r2*bc.RadialK3))
	xd := x*radial + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radial + bc.TangentialP1*(r2+2*y*y) + 2*bc.TangentialP2*x*y
	return xd, yd
}

// jacobian returns the partial derivatives of the distorted point with respect to (x, y).
func (bc *BrownConrady) jacobian(x, y float64) (dxdx, dxdy, dydx, dydy float64) {
	r2 := x*x + y*y
	radial := 1 + r2*(bc.RadialK1+r2*(bc.RadialK2+r2*bc.RadialK3))
	// d(radial)/d(r2)
	dRadial := bc.RadialK1 + 2*bc.RadialK2*r2 + 3*bc.RadialK3*r2*r2
	p1, p2 := bc.TangentialP1, bc.TangentialP2

	dxdx = radial + 2*x*x*dRadial + 2*p1*y + 6*p2*x
	dxdy = 2*x*y*dRadial + 2*p1*x + 2*p2*y
	dydx = 2*x*y*dRadial + 2*p1*x + 2*p2*y
	dydy = radial + 2*y*y*dRadial + 6*p1*y + 2*p2*x
	return dxdx, dxdy, dydx, dydy
}
