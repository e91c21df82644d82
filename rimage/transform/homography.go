package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 projective transform between two planes.
type Homography struct {
	matrix *mat.Dense
}

// NewHomography creates a Homography from 9 values in row-major order.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	data := make([]float64, 9)
	copy(data, vals)
	return &Homography{mat.NewDense(3, 3, data)}, nil
}

// At returns the value of the homography at the given row and column.
func (h *Homography) At(row, col int) float64 {
	return h.matrix.At(row, col)
}

// Matrix returns a copy of the 3x3 matrix.
func (h *Homography) Matrix() *mat.Dense {
	return mat.DenseCopyOf(h.matrix)
}

// Apply maps a point through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the homography mapping in the opposite direction.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.matrix); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return &Homography{&inv}, nil
}

// EstimateHomography computes the homography mapping src[i] to dst[i] with the normalized direct
// linear transform. At least 4 correspondences, no 3 of them collinear, are required. The
// result is scaled so that H[2][2] is 1 when possible.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point count mismatch: %d source, %d destination", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 correspondences, got %d", len(src))
	}
	srcNorm, srcT := normalizePoints(src)
	dstNorm, dstT := normalizePoints(dst)

	// pad to at least 9 rows so the SVD always yields the full null space basis
	rows := 2 * len(src)
	if rows < 9 {
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range srcNorm {
		x, y := srcNorm[i].X, srcNorm[i].Y
		u, v := dstNorm[i].X, dstNorm[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.New("homography svd factorization failed")
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[7]/values[0] < 1e-10 {
		return nil, errors.New("degenerate point configuration for homography")
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	// H = dstT^-1 * Hn * srcT
	var dstTInv, tmp, h mat.Dense
	if err := dstTInv.Inverse(dstT); err != nil {
		return nil, errors.Wrap(err, "degenerate destination points")
	}
	tmp.Mul(&dstTInv, hn)
	h.Mul(&tmp, srcT)
	if scale := h.At(2, 2); math.Abs(scale) > 1e-12 {
		h.Scale(1/scale, &h)
	}
	return &Homography{&h}, nil
}

// normalizePoints translates the points to their centroid and scales them to an average
// distance of sqrt(2) from it. It returns the moved points and the 3x3 similarity applied.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	var centroid r2.Point
	for _, p := range pts {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(pts)))

	meanDist := 0.0
	for _, p := range pts {
		meanDist += p.Sub(centroid).Norm()
	}
	meanDist /= float64(len(pts))
	scale := 1.0
	if meanDist > 0 {
		scale = math.Sqrt2 / meanDist
	}

	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(centroid).Mul(scale)
	}
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * centroid.X,
		0, scale, -scale * centroid.Y,
		0, 0, 1,
	})
	return out, t
}
