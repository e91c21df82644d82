package calibrate

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/zhanlv600/calibrate-camera/rimage"
)

// SubPixConfig controls RefineCornersSubPix.
type SubPixConfig struct {
	// HalfWindow is the half size of the search window, which is (2*HalfWindow+1) pixels wide.
	HalfWindow int
	// Epsilon stops the iteration once the corner moves less than this many pixels.
	Epsilon float64
	// MaxIterations bounds the iteration count per corner.
	MaxIterations int
}

// gaussian applied before differentiating
const subPixSmoothSigma = 1.0

// RefineCornersSubPix moves each corner to the point q where the image gradient at every
// window position p is orthogonal to p - q. On an ideal intersection every edge passes through
// q, which makes q the solution of sum(g g^T) q = sum(g g^T p). The gradient of a lightly
// smoothed copy of gray is computed once and sampled bilinearly at the window positions, which
// are weighted by a gaussian centred on the window. Windows wider than 5 pixels ignore their
// centre. A corner that would leave its window keeps its starting position.
func RefineCornersSubPix(ctx context.Context, gray *mat.Dense, corners []r2.Point, cfg SubPixConfig) ([]r2.Point, error) {
	smoothed, err := rimage.GaussianSmooth(gray, subPixSmoothSigma)
	if err != nil {
		return nil, err
	}
	gradX, gradY, err := rimage.ComputeGradient(smoothed)
	if err != nil {
		return nil, err
	}
	weights := subPixWeights(cfg.HalfWindow)
	win := cfg.HalfWindow

	refined := make([]r2.Point, len(corners))
	for n, start := range corners {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q := start
		for iter := 0; iter < cfg.MaxIterations; iter++ {
			var a00, a01, a11, b0, b1 float64
			for j := -win; j <= win; j++ {
				for i := -win; i <= win; i++ {
					w := weights[(j+win)*(2*win+1)+i+win]
					if w == 0 {
						continue
					}
					px, py := q.X+float64(i), q.Y+float64(j)
					gx := rimage.BilinearAt(gradX, px, py)
					gy := rimage.BilinearAt(gradY, px, py)
					gxx, gxy, gyy := w*gx*gx, w*gx*gy, w*gy*gy
					a00 += gxx
					a01 += gxy
					a11 += gyy
					b0 += gxx*px + gxy*py
					b1 += gxy*px + gyy*py
				}
			}
			det := a00*a11 - a01*a01
			if det == 0 || math.Abs(det) < 1e-9*(a00+a11)*(a00+a11) {
				break
			}
			next := r2.Point{
				X: (a11*b0 - a01*b1) / det,
				Y: (a00*b1 - a01*b0) / det,
			}
			shift := next.Sub(q).Norm()
			q = next
			if shift < cfg.Epsilon {
				break
			}
		}
		if math.Abs(q.X-start.X) > float64(win) || math.Abs(q.Y-start.Y) > float64(win) ||
			math.IsNaN(q.X) || math.IsNaN(q.Y) {
			q = start
		}
		refined[n] = q
	}
	return refined, nil
}

// subPixWeights returns the row-major window weights exp(-(i*i+j*j)/win^2), zero inside a
// central zone of half size win/3.
func subPixWeights(win int) []float64 {
	size := 2*win + 1
	zero := win / 3
	scale := float64(win * win)
	weights := make([]float64, size*size)
	for j := -win; j <= win; j++ {
		for i := -win; i <= win; i++ {
			if zero > 0 && abs(i) <= zero && abs(j) <= zero {
				continue
			}
			weights[(j+win)*size+i+win] = math.Exp(-float64(i*i+j*j) / scale)
		}
	}
	return weights
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
