package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/zhanlv600/calibrate-camera/utils"
)

// Kernel is a convolution filter. Content is indexed [row][column].
type Kernel struct {
	Content [][]float64
	Height  int
	Width   int
}

// Size returns the kernel width and height.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the coefficient at column x, row y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}, 3, 3}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}, 3, 3}
}

// central difference kernels for first and second derivatives
var (
	derivX  = Kernel{[][]float64{{-0.5, 0, 0.5}}, 1, 3}
	derivY  = Kernel{[][]float64{{-0.5}, {0}, {0.5}}, 3, 1}
	derivXX = Kernel{[][]float64{{1, -2, 1}}, 1, 3}
	derivYY = Kernel{[][]float64{{1}, {-2}, {1}}, 3, 1}
	derivXY = Kernel{[][]float64{
		{0.25, 0, -0.25},
		{0, 0, 0},
		{-0.25, 0, 0.25},
	}, 3, 3}
)

// ConvolveGrayFloat64 applies the kernel to a float gray image (rows are y). The kernel is
// anchored at its centre and borders are replicated. There is no clamping of the output.
func ConvolveGrayFloat64(m *mat.Dense, kernel *Kernel) (*mat.Dense, error) {
	if kernel.Width%2 == 0 || kernel.Height%2 == 0 {
		return nil, errors.Errorf("kernel size must be odd, got %dx%d", kernel.Width, kernel.Height)
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	anchor := image.Point{kernel.Width / 2, kernel.Height / 2}

	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		sum := 0.0
		for ky := 0; ky < kernel.Height; ky++ {
			yy := clampInt(y+ky-anchor.Y, 0, h-1)
			for kx := 0; kx < kernel.Width; kx++ {
				kE := kernel.At(kx, ky)
				if kE == 0 {
					continue
				}
				xx := clampInt(x+kx-anchor.X, 0, w-1)
				sum += m.At(yy, xx) * kE
			}
		}
		result.Set(y, x, sum)
	})
	return result, nil
}

// Hessian holds the second derivatives of an image.
type Hessian struct {
	XX, YY, XY *mat.Dense
}

// ComputeHessian returns the central difference second derivatives of a float gray image.
func ComputeHessian(m *mat.Dense) (*Hessian, error) {
	var hess Hessian
	var err error
	if hess.XX, err = ConvolveGrayFloat64(m, &derivXX); err != nil {
		return nil, err
	}
	if hess.YY, err = ConvolveGrayFloat64(m, &derivYY); err != nil {
		return nil, err
	}
	if hess.XY, err = ConvolveGrayFloat64(m, &derivXY); err != nil {
		return nil, err
	}
	return &hess, nil
}

// ComputeGradient returns the central difference x and y derivatives of a float gray image.
func ComputeGradient(m *mat.Dense) (gx, gy *mat.Dense, err error) {
	if gx, err = ConvolveGrayFloat64(m, &derivX); err != nil {
		return nil, nil, err
	}
	if gy, err = ConvolveGrayFloat64(m, &derivY); err != nil {
		return nil, nil, err
	}
	return gx, gy, nil
}

// GetGaussianKernels returns the separable row and column kernels of a normalised gaussian with
// the given sigma, truncated at three sigma.
func GetGaussianKernels(sigma float64) (row, col Kernel) {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	coeffs := make([]float64, 2*radius+1)
	var total float64
	for i := range coeffs {
		d := float64(i - radius)
		coeffs[i] = math.Exp(-d * d / (2 * sigma * sigma))
		total += coeffs[i]
	}
	column := make([][]float64, len(coeffs))
	for i := range coeffs {
		coeffs[i] /= total
		column[i] = []float64{coeffs[i]}
	}
	return Kernel{[][]float64{coeffs}, 1, len(coeffs)}, Kernel{column, len(coeffs), 1}
}

// GaussianSmooth convolves a float gray image with a gaussian of the given sigma. A non-positive
// sigma returns the image unchanged.
func GaussianSmooth(m *mat.Dense, sigma float64) (*mat.Dense, error) {
	if sigma <= 0 {
		return m, nil
	}
	row, col := GetGaussianKernels(sigma)
	smoothed, err := ConvolveGrayFloat64(m, &row)
	if err != nil {
		return nil, err
	}
	return ConvolveGrayFloat64(smoothed, &col)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
