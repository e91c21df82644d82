package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"
)

// GrayFloat converts an image to a luminance matrix with values in [0, 255]. Row y of the
// result is image row y, relative to the image bounds.
func GrayFloat(img image.Image) *mat.Dense {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := mat.NewDense(h, w, nil)
	if gray, ok := img.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
			for x, v := range row {
				out.Set(y, x, float64(v))
			}
		}
		return out
	}

	// imaging keeps 8 bits per channel, the same luminance weights as color.GrayModel
	nrgba := imaging.Grayscale(img)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*w]
		for x := 0; x < w; x++ {
			out.Set(y, x, float64(row[4*x]))
		}
	}
	return out
}

// FloatToGray converts a float matrix back to an 8-bit gray image, rounding and clamping.
func FloatToGray(m *mat.Dense) *image.Gray {
	h, w := m.Dims()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := math.Round(m.At(y, x))
			out.SetGray(x, y, color.Gray{Y: uint8(math.Max(0, math.Min(255, v)))})
		}
	}
	return out
}

// MaxAbs returns the largest absolute value in m.
func MaxAbs(m *mat.Dense) float64 {
	return math.Max(math.Abs(mat.Max(m)), math.Abs(mat.Min(m)))
}
