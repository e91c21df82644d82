package rimage

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Blur returns a gaussian blurred copy of img. A non-positive sigma returns an unblurred copy.
func Blur(img image.Image, sigma float64) *image.NRGBA {
	if sigma <= 0 {
		return imaging.Clone(img)
	}
	return imaging.Blur(img, sigma)
}

// ShrinkToFit scales img down so that neither side exceeds maxDim, keeping the aspect ratio.
// It returns the scaled image and the factor applied to coordinates (1 when unchanged).
func ShrinkToFit(img image.Image, maxDim int) (image.Image, float64) {
	size := img.Bounds().Size()
	longest := size.X
	if size.Y > longest {
		longest = size.Y
	}
	if maxDim <= 0 || longest <= maxDim {
		return img, 1
	}
	var out image.Image
	if size.X >= size.Y {
		out = resize.Resize(uint(maxDim), 0, img, resize.Bilinear)
	} else {
		out = resize.Resize(0, uint(maxDim), img, resize.Bilinear)
	}
	return out, float64(out.Bounds().Dx()) / float64(size.X)
}
