package rimage

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

// ramp returns an image whose value at (x, y) is a*x + b*y + c.
func ramp(w, h int, a, b, c float64) *mat.Dense {
	m := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(y, x, a*float64(x)+b*float64(y)+c)
		}
	}
	return m
}

func TestGrayFloat(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 2))
	gray.SetGray(2, 1, color.Gray{Y: 200})
	m := GrayFloat(gray)
	r, c := m.Dims()
	test.That(t, r, test.ShouldEqual, 2)
	test.That(t, c, test.ShouldEqual, 3)
	test.That(t, m.At(1, 2), test.ShouldEqual, 200.0)
	test.That(t, m.At(0, 0), test.ShouldEqual, 0.0)

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 2))
	rgba.Set(1, 0, color.RGBA{255, 255, 255, 255})
	rgba.Set(0, 1, color.RGBA{0, 0, 255, 255})
	m = GrayFloat(rgba)
	test.That(t, m.At(0, 1), test.ShouldEqual, 255.0)
	test.That(t, m.At(1, 0), test.ShouldBeBetween, 25.0, 35.0)

	// -49.6, 70.4, 190.4 and 310.4 along x
	back := FloatToGray(ramp(4, 4, 120, 0, -49.6))
	test.That(t, back.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))
	test.That(t, back.GrayAt(1, 0).Y, test.ShouldEqual, uint8(70))
	test.That(t, back.GrayAt(2, 0).Y, test.ShouldEqual, uint8(190))
	test.That(t, back.GrayAt(3, 0).Y, test.ShouldEqual, uint8(255))
}

func TestConvolution(t *testing.T) {
	m := ramp(9, 7, 2, -3, 10)
	gx, gy, err := ComputeGradient(m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gx.At(3, 4), test.ShouldAlmostEqual, 2.0)
	test.That(t, gy.At(3, 4), test.ShouldAlmostEqual, -3.0)
	// replicated border halves the difference
	test.That(t, gx.At(3, 0), test.ShouldAlmostEqual, 1.0)

	hess, err := ComputeHessian(m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, MaxAbs(hess.XX.Slice(1, 6, 1, 8).(*mat.Dense)), test.ShouldAlmostEqual, 0.0)

	// f = x*y has a saddle with fxy = 1
	saddle := mat.NewDense(5, 5, nil)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			saddle.Set(y, x, float64((x-2)*(y-2)))
		}
	}
	hess, err = ComputeHessian(saddle)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hess.XY.At(2, 2), test.ShouldAlmostEqual, 1.0)
	test.That(t, hess.XX.At(2, 2), test.ShouldAlmostEqual, 0.0)

	sobel := GetSobelX()
	conv, err := ConvolveGrayFloat64(m, &sobel)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conv.At(3, 4), test.ShouldAlmostEqual, 16.0)

	_, err = ConvolveGrayFloat64(m, &Kernel{[][]float64{{1, 1}}, 1, 2})
	test.That(t, err, test.ShouldNotBeNil)

	row, col := GetGaussianKernels(1)
	test.That(t, row.Size(), test.ShouldResemble, image.Point{7, 1})
	test.That(t, col.Size(), test.ShouldResemble, image.Point{1, 7})
	var total float64
	for _, v := range row.Content[0] {
		total += v
	}
	test.That(t, total, test.ShouldAlmostEqual, 1.0)

	// a symmetric kernel leaves a plane alone away from the border
	wide := ramp(15, 15, 2, -3, 10)
	smooth, err := GaussianSmooth(wide, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, smooth.At(7, 7), test.ShouldAlmostEqual, wide.At(7, 7))
	test.That(t, smooth.At(5, 9), test.ShouldAlmostEqual, wide.At(5, 9))
	same, err := GaussianSmooth(wide, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same, test.ShouldEqual, wide)
}

func TestBilinearAt(t *testing.T) {
	m := ramp(5, 4, 1.5, 4, 2)
	test.That(t, BilinearAt(m, 2, 1), test.ShouldEqual, m.At(1, 2))
	test.That(t, BilinearAt(m, 4, 3), test.ShouldEqual, m.At(3, 4))
	test.That(t, BilinearAt(m, 1.25, 2.5), test.ShouldAlmostEqual, 1.5*1.25+4*2.5+2)
	test.That(t, BilinearAt(m, -3, 0), test.ShouldEqual, m.At(0, 0))
	test.That(t, BilinearAt(m, 10, 10), test.ShouldEqual, m.At(3, 4))
}

func TestImageFileRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 6, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 6; x++ {
			src.Set(x, y, color.NRGBA{uint8(40 * x), uint8(50 * y), 90, 255})
		}
	}
	dir := t.TempDir()
	for _, ext := range []string{"bmp", "png", "ppm", "qoi"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "img."+ext)
			test.That(t, WriteImageToFile(path, src), test.ShouldBeNil)
			got, err := ReadImageFromFile(path)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got.Bounds().Size(), test.ShouldResemble, image.Point{6, 5})
			for y := 0; y < 5; y++ {
				for x := 0; x < 6; x++ {
					r0, g0, b0, _ := src.At(x, y).RGBA()
					r1, g1, b1, _ := got.At(x, y).RGBA()
					test.That(t, r1>>8, test.ShouldEqual, r0>>8)
					test.That(t, g1>>8, test.ShouldEqual, g0>>8)
					test.That(t, b1>>8, test.ShouldEqual, b0>>8)
				}
			}
		})
	}

	gray := image.NewGray(image.Rect(2, 3, 6, 6))
	gray.SetGray(3, 4, color.Gray{Y: 170})
	grayPath := filepath.Join(dir, "gray.ppm")
	test.That(t, WriteImageToFile(grayPath, gray), test.ShouldBeNil)
	got, err := ReadImageFromFile(grayPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Bounds().Size(), test.ShouldResemble, image.Point{4, 3})
	r, g, b, _ := got.At(1, 1).RGBA()
	test.That(t, []uint32{r >> 8, g >> 8, b >> 8}, test.ShouldResemble, []uint32{170, 170, 170})

	test.That(t, IsOutputFormat(".BMP"), test.ShouldBeTrue)
	test.That(t, NormalizeFormat(".PnG"), test.ShouldEqual, "png")
	test.That(t, IsOutputFormat("webp"), test.ShouldBeFalse)
	test.That(t, WriteImageToFile(filepath.Join(dir, "img.webp"), src), test.ShouldNotBeNil)
	_, err = ReadImageFromFile(filepath.Join(dir, "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDrawing(t *testing.T) {
	colors := Palette(6)
	test.That(t, len(colors), test.ShouldEqual, 6)
	for i := 1; i < len(colors); i++ {
		test.That(t, colors[i], test.ShouldNotResemble, colors[i-1])
	}

	dc := gg.NewContext(40, 40)
	dc.SetColor(color.Black)
	dc.Clear()
	DrawCross(dc, r2.Point{X: 20, Y: 20}, 5, color.White, 1)
	DrawPolyline(dc, []r2.Point{{X: 2, Y: 35}, {X: 38, Y: 35}}, color.White, 2)
	DrawString(dc, "7", r2.Point{X: 2, Y: 2}, color.White, 10)
	r, _, _, _ := dc.Image().At(20, 20).RGBA()
	test.That(t, r, test.ShouldBeGreaterThan, 0)
	r, _, _, _ = dc.Image().At(20, 35).RGBA()
	test.That(t, r, test.ShouldBeGreaterThan, 0)
}

func TestResizeAndBlur(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 400, 200))
	img.SetGray(200, 100, color.Gray{Y: 255})

	small, scale := ShrinkToFit(img, 100)
	test.That(t, small.Bounds().Size(), test.ShouldResemble, image.Point{100, 50})
	test.That(t, scale, test.ShouldAlmostEqual, 0.25)

	same, scale := ShrinkToFit(img, 0)
	test.That(t, same.Bounds(), test.ShouldResemble, img.Bounds())
	test.That(t, scale, test.ShouldEqual, 1.0)

	blurred := GrayFloat(Blur(img, 1.5))
	test.That(t, blurred.At(100, 200), test.ShouldBeLessThan, 255.0)
	test.That(t, blurred.At(100, 201), test.ShouldBeGreaterThan, 0.0)
	test.That(t, math.IsNaN(blurred.At(0, 0)), test.ShouldBeFalse)
}
