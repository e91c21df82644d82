package transform

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/zhanlv600/calibrate-camera/utils"
)

// UndistortionMap stores, for every pixel of the rectified image, the position in the
// distorted source image to sample from.
type UndistortionMap struct {
	Width  int
	Height int
	// SourceSize is the resolution of the images the map samples from.
	SourceSize image.Point
	MapX       []float32
	MapY       []float32
}

// NewUndistortionMap computes the map for a destination image of the given size. rotation is
// the rectifying rotation (identity when nil) and newK the camera matrix of the rectified
// image (the model's own matrix when nil).
func NewUndistortionMap(model *PinholeCameraModel, rotation, newK *mat.Dense, size image.Point) (*UndistortionMap, error) {
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid map size %v", size)
	}
	if newK == nil {
		newK = model.GetCameraMatrix()
	}
	// inverse of newK * R is R^T * newK^-1
	var kInv mat.Dense
	if err := kInv.Inverse(newK); err != nil {
		return nil, errors.Wrap(err, "new camera matrix is not invertible")
	}
	back := &kInv
	if rotation != nil {
		var rk mat.Dense
		rk.Mul(rotation.T(), &kInv)
		back = &rk
	}
	b := back.RawMatrix()
	row := func(i int) (float64, float64, float64) {
		return b.Data[i*b.Stride], b.Data[i*b.Stride+1], b.Data[i*b.Stride+2]
	}
	a00, a01, a02 := row(0)
	a10, a11, a12 := row(1)
	a20, a21, a22 := row(2)

	um := &UndistortionMap{
		Width:      size.X,
		Height:     size.Y,
		SourceSize: image.Point{model.Width, model.Height},
		MapX:       make([]float32, size.X*size.Y),
		MapY:       make([]float32, size.X*size.Y),
	}
	utils.ParallelForEachPixel(size, func(u, v int) {
		fu, fv := float64(u), float64(v)
		x := a00*fu + a01*fv + a02
		y := a10*fu + a11*fv + a12
		w := a20*fu + a21*fv + a22
		idx := v*size.X + u
		if w == 0 {
			um.MapX[idx], um.MapY[idx] = float32(math.Inf(-1)), float32(math.Inf(-1))
			return
		}
		src := model.ProjectNormalized(x/w, y/w)
		um.MapX[idx] = float32(src.X)
		um.MapY[idx] = float32(src.Y)
	})
	return um, nil
}

// At returns the source position for destination pixel (u, v).
func (um *UndistortionMap) At(u, v int) (float64, float64) {
	idx := v*um.Width + u
	return float64(um.MapX[idx]), float64(um.MapY[idx])
}

// borderEpsilon is how far outside the source a sample may land, from rounding, and still be
// treated as on the border.
const borderEpsilon = 1e-3

// Remap builds the rectified image by bilinear sampling of src at the mapped positions.
// Positions outside the source take the fill color, opaque black when fill is nil.
func (um *UndistortionMap) Remap(src image.Image, fill color.Color) (*image.NRGBA, error) {
	if src == nil {
		return nil, errors.New("input image is nil")
	}
	size := src.Bounds().Size()
	if size != um.SourceSize {
		return nil, utils.NewDimensionMismatchError(um.SourceSize.X, um.SourceSize.Y, size.X, size.Y)
	}
	if fill == nil {
		fill = color.Black
	}
	fillColor := color.NRGBAModel.Convert(fill).(color.NRGBA)
	in := imaging.Clone(src)
	out := image.NewNRGBA(image.Rect(0, 0, um.Width, um.Height))
	maxX, maxY := float64(size.X-1), float64(size.Y-1)

	utils.ParallelForEachPixel(image.Point{um.Width, um.Height}, func(u, v int) {
		sx, sy := um.At(u, v)
		dst := out.Pix[v*out.Stride+4*u : v*out.Stride+4*u+4]
		if !(sx >= -borderEpsilon && sy >= -borderEpsilon && sx <= maxX+borderEpsilon && sy <= maxY+borderEpsilon) {
			dst[0], dst[1], dst[2], dst[3] = fillColor.R, fillColor.G, fillColor.B, fillColor.A
			return
		}
		sampleBilinear(in, math.Max(0, math.Min(maxX, sx)), math.Max(0, math.Min(maxY, sy)), dst)
	})
	return out, nil
}

// sampleBilinear writes the interpolated color of img at (x, y) into dst. Neighbours with
// zero weight are skipped so integer positions copy the source pixel exactly.
func sampleBilinear(img *image.NRGBA, x, y float64, dst []uint8) {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	var acc [4]float64
	for _, n := range [4]struct {
		dx, dy int
		w      float64
	}{
		{0, 0, (1 - fx) * (1 - fy)},
		{1, 0, fx * (1 - fy)},
		{0, 1, (1 - fx) * fy},
		{1, 1, fx * fy},
	} {
		if n.w == 0 {
			continue
		}
		off := (y0+n.dy)*img.Stride + 4*(x0+n.dx)
		for c := 0; c < 4; c++ {
			acc[c] += n.w * float64(img.Pix[off+c])
		}
	}
	for c := 0; c < 4; c++ {
		dst[c] = uint8(math.Max(0, math.Min(255, math.Round(acc[c]))))
	}
}

// Rectifier undistorts images taken with a calibrated camera. Maps are built on first use for
// each output resolution and reused afterwards. A Rectifier is safe for concurrent use.
type Rectifier struct {
	model *PinholeCameraModel
	fill  color.Color

	mu   sync.Mutex
	maps map[image.Point]*UndistortionMap
}

// NewRectifier creates a Rectifier for the model. Pixels that map outside the source image
// take the fill color, opaque black when fill is nil.
func NewRectifier(model *PinholeCameraModel, fill color.Color) (*Rectifier, error) {
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if fill == nil {
		fill = color.Black
	}
	return &Rectifier{model: model, fill: fill, maps: map[image.Point]*UndistortionMap{}}, nil
}

// Map returns the undistortion map for the given output size, building it if needed.
func (r *Rectifier) Map(size image.Point) (*UndistortionMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if um, ok := r.maps[size]; ok {
		return um, nil
	}
	um, err := NewUndistortionMap(r.model, nil, nil, size)
	if err != nil {
		return nil, err
	}
	r.maps[size] = um
	return um, nil
}

// Undistort returns the rectified version of img at the same resolution. img must have the
// resolution the model was calibrated at. Without distortion the result is a plain copy.
func (r *Rectifier) Undistort(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	size := img.Bounds().Size()
	if size.X != r.model.Width || size.Y != r.model.Height {
		return nil, utils.NewDimensionMismatchError(r.model.Width, r.model.Height, size.X, size.Y)
	}
	if r.model.Distortion.IsZero() {
		return imaging.Clone(img), nil
	}
	um, err := r.Map(size)
	if err != nil {
		return nil, err
	}
	return um.Remap(img, r.fill)
}
