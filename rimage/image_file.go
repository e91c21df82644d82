package rimage

import (
	"bufio"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/zhanlv600/calibrate-camera/utils"
)

// OutputFormats are the extensions WriteImageToFile can encode, without the dot.
var OutputFormats = []string{"bmp", "png", "jpg", "jpeg", "gif", "tif", "tiff", "ppm", "qoi"}

// NormalizeFormat lower cases an extension and drops its leading dot.
func NormalizeFormat(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsOutputFormat reports whether ext (with or without a leading dot) can be written.
func IsOutputFormat(ext string) bool {
	ext = NormalizeFormat(ext)
	for _, f := range OutputFormats {
		if f == ext {
			return true
		}
	}
	return false
}

// ReadImageFromFile decodes the image at path. PPM and QOI files are decoded by their
// dedicated codecs, everything else through imaging.
func ReadImageFromFile(path string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ppm" && ext != ".qoi" {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, utils.NewIOFailureError("decode", path, err)
		}
		return img, nil
	}

	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.NewIOFailureError("open", path, err)
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var img image.Image
	if ext == ".qoi" {
		img, err = qoi.Decode(bufio.NewReader(f))
	} else {
		img, err = ppm.Decode(bufio.NewReader(f))
	}
	if err != nil {
		return nil, utils.NewIOFailureError("decode", path, err)
	}
	return img, nil
}

// WriteImageToFile encodes img in the format named by the path's extension.
func WriteImageToFile(path string, img image.Image) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !IsOutputFormat(ext) {
		return utils.NewIOFailureError("encode", path, errors.Errorf("unsupported image format %q", ext))
	}
	if ext != ".ppm" && ext != ".qoi" {
		if err := imaging.Save(img, path); err != nil {
			return utils.NewIOFailureError("write", path, err)
		}
		return nil
	}

	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return utils.NewIOFailureError("create", path, err)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if ext == ".qoi" {
		err = qoi.Encode(w, img)
	} else {
		err = ppm.Encode(w, toRGBA(img))
	}
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		return utils.NewIOFailureError("write", path, err)
	}
	return nil
}

// toRGBA returns img as an *image.RGBA, the only layout the ppm encoder accepts.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}
