package rimage

import (
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context with its top left corner at p.
func DrawString(dc *gg.Context, text string, p r2.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringAnchored(text, p.X, p.Y, 0, 1)
}

// DrawCross draws an x shaped marker of the given half size centred on p.
func DrawCross(dc *gg.Context, p r2.Point, halfSize float64, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawLine(p.X-halfSize, p.Y-halfSize, p.X+halfSize, p.Y+halfSize)
	dc.Stroke()
	dc.DrawLine(p.X-halfSize, p.Y+halfSize, p.X+halfSize, p.Y-halfSize)
	dc.Stroke()
}

// DrawPolyline strokes straight segments through the points in order.
func DrawPolyline(dc *gg.Context, points []r2.Point, c color.Color, width float64) {
	if len(points) < 2 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.MoveTo(points[0].X, points[0].Y)
	for _, p := range points[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.Stroke()
}

// Palette returns n visually distinct colors spread evenly around the hue circle.
func Palette(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		hue := 360 * float64(i) / float64(n)
		colors[i] = colorful.Hsv(hue, 0.85, 0.95).Clamped()
	}
	return colors
}
