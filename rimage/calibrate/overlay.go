package calibrate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"

	"github.com/zhanlv600/calibrate-camera/rimage"
)

// DrawCorners returns a copy of img with the detected grid drawn on top: every row of
// intersections is joined by a line in its own color, each intersection is marked with a cross,
// and the first point of every row is labelled with its index.
func DrawCorners(img image.Image, obs *ImageObservation, grid GridSpec) (image.Image, error) {
	if err := obs.Validate(grid); err != nil {
		return nil, err
	}
	dc := gg.NewContextForImage(img)
	size := img.Bounds().Size()
	scale := float64(max(size.X, size.Y)) / 640
	markerSize := 4 * scale
	lineWidth := max(1, 1.5*scale)

	colors := rimage.Palette(grid.Rows)
	for row := 0; row < grid.Rows; row++ {
		line := obs.Points[grid.Index(row, 0) : grid.Index(row, grid.Cols-1)+1]
		rimage.DrawPolyline(dc, line, colors[row], lineWidth)
		for _, p := range line {
			rimage.DrawCross(dc, p, markerSize, colors[row], lineWidth)
		}
		label := line[0].Add(r2.Point{X: markerSize, Y: markerSize})
		rimage.DrawString(dc, fmt.Sprint(grid.Index(row, 0)), label, color.White, 10*scale)
	}
	return dc.Image(), nil
}
