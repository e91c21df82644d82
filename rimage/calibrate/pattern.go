// Package calibrate finds the inner corners of a planar checkerboard in images and labels them
// in a fixed grid order.
package calibrate

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/zhanlv600/calibrate-camera/utils"
)

// GridSpec describes a checkerboard by its inner intersections: Rows along the board's
// vertical axis, Cols along its horizontal axis, and the edge length of one square.
type GridSpec struct {
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	SquareSize float64 `json:"square_size"`
}

// Validate checks that the grid has at least 2x2 intersections and a positive square size.
func (g GridSpec) Validate() error {
	if g.Rows < 2 || g.Cols < 2 {
		return errors.Errorf("grid must have at least 2x2 inner corners, got %dx%d", g.Rows, g.Cols)
	}
	if !(g.SquareSize > 0) {
		return errors.Errorf("square size must be positive, got %v", g.SquareSize)
	}
	return nil
}

// Count is the number of intersections.
func (g GridSpec) Count() int {
	return g.Rows * g.Cols
}

// Index is the position of intersection (row, col) in every point list.
func (g GridSpec) Index(row, col int) int {
	return row*g.Cols + col
}

// Cell is the inverse of Index.
func (g GridSpec) Cell(index int) (row, col int) {
	return index / g.Cols, index % g.Cols
}

// ObjectPoints returns the intersections in the board frame, ordered by Index. The board lies
// in the Z = 0 plane with intersection (row, col) at (col*SquareSize, row*SquareSize).
func (g GridSpec) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, g.Count())
	for i := range pts {
		row, col := g.Cell(i)
		pts[i] = r3.Vector{X: float64(col) * g.SquareSize, Y: float64(row) * g.SquareSize}
	}
	return pts
}

// ImageObservation is the set of intersections found in one image, ordered by GridSpec.Index.
type ImageObservation struct {
	Index  int         `json:"index"`
	Name   string      `json:"name"`
	Size   image.Point `json:"size"`
	Points []r2.Point  `json:"points"`
}

// Validate checks the observation holds exactly one point per grid intersection.
func (obs *ImageObservation) Validate(grid GridSpec) error {
	if obs == nil {
		return errors.Wrap(utils.ErrInsufficientData, "missing observation")
	}
	if len(obs.Points) != grid.Count() {
		return utils.NewPointCountError(obs.Index, len(obs.Points), grid.Count())
	}
	return nil
}
