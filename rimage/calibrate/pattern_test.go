package calibrate

import (
	"errors"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/zhanlv600/calibrate-camera/utils"
)

func TestGridSpecValidate(t *testing.T) {
	test.That(t, GridSpec{Rows: 4, Cols: 6, SquareSize: 10}.Validate(), test.ShouldBeNil)
	test.That(t, GridSpec{Rows: 2, Cols: 2, SquareSize: 0.5}.Validate(), test.ShouldBeNil)

	err := GridSpec{Rows: 1, Cols: 6, SquareSize: 10}.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "1x6")
	test.That(t, GridSpec{Rows: 4, Cols: 6}.Validate(), test.ShouldNotBeNil)
	test.That(t, GridSpec{Rows: 4, Cols: 6, SquareSize: -1}.Validate(), test.ShouldNotBeNil)
}

func TestObjectPoints(t *testing.T) {
	grid := GridSpec{Rows: 4, Cols: 6, SquareSize: 25}
	pts := grid.ObjectPoints()
	test.That(t, len(pts), test.ShouldEqual, 24)
	for _, p := range pts {
		test.That(t, p.Z, test.ShouldEqual, 0.0)
	}
	// row major, x along columns
	test.That(t, pts[0].X, test.ShouldEqual, 0.0)
	test.That(t, pts[1].X, test.ShouldEqual, 25.0)
	test.That(t, pts[1].Y, test.ShouldEqual, 0.0)
	test.That(t, pts[6].X, test.ShouldEqual, 0.0)
	test.That(t, pts[6].Y, test.ShouldEqual, 25.0)
	test.That(t, pts[23].X, test.ShouldEqual, 125.0)
	test.That(t, pts[23].Y, test.ShouldEqual, 75.0)

	test.That(t, grid.ObjectPoints(), test.ShouldResemble, pts)

	for i := range pts {
		row, col := grid.Cell(i)
		test.That(t, grid.Index(row, col), test.ShouldEqual, i)
	}
}

func TestObservationValidate(t *testing.T) {
	grid := GridSpec{Rows: 2, Cols: 3, SquareSize: 1}
	obs := &ImageObservation{Index: 4, Points: make([]r2.Point, 6)}
	test.That(t, obs.Validate(grid), test.ShouldBeNil)

	obs.Points = obs.Points[:5]
	err := obs.Validate(grid)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "image 4 has 5 points")

	var missing *ImageObservation
	test.That(t, errors.Is(missing.Validate(grid), utils.ErrInsufficientData), test.ShouldBeTrue)
}
