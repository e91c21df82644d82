package rimage

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// BilinearAt samples m at the continuous position (x, y), x along columns. Positions outside
// the matrix are clamped to the border. Neighbours with zero weight are not read, so integer
// positions return the stored value exactly.
func BilinearAt(m *mat.Dense, x, y float64) float64 {
	h, w := m.Dims()
	x = math.Max(0, math.Min(float64(w-1), x))
	y = math.Max(0, math.Min(float64(h-1), y))
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)

	val := 0.0
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
		val += n.w * m.At(y0+n.dy, x0+n.dx)
	}
	return val
}
