package calibrate

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/zhanlv600/calibrate-camera/rimage"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
)

// Corner refers to a candidate intersection with its saddle response R.
type Corner struct {
	X float64
	Y float64
	R float64
}

// NewCornerWithR creates a new corner with an R value.
func NewCornerWithR(x, y, r float64) Corner {
	return Corner{X: x, Y: y, R: r}
}

// Point returns the corner position.
func (c Corner) Point() r2.Point {
	return r2.Point{X: c.X, Y: c.Y}
}

// SortCornerListByR sorts corners such that the highest R value is first. Ties keep the
// scan order.
func SortCornerListByR(list []Corner) []Corner {
	sort.SliceStable(list, func(i, j int) bool { return list[i].R > list[j].R })
	return list
}

// SaddleResponse returns -det(Hessian) of the image. Checkerboard intersections are saddle
// points of the (blurred) intensity, where this is strongly positive.
func SaddleResponse(gray *mat.Dense) (*mat.Dense, error) {
	hess, err := rimage.ComputeHessian(gray)
	if err != nil {
		return nil, err
	}
	h, w := gray.Dims()
	resp := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			xy := hess.XY.At(y, x)
			resp.Set(y, x, xy*xy-hess.XX.At(y, x)*hess.YY.At(y, x))
		}
	}
	return resp, nil
}

// getCornerList returns the local maxima of the response (3x3 neighbourhood, away from a
// one pixel border) above threshold*max.
func getCornerList(resp *mat.Dense, threshold float64) []Corner {
	h, w := resp.Dims()
	maxResp := mat.Max(resp)
	if maxResp <= 0 {
		return nil
	}
	minResp := threshold * maxResp

	var list []Corner
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			r := resp.At(y, x)
			if r < minResp {
				continue
			}
			isMax := true
			for dy := -1; dy <= 1 && isMax; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if resp.At(y+dy, x+dx) > r {
						isMax = false
						break
					}
				}
			}
			if isMax {
				list = append(list, NewCornerWithR(float64(x), float64(y), r))
			}
		}
	}
	return list
}

// topNCorners returns at most n of the strongest corners such that no two are closer than dist.
func topNCorners(list []Corner, n int, dist float64) []Corner {
	sorted := SortCornerListByR(list)
	out := make([]Corner, 0, n)
	for _, c := range sorted {
		if len(out) == n {
			break
		}
		tooClose := false
		for _, kept := range out {
			if math.Hypot(c.X-kept.X, c.Y-kept.Y) < dist {
				tooClose = true
				break
			}
		}
		if !tooClose {
			out = append(out, c)
		}
	}
	return out
}

// convexHull returns the hull of the points in counter clockwise order (monotone chain).
// Collinear points are dropped.
func convexHull(points []r2.Point) []r2.Point {
	if len(points) < 3 {
		return points
	}
	sorted := make([]r2.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	cross := func(o, a, b r2.Point) float64 {
		return a.Sub(o).Cross(b.Sub(o))
	}
	var lower []r2.Point
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	var upper []r2.Point
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// reduceToQuad removes the hull vertex whose interior angle is closest to a straight line
// until four remain.
func reduceToQuad(hull []r2.Point) []r2.Point {
	poly := append([]r2.Point(nil), hull...)
	for len(poly) > 4 {
		flattest, bestCos := 0, math.Inf(1)
		for i := range poly {
			prev := poly[(i+len(poly)-1)%len(poly)]
			next := poly[(i+1)%len(poly)]
			a, b := prev.Sub(poly[i]), next.Sub(poly[i])
			// cos of the interior angle, -1 for a straight line
			cos := a.Dot(b) / (a.Norm() * b.Norm())
			if cos < bestCos {
				flattest, bestCos = i, cos
			}
		}
		poly = append(poly[:flattest], poly[flattest+1:]...)
	}
	return poly
}

// orderQuad orders four points clockwise on screen (y down) starting with the one closest to
// the top left: TL, TR, BR, BL for an upright quadrilateral.
func orderQuad(quad []r2.Point) []r2.Point {
	var centroid r2.Point
	for _, p := range quad {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(quad)))
	ordered := append([]r2.Point(nil), quad...)
	sort.Slice(ordered, func(i, j int) bool {
		ai := math.Atan2(ordered[i].Y-centroid.Y, ordered[i].X-centroid.X)
		aj := math.Atan2(ordered[j].Y-centroid.Y, ordered[j].X-centroid.X)
		return ai < aj
	})
	start := 0
	for i, p := range ordered {
		if p.X+p.Y < ordered[start].X+ordered[start].Y {
			start = i
		}
	}
	return append(ordered[start:], ordered[:start]...)
}

// gridHypotheses are the grid coordinates (col, row) assigned to the TL, TR, BR, BL corners of
// the detected quadrilateral: either the board's columns run left to right in the image, or
// they run top to bottom.
func gridHypotheses(grid GridSpec) [][]r2.Point {
	c, r := float64(grid.Cols-1), float64(grid.Rows-1)
	return [][]r2.Point{
		{{X: 0, Y: 0}, {X: c, Y: 0}, {X: c, Y: r}, {X: 0, Y: r}},
		{{X: 0, Y: r}, {X: 0, Y: 0}, {X: c, Y: 0}, {X: c, Y: r}},
	}
}

// fitGrid labels candidate points with grid cells. Every point must land within tolerance
// (in cells) of a distinct cell and every cell must be used.
func fitGrid(points []r2.Point, grid GridSpec, tolerance float64) ([]r2.Point, error) {
	if len(points) != grid.Count() {
		return nil, errors.Errorf("found %d of %d corners", len(points), grid.Count())
	}
	hull := convexHull(points)
	if len(hull) < 4 {
		return nil, errors.New("corners do not span a quadrilateral")
	}
	quad := orderQuad(reduceToQuad(hull))

	var lastErr error
	for _, gridQuad := range gridHypotheses(grid) {
		labelled, err := snapToGrid(points, quad, gridQuad, grid, tolerance)
		if err == nil {
			return labelled, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func snapToGrid(points, quad, gridQuad []r2.Point, grid GridSpec, tolerance float64) ([]r2.Point, error) {
	imageToGrid, err := transform.EstimateHomography(quad, gridQuad)
	if err != nil {
		return nil, err
	}
	labelled := make([]r2.Point, grid.Count())
	taken := make([]bool, grid.Count())
	for _, p := range points {
		g := imageToGrid.Apply(p)
		col, row := math.Round(g.X), math.Round(g.Y)
		if math.Abs(g.X-col) > tolerance || math.Abs(g.Y-row) > tolerance {
			return nil, errors.Errorf("corner (%.1f, %.1f) is %.2f, %.2f cells off the grid", p.X, p.Y, g.X-col, g.Y-row)
		}
		if col < 0 || row < 0 || int(col) >= grid.Cols || int(row) >= grid.Rows {
			return nil, errors.Errorf("corner (%.1f, %.1f) falls outside the grid", p.X, p.Y)
		}
		idx := grid.Index(int(row), int(col))
		if taken[idx] {
			return nil, errors.Errorf("two corners claim cell (%d, %d)", int(row), int(col))
		}
		taken[idx] = true
		labelled[idx] = p
	}
	return labelled, checkSpacing(labelled, grid)
}

// checkSpacing rejects labellings whose neighbour distances vary far more than perspective
// allows.
func checkSpacing(points []r2.Point, grid GridSpec) error {
	var dists []float64
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			p := points[grid.Index(row, col)]
			if col+1 < grid.Cols {
				dists = append(dists, p.Sub(points[grid.Index(row, col+1)]).Norm())
			}
			if row+1 < grid.Rows {
				dists = append(dists, p.Sub(points[grid.Index(row+1, col)]).Norm())
			}
		}
	}
	median, err := stats.Median(dists)
	if err != nil {
		return err
	}
	minDist, err := stats.Min(dists)
	if err != nil {
		return err
	}
	maxDist, err := stats.Max(dists)
	if err != nil {
		return err
	}
	if minDist < median/4 || maxDist > median*4 {
		return errors.Errorf("irregular corner spacing: min %.1f, median %.1f, max %.1f", minDist, median, maxDist)
	}
	return nil
}
