package transform

// InverseBrownConrady undoes a BrownConrady distortion: given distorted normalized points it
// finds the undistorted points with Newton-Raphson iterations on the forward model.
type InverseBrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

func (ibc *InverseBrownConrady) forward() *BrownConrady {
	return &BrownConrady{ibc.RadialK1, ibc.RadialK2, ibc.RadialK3, ibc.TangentialP1, ibc.TangentialP2}
}

// Transform converts the distorted normalized point (xd, yd) to its undistorted position.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	const maxIterations = 20
	const tolerance = 1e-12

	model := ibc.forward()
	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		xEst, yEst := model.distort(xu, yu)
		errX, errY := xEst-xd, yEst-yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		a, b, c, d := model.jacobian(xu, yu)
		det := a*d - b*c
		if det == 0 {
			break
		}
		xu -= (d*errX - b*errY) / det
		yu -= (-c*errX + a*errY) / det
	}
	return xu, yu
}
