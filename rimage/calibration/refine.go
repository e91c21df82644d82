package calibration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/zhanlv600/calibrate-camera/logging"
	"github.com/zhanlv600/calibrate-camera/rimage/calibrate"
	"github.com/zhanlv600/calibrate-camera/rimage/transform"
)

// Layout of the intrinsic block at the start of the parameter vector. Each view then adds
// six pose parameters: axis angle rotation followed by translation.
const (
	paramFx = iota
	paramFy
	paramCx
	paramCy
	paramK1
	paramK2
	paramP1
	paramP2
	paramK3
	numIntrinsics
)

const poseParams = 6

const (
	initialLambda = 1e-3
	maxLambda     = 1e16
)

// problem is the reprojection least squares problem over all views.
type problem struct {
	objectPts []r3.Vector
	obs       []*calibrate.ImageObservation
	width     int
	height    int
	// aspect is fy/fx, used when the ratio is held fixed
	aspect    float64
	fixAspect bool
	free      [numIntrinsics]bool
}

func newProblem(
	grid calibrate.GridSpec,
	obs []*calibrate.ImageObservation,
	model *transform.PinholeCameraModel,
	cfg SolverConfig,
) *problem {
	p := &problem{
		objectPts: grid.ObjectPoints(),
		obs:       obs,
		width:     model.Width,
		height:    model.Height,
		aspect:    model.Fy / model.Fx,
		fixAspect: cfg.FixAspectRatio,
	}
	for i := range p.free {
		p.free[i] = true
	}
	p.free[paramFy] = !cfg.FixAspectRatio
	p.free[paramCx] = !cfg.FixPrincipalPoint
	p.free[paramCy] = !cfg.FixPrincipalPoint
	p.free[paramP1] = !cfg.ZeroTangentDist
	p.free[paramP2] = !cfg.ZeroTangentDist
	p.free[paramK3] = !cfg.FixK3
	return p
}

func (p *problem) numResiduals() int {
	return 2 * len(p.objectPts)
}

// pack lays out the model and poses as one parameter vector.
func (p *problem) pack(model *transform.PinholeCameraModel, poses []Pose) []float64 {
	x := make([]float64, numIntrinsics, numIntrinsics+poseParams*len(poses))
	x[paramFx], x[paramFy], x[paramCx], x[paramCy] = model.Fx, model.Fy, model.Ppx, model.Ppy
	copy(x[paramK1:], model.Coefficients())
	for _, pose := range poses {
		x = append(x, pose.vector()...)
	}
	return x
}

// model builds the camera described by the intrinsic block.
func (p *problem) model(intr []float64) *transform.PinholeCameraModel {
	fy := intr[paramFy]
	if p.fixAspect {
		fy = intr[paramFx] * p.aspect
	}
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: p.width, Height: p.height,
			Fx: intr[paramFx], Fy: fy, Ppx: intr[paramCx], Ppy: intr[paramCy],
		},
		Distortion: &transform.BrownConrady{
			RadialK1:     intr[paramK1],
			RadialK2:     intr[paramK2],
			RadialK3:     intr[paramK3],
			TangentialP1: intr[paramP1],
			TangentialP2: intr[paramP2],
		},
	}
}

func (p *problem) unpack(x []float64) (*transform.PinholeCameraModel, []Pose) {
	poses := make([]Pose, len(p.obs))
	for i := range poses {
		poses[i] = poseFromVector(p.poseBlock(x, i))
	}
	return p.model(x[:numIntrinsics]), poses
}

func (p *problem) poseBlock(x []float64, img int) []float64 {
	start := numIntrinsics + poseParams*img
	return x[start : start+poseParams]
}

// residuals writes projected minus observed pixel coordinates for one view into dst.
func (p *problem) residuals(dst, intr, pose []float64, img int) {
	v := poseFromVector(pose)
	projected := p.model(intr).ProjectPoints(p.objectPts, v.Rotation, v.Translation)
	for i, pt := range projected {
		obs := p.obs[img].Points[i]
		dst[2*i] = pt.X - obs.X
		dst[2*i+1] = pt.Y - obs.Y
	}
}

// cost is the sum of squared residuals over all views.
func (p *problem) cost(x []float64) float64 {
	res := make([]float64, p.numResiduals())
	var sum float64
	for img := range p.obs {
		p.residuals(res, x[:numIntrinsics], p.poseBlock(x, img), img)
		sum += floats.Dot(res, res)
	}
	return sum
}

// freeIndices lists the positions of x that are optimized.
func (p *problem) freeIndices(n int) []int {
	var idx []int
	for i := 0; i < numIntrinsics; i++ {
		if p.free[i] {
			idx = append(idx, i)
		}
	}
	for i := numIntrinsics; i < n; i++ {
		idx = append(idx, i)
	}
	return idx
}

// normalEquations returns J^T J and J^T r at x. Each view only depends on the intrinsics and
// its own pose, so its Jacobian is computed as one small block by central differences and
// scattered into the full system.
func (p *problem) normalEquations(x []float64) (*mat.SymDense, []float64) {
	n := len(x)
	jtj := mat.NewSymDense(n, nil)
	grad := make([]float64, n)

	blockSize := numIntrinsics + poseParams
	jac := mat.NewDense(p.numResiduals(), blockSize, nil)
	res := make([]float64, p.numResiduals())
	z := make([]float64, blockSize)
	var blockJtJ mat.Dense
	var blockGrad mat.VecDense
	for img := range p.obs {
		copy(z, x[:numIntrinsics])
		copy(z[numIntrinsics:], p.poseBlock(x, img))
		f := func(y, z []float64) {
			p.residuals(y, z[:numIntrinsics], z[numIntrinsics:], img)
		}
		f(res, z)
		fd.Jacobian(jac, f, z, &fd.JacobianSettings{Formula: fd.Central, OriginValue: res})

		blockJtJ.Mul(jac.T(), jac)
		blockGrad.MulVec(jac.T(), mat.NewVecDense(len(res), res))

		global := func(k int) int {
			if k < numIntrinsics {
				return k
			}
			return numIntrinsics + poseParams*img + k - numIntrinsics
		}
		for a := 0; a < blockSize; a++ {
			ga := global(a)
			grad[ga] += blockGrad.AtVec(a)
			for b := a; b < blockSize; b++ {
				gb := global(b)
				jtj.SetSym(ga, gb, jtj.At(ga, gb)+blockJtJ.At(a, b))
			}
		}
	}
	return jtj, grad
}

// dampedStep solves (A + lambda*diag(A)) step = -g over the free parameters. ok is false when
// the damped matrix is not positive definite.
func dampedStep(jtj *mat.SymDense, grad []float64, free []int, lambda float64) ([]float64, bool) {
	m := len(free)
	var maxDiag float64
	for _, i := range free {
		maxDiag = math.Max(maxDiag, jtj.At(i, i))
	}
	floor := 1e-12 * math.Max(maxDiag, 1)

	sys := mat.NewSymDense(m, nil)
	rhs := mat.NewVecDense(m, nil)
	for a, i := range free {
		rhs.SetVec(a, -grad[i])
		for b := a; b < m; b++ {
			sys.SetSym(a, b, jtj.At(i, free[b]))
		}
		sys.SetSym(a, a, sys.At(a, a)+lambda*math.Max(jtj.At(i, i), floor))
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sys); !ok {
		return nil, false
	}
	var sol mat.VecDense
	if err := chol.SolveVecTo(&sol, rhs); err != nil {
		return nil, false
	}
	step := make([]float64, len(grad))
	for a, i := range free {
		step[i] = sol.AtVec(a)
	}
	return step, true
}

// refineLM minimizes the reprojection error with Levenberg-Marquardt, starting from x and
// updating it in place. It reports the number of iterations run and whether the cost settled
// before the iteration limit.
func refineLM(ctx context.Context, p *problem, x []float64, cfg SolverConfig, logger logging.Logger) (int, bool, error) {
	free := p.freeIndices(len(x))
	cost := p.cost(x)
	lambda := initialLambda
	candidate := make([]float64, len(x))

	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return iter, false, err
		}
		jtj, grad := p.normalEquations(x)

		accepted := false
		for lambda <= maxLambda {
			step, ok := dampedStep(jtj, grad, free, lambda)
			if !ok {
				lambda *= 10
				continue
			}
			floats.AddTo(candidate, x, step)
			candidateCost := p.cost(candidate)
			if !(candidateCost < cost) {
				lambda *= 10
				continue
			}

			decrease := (cost - candidateCost) / cost
			copy(x, candidate)
			cost = candidateCost
			lambda = math.Max(lambda/10, 1e-12)
			accepted = true
			logger.Debugw("lm step", "iteration", iter, "cost", cost, "lambda", lambda)

			if decrease < cfg.Epsilon || floats.Norm(step, 2) < cfg.Epsilon*(floats.Norm(x, 2)+cfg.Epsilon) {
				return iter, true, nil
			}
			break
		}
		if !accepted {
			// no damping produces a lower cost, x is a minimum
			return iter, true, nil
		}
	}
	return cfg.MaxIterations, false, nil
}

// refineLBFGS minimizes the same cost with gonum's LBFGS. The free parameters are rescaled by
// the diagonal of J^T J at the start so that focal lengths and distortion coefficients move on
// comparable scales.
func refineLBFGS(ctx context.Context, p *problem, x []float64, cfg SolverConfig, logger logging.Logger) (int, bool, error) {
	free := p.freeIndices(len(x))
	jtj, _ := p.normalEquations(x)
	scale := make([]float64, len(free))
	for a, i := range free {
		scale[a] = 1
		if d := jtj.At(i, i); d > 0 {
			scale[a] = 1 / math.Sqrt(d)
		}
	}

	origin := append([]float64(nil), x...)
	full := make([]float64, len(x))
	expand := func(z []float64) []float64 {
		copy(full, origin)
		for a, i := range free {
			full[i] += scale[a] * z[a]
		}
		return full
	}
	objective := func(z []float64) float64 {
		if ctx.Err() != nil {
			return math.Inf(1)
		}
		return p.cost(expand(z))
	}
	prob := optimize.Problem{
		Func: objective,
		Grad: func(grad, z []float64) {
			fd.Gradient(grad, objective, z, &fd.Settings{Formula: fd.Central})
		},
	}
	settings := &optimize.Settings{
		MajorIterations: cfg.MaxIterations,
		Converger:       &optimize.FunctionConverge{Relative: cfg.Epsilon, Iterations: 10},
	}

	result, err := optimize.Minimize(prob, make([]float64, len(free)), settings, &optimize.LBFGS{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, false, ctxErr
	}
	if result == nil {
		return 0, false, err
	}
	if err != nil {
		logger.Debugw("lbfgs stopped early", "status", result.Status.String(), "error", err)
	}
	if result.F < p.cost(x) {
		copy(x, expand(result.X))
	}
	converged := result.Status == optimize.FunctionConvergence || result.Status == optimize.GradientThreshold
	return result.MajorIterations, converged, nil
}
