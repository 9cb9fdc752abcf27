// Package capturevolume jointly refines every camera's extrinsics and
// every triangulated 3D point against the full set of 2D observations via
// sparse-structured non-linear least squares (bundle adjustment).
package capturevolume

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/internal/pipelineerr"
	"github.com/fieldrig/capturevolume/triangulate"
)

const (
	cameraParamCount = 6
	pointParamCount  = 3

	defaultMaxIterations     = 100
	defaultFunctionTolerance = 1e-8
	initialLambda            = 1e-3
	lambdaUp                 = 10.0
	lambdaDown               = 0.3
	lambdaCap                = 1e12

	// jacobianEpsilon is the central-difference step used to build the
	// per-observation Jacobian block. The residual function is smooth and
	// well scaled (pixel units, radian-scale axis-angle components), so a
	// single fixed step serves every parameter.
	jacobianEpsilon = 1e-6
)

// CaptureVolume couples a posed CameraArray to the point-estimate table
// triangulated against it, and owns the working copies of camera data used
// during optimization so the live Array is only mutated on commit.
type CaptureVolume struct {
	Array     *camera.Array
	Estimates *triangulate.Estimates

	ports   []int
	working []*camera.Data
	log     logging.Logger
}

// New builds a CaptureVolume. est.CameraIndices must be indices into
// arr.Ports(), as triangulate.Builder produces.
func New(arr *camera.Array, est *triangulate.Estimates, log logging.Logger) *CaptureVolume {
	if log == nil {
		log = logging.Noop()
	}
	ports := arr.Ports()
	working := make([]*camera.Data, len(ports))
	for i, p := range ports {
		cp := *arr.Cameras[p]
		working[i] = &cp
	}
	return &CaptureVolume{Array: arr, Estimates: est, ports: ports, working: working, log: log}
}

// layout describes where each non-anchor camera's 6 extrinsic parameters
// and each 3D point's 3 coordinates land in the flat parameter vector.
type layout struct {
	camOffset []int // len(ports); -1 for the anchor
	nCamParam int
	nPtParam  int
}

func (cv *CaptureVolume) layout() layout {
	l := layout{camOffset: make([]int, len(cv.ports))}
	off := 0
	for i, p := range cv.ports {
		if cv.Array.Cameras[p].IsAnchor {
			l.camOffset[i] = -1
			continue
		}
		l.camOffset[i] = off
		off += cameraParamCount
	}
	l.nCamParam = off
	l.nPtParam = len(cv.Estimates.Obj) * pointParamCount
	return l
}

// vectorize packs the current working camera extrinsics and the current
// point estimates into one flat parameter vector.
func (cv *CaptureVolume) vectorize(l layout) []float64 {
	x := make([]float64, l.nCamParam+l.nPtParam)
	for i, off := range l.camOffset {
		if off < 0 {
			continue
		}
		v := cv.working[i].ExtrinsicsToVector()
		copy(x[off:off+cameraParamCount], v[:])
	}
	for j, p := range cv.Estimates.Obj {
		base := l.nCamParam + j*pointParamCount
		x[base], x[base+1], x[base+2] = p[0], p[1], p[2]
	}
	return x
}

// applyParams pushes x into the working camera copies and returns the
// point positions x encodes, without touching the live Array.
func (cv *CaptureVolume) applyParams(x []float64, l layout) [][3]float64 {
	for i, off := range l.camOffset {
		if off < 0 {
			continue
		}
		var v [6]float64
		copy(v[:], x[off:off+cameraParamCount])
		cv.working[i].ExtrinsicsFromVector(v)
	}
	points := make([][3]float64, len(cv.Estimates.Obj))
	for j := range points {
		base := l.nCamParam + j*pointParamCount
		points[j] = [3]float64{x[base], x[base+1], x[base+2]}
	}
	return points
}

// residualVector projects every point through its observing camera and
// returns the flattened (predicted - observed) residual, 2 entries per
// observation.
func (cv *CaptureVolume) residualVector(points [][3]float64) []float64 {
	r := make([]float64, 2*len(cv.Estimates.Img))
	for i, img := range cv.Estimates.Img {
		camIdx := cv.Estimates.CameraIndices[i]
		objIdx := cv.Estimates.ObjIndices[i]
		pred := cv.working[camIdx].Project([][3]float64{points[objIdx]})[0]
		r[2*i] = pred[0] - img[0]
		r[2*i+1] = pred[1] - img[1]
	}
	return r
}

func rmseOf(r []float64) float64 {
	if len(r) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(r)))
}

// currentResidualVector evaluates the flattened 2-per-observation residual
// at the capture volume's current committed state.
func (cv *CaptureVolume) currentResidualVector() []float64 {
	l := cv.layout()
	x := cv.vectorize(l)
	points := cv.applyParams(x, l)
	return cv.residualVector(points)
}

// RMSE reports the current reprojection RMSE of the committed Array against
// Estimates, without running any optimization.
func (cv *CaptureVolume) RMSE() float64 {
	return rmseOf(cv.currentResidualVector())
}

// ResidualMagnitudes returns one Euclidean residual magnitude per
// observation, in the same order as Estimates.Img — the quantity the
// quality controller ranks by percentile.
func (cv *CaptureVolume) ResidualMagnitudes() []float64 {
	r := cv.currentResidualVector()
	out := make([]float64, len(r)/2)
	for i := range out {
		out[i] = math.Hypot(r[2*i], r[2*i+1])
	}
	return out
}

// observationJacobian returns the central-difference partials of one
// observation's 2D residual with respect to its camera's 6 extrinsic
// parameters (zero if the camera is the anchor) and its point's 3
// coordinates, alongside the residual itself evaluated at the current
// working state.
func (cv *CaptureVolume) observationJacobian(camIdx int, camVec [6]float64, isAnchor bool, point [3]float64, img [2]float64) (jc [6][2]float64, jp [3][2]float64, residual [2]float64) {
	cam := cv.working[camIdx]
	proj := func(v [6]float64, p [3]float64) [2]float64 {
		cam.ExtrinsicsFromVector(v)
		return cam.Project([][3]float64{p})[0]
	}

	base := proj(camVec, point)
	residual = [2]float64{base[0] - img[0], base[1] - img[1]}

	if !isAnchor {
		for k := 0; k < cameraParamCount; k++ {
			vp, vm := camVec, camVec
			vp[k] += jacobianEpsilon
			vm[k] -= jacobianEpsilon
			pp := proj(vp, point)
			pm := proj(vm, point)
			jc[k][0] = (pp[0] - pm[0]) / (2 * jacobianEpsilon)
			jc[k][1] = (pp[1] - pm[1]) / (2 * jacobianEpsilon)
		}
		cam.ExtrinsicsFromVector(camVec)
	}

	for k := 0; k < pointParamCount; k++ {
		pp, pm := point, point
		pp[k] += jacobianEpsilon
		pm[k] -= jacobianEpsilon
		vpp := proj(camVec, pp)
		vpm := proj(camVec, pm)
		jp[k][0] = (vpp[0] - vpm[0]) / (2 * jacobianEpsilon)
		jp[k][1] = (vpp[1] - vpm[1]) / (2 * jacobianEpsilon)
	}
	return
}

// normalEquations accumulates H = J^T J and g = J^T r over every
// observation, touching only the camera-block / point-block / cross-block
// entries a given observation's row can possibly affect — the same
// sparsity pattern a fully sparse Jacobian would exploit, without ever
// materializing the (2*n_obs x n_param) dense Jacobian itself.
func (cv *CaptureVolume) normalEquations(x []float64, l layout) (*mat.Dense, *mat.Dense, float64) {
	n := l.nCamParam + l.nPtParam
	H := mat.NewDense(n, n, nil)
	g := mat.NewDense(n, 1, nil)

	points := cv.applyParams(x, l)
	var cost float64

	for i, img := range cv.Estimates.Img {
		camIdx := cv.Estimates.CameraIndices[i]
		objIdx := cv.Estimates.ObjIndices[i]
		camOff := l.camOffset[camIdx]
		isAnchor := camOff < 0
		ptOff := l.nCamParam + objIdx*pointParamCount

		var camVec [6]float64
		if !isAnchor {
			copy(camVec[:], x[camOff:camOff+cameraParamCount])
		}

		jc, jp, r := cv.observationJacobian(camIdx, camVec, isAnchor, points[objIdx], img)
		cost += r[0]*r[0] + r[1]*r[1]

		addBlockSelf := func(off, size int, j [][2]float64) {
			for a := 0; a < size; a++ {
				for b := 0; b < size; b++ {
					v := j[a][0]*j[b][0] + j[a][1]*j[b][1]
					H.Set(off+a, off+b, H.At(off+a, off+b)+v)
				}
				g.Set(off+a, 0, g.At(off+a, 0)+j[a][0]*r[0]+j[a][1]*r[1])
			}
		}
		addBlockCross := func(offA, sizeA int, jA [][2]float64, offB, sizeB int, jB [][2]float64) {
			for a := 0; a < sizeA; a++ {
				for b := 0; b < sizeB; b++ {
					v := jA[a][0]*jB[b][0] + jA[a][1]*jB[b][1]
					H.Set(offA+a, offB+b, H.At(offA+a, offB+b)+v)
					H.Set(offB+b, offA+a, H.At(offB+b, offA+a)+v)
				}
			}
		}

		jpSlice := [][2]float64{jp[0], jp[1], jp[2]}
		addBlockSelf(ptOff, pointParamCount, jpSlice)

		if !isAnchor {
			jcSlice := [][2]float64{jc[0], jc[1], jc[2], jc[3], jc[4], jc[5]}
			addBlockSelf(camOff, cameraParamCount, jcSlice)
			addBlockCross(camOff, cameraParamCount, jcSlice, ptOff, pointParamCount, jpSlice)
		}
	}

	return H, g, cost
}

// Optimize runs Levenberg-Marquardt bundle adjustment: extrinsics and 3D
// points are refined jointly against the reprojection residuals; camera
// intrinsics and distortion are held fixed throughout, per default policy.
// On return the committed Array and Estimates.Obj always hold the best
// iterate found, even if the iteration cap or the damping cap was hit before the function
// tolerance was reached, in which case OptimizationDidNotConverge is
// returned alongside the (still-applied) result.
func (cv *CaptureVolume) Optimize(maxIterations int, functionTolerance float64) (rmseBefore, rmseAfter float64, err error) {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if functionTolerance <= 0 {
		functionTolerance = defaultFunctionTolerance
	}

	l := cv.layout()
	x := cv.vectorize(l)
	n := len(x)
	if n == 0 {
		return 0, 0, pipelineerr.Wrap(
			&pipelineerr.InsufficientObservations{Component: "capture volume", Have: 0, Need: 1},
			"capturevolume.Optimize: no free parameters",
		)
	}

	rmseBefore = rmseOf(cv.residualVector(cv.applyParams(x, l)))

	lambda := initialLambda
	prevCost := math.Inf(1)
	converged := false
	iterations := 0

	for iter := 0; iter < maxIterations; iter++ {
		iterations = iter + 1
		H, g, cost := cv.normalEquations(x, l)

		for attempt := 0; attempt < 12; attempt++ {
			damped := mat.NewDense(n, n, nil)
			damped.Copy(H)
			for i := 0; i < n; i++ {
				diag := H.At(i, i)
				if diag == 0 {
					diag = 1
				}
				damped.Set(i, i, diag+lambda*diag)
			}

			negG := mat.NewDense(n, 1, nil)
			negG.Scale(-1, g)

			var delta mat.Dense
			if err := delta.Solve(damped, negG); err != nil {
				lambda *= lambdaUp
				continue
			}

			xNew := make([]float64, n)
			for i := range xNew {
				xNew[i] = x[i] + delta.At(i, 0)
			}
			newPoints := cv.applyParams(xNew, l)
			newCost := 0.0
			for _, v := range cv.residualVector(newPoints) {
				newCost += v * v
			}

			if newCost < cost {
				x = xNew
				lambda *= lambdaDown
				if prevCost-newCost < functionTolerance*math.Max(1, prevCost) {
					converged = true
				}
				prevCost = newCost
				break
			}

			lambda *= lambdaUp
			if lambda > lambdaCap {
				converged = false
				break
			}
		}

		cv.applyParams(x, l)
		if converged || lambda > lambdaCap {
			break
		}
	}

	cv.commit(x, l)
	rmseAfter = cv.RMSE()

	if !converged {
		return rmseBefore, rmseAfter, pipelineerr.Wrap(
			&pipelineerr.OptimizationDidNotConverge{Iterations: iterations, FinalCost: prevCost},
			"capturevolume.Optimize",
		)
	}
	return rmseBefore, rmseAfter, nil
}

// commit writes the final parameter vector back into the live Array and
// Estimates.Obj.
func (cv *CaptureVolume) commit(x []float64, l layout) {
	var order []int
	var camVec []float64
	for i, off := range l.camOffset {
		if off < 0 {
			continue
		}
		order = append(order, cv.ports[i])
		camVec = append(camVec, x[off:off+cameraParamCount]...)
	}
	cv.Array.SetExtrinsicsVector(camVec, order)

	for i, p := range cv.ports {
		cp := *cv.Array.Cameras[p]
		cv.working[i] = &cp
	}

	for j := range cv.Estimates.Obj {
		base := l.nCamParam + j*pointParamCount
		cv.Estimates.Obj[j] = [3]float64{x[base], x[base+1], x[base+2]}
	}
}
