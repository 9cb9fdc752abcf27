// Package triangulate recovers 3D point positions from pairs of 2D
// observations across calibrated cameras, and assembles the full
// point-estimate tables that feed capture volume bundle adjustment.
package triangulate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/fieldrig/capturevolume/camera"
)

// projectionMatrix builds P = K [R | t], the 3x4 matrix mapping world-frame
// homogeneous points directly to undistorted image pixel coordinates.
func projectionMatrix(cam *camera.Data) *mat.Dense {
	rt := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rt.Set(i, j, cam.Rotation[i][j])
		}
		rt.Set(i, 3, cam.Translation[i])
	}

	k := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			k.Set(i, j, cam.Matrix[i][j])
		}
	}

	p := mat.NewDense(3, 4, nil)
	p.Mul(k, rt)
	return p
}

// Pair holds the two projection matrices for a camera pair, built once and
// reused across every point triangulated between them.
type Pair struct {
	camA, camB *camera.Data
	pA, pB     *mat.Dense
}

// NewPair precomputes the projection matrices for cameras A and B.
func NewPair(camA, camB *camera.Data) *Pair {
	return &Pair{camA: camA, camB: camB, pA: projectionMatrix(camA), pB: projectionMatrix(camB)}
}

// Triangulate recovers one 3D point from its pixel-space observation in
// each camera via the direct linear transform: the observations are first
// undistorted, then the homogeneous linear system built from each
// camera's cross-product constraint is solved by taking the right
// singular vector of smallest singular value.
func (p *Pair) Triangulate(imgA, imgB [2]float64) ([3]float64, error) {
	uA := p.camA.UndistortPoints([][2]float64{imgA}, camera.Pixel)[0]
	uB := p.camB.UndistortPoints([][2]float64{imgB}, camera.Pixel)[0]

	A := mat.NewDense(4, 4, nil)
	fillConstraintRows(A, 0, p.pA, uA)
	fillConstraintRows(A, 2, p.pB, uB)

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return [3]float64{}, fmt.Errorf("triangulate: SVD factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	// The smallest singular value's right singular vector is the last
	// column of V (singular values are returned in descending order).
	col := v.ColView(3)
	w := col.AtVec(3)
	if w == 0 {
		return [3]float64{}, fmt.Errorf("triangulate: degenerate homogeneous solution")
	}
	return [3]float64{col.AtVec(0) / w, col.AtVec(1) / w, col.AtVec(2) / w}, nil
}

// fillConstraintRows writes the two DLT constraint rows for one camera's
// observation (x,y) and projection matrix P into A starting at rowOffset:
// row0 = x*P[2,:] - P[0,:], row1 = y*P[2,:] - P[1,:].
func fillConstraintRows(A *mat.Dense, rowOffset int, P *mat.Dense, xy [2]float64) {
	for col := 0; col < 4; col++ {
		p0 := P.At(0, col)
		p1 := P.At(1, col)
		p2 := P.At(2, col)
		A.Set(rowOffset, col, xy[0]*p2-p0)
		A.Set(rowOffset+1, col, xy[1]*p2-p1)
	}
}
