package camera

import "math"

// rodriguesToMatrix converts an axis-angle Rodrigues vector into a 3x3
// rotation matrix, the closed-form exponential map for SO(3):
// R = I + sin(theta) K + (1-cos(theta)) K^2, with K the skew-symmetric
// cross-product matrix of the unit rotation axis and theta the rotation
// magnitude. Analytic, matching the form the original calibration pipeline
// used cv2.Rodrigues for.
func rodriguesToMatrix(v [3]float64) [3][3]float64 {
	theta := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if theta < 1e-12 {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	kx, ky, kz := v[0]/theta, v[1]/theta, v[2]/theta

	K := [3][3]float64{
		{0, -kz, ky},
		{kz, 0, -kx},
		{-ky, kx, 0},
	}
	sinT, cosT := math.Sin(theta), math.Cos(theta)

	var K2 [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += K[i][k] * K[k][j]
			}
			K2[i][j] = sum
		}
	}

	var R [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			identity := 0.0
			if i == j {
				identity = 1
			}
			R[i][j] = identity + sinT*K[i][j] + (1-cosT)*K2[i][j]
		}
	}
	return R
}

// matrixToRodrigues is the inverse of rodriguesToMatrix: it recovers the
// minimal axis-angle parameterization from a rotation matrix.
func matrixToRodrigues(R [3][3]float64) [3]float64 {
	trace := R[0][0] + R[1][1] + R[2][2]
	cosTheta := (trace - 1) / 2
	// Clamp for numerical safety against values just outside [-1,1].
	if cosTheta > 1 {
		cosTheta = 1
	}
	if cosTheta < -1 {
		cosTheta = -1
	}
	theta := math.Acos(cosTheta)

	if theta < 1e-12 {
		return [3]float64{0, 0, 0}
	}

	// Near theta=pi the standard formula below is ill-conditioned (sin
	// theta -> 0); this pipeline's extrinsics never approach a 180
	// degree relative rotation between world and camera frames in
	// practice, so the simpler formula is used throughout, matching the
	// teacher's own decision to prefer simple, explicit numerical code
	// over handling every singular case of a general-purpose library.
	s := 2 * math.Sin(theta)
	rx := (R[2][1] - R[1][2]) / s
	ry := (R[0][2] - R[2][0]) / s
	rz := (R[1][0] - R[0][1]) / s

	return [3]float64{theta * rx, theta * ry, theta * rz}
}

func matMulVec3(R [3][3]float64, v [3]float64) [3]float64 {
	return [3]float64{
		R[0][0]*v[0] + R[0][1]*v[1] + R[0][2]*v[2],
		R[1][0]*v[0] + R[1][1]*v[1] + R[1][2]*v[2],
		R[2][0]*v[0] + R[2][1]*v[1] + R[2][2]*v[2],
	}
}

// RotationFromRodrigues exports rodriguesToMatrix for use by other packages
// performing their own pose composition (pairwise stereo pose averaging,
// bundle adjustment residuals).
func RotationFromRodrigues(v [3]float64) [3][3]float64 { return rodriguesToMatrix(v) }

// RodriguesFromRotation exports matrixToRodrigues for use by other packages.
func RodriguesFromRotation(R [3][3]float64) [3]float64 { return matrixToRodrigues(R) }

// MatMulVec3 exports matMulVec3 for use by other packages.
func MatMulVec3(R [3][3]float64, v [3]float64) [3]float64 { return matMulVec3(R, v) }

// MatMulMat3 multiplies two 3x3 rotation matrices, A*B.
func MatMulMat3(A, B [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += A[i][k] * B[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// TransposeMat3 returns the transpose of a 3x3 rotation matrix, equal to
// its inverse.
func TransposeMat3(R [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = R[j][i]
		}
	}
	return out
}
