package stereo

import "math"

// matrixToQuaternion converts a rotation matrix to a unit quaternion
// [w, x, y, z] using the standard trace-based method.
func matrixToQuaternion(R [3][3]float64) [4]float64 {
	trace := R[0][0] + R[1][1] + R[2][2]
	var q [4]float64

	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1.0)
		q[0] = 0.25 / s
		q[1] = (R[2][1] - R[1][2]) * s
		q[2] = (R[0][2] - R[2][0]) * s
		q[3] = (R[1][0] - R[0][1]) * s
	case R[0][0] > R[1][1] && R[0][0] > R[2][2]:
		s := 2.0 * math.Sqrt(1.0+R[0][0]-R[1][1]-R[2][2])
		q[0] = (R[2][1] - R[1][2]) / s
		q[1] = 0.25 * s
		q[2] = (R[0][1] + R[1][0]) / s
		q[3] = (R[0][2] + R[2][0]) / s
	case R[1][1] > R[2][2]:
		s := 2.0 * math.Sqrt(1.0+R[1][1]-R[0][0]-R[2][2])
		q[0] = (R[0][2] - R[2][0]) / s
		q[1] = (R[0][1] + R[1][0]) / s
		q[2] = 0.25 * s
		q[3] = (R[1][2] + R[2][1]) / s
	default:
		s := 2.0 * math.Sqrt(1.0+R[2][2]-R[0][0]-R[1][1])
		q[0] = (R[1][0] - R[0][1]) / s
		q[1] = (R[0][2] + R[2][0]) / s
		q[2] = (R[1][2] + R[2][1]) / s
		q[3] = 0.25 * s
	}
	return normalizeQuaternion(q)
}

func normalizeQuaternion(q [4]float64) [4]float64 {
	n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if n == 0 {
		return [4]float64{1, 0, 0, 0}
	}
	return [4]float64{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

// quaternionToMatrix converts a unit quaternion [w, x, y, z] to a rotation
// matrix.
func quaternionToMatrix(q [4]float64) [3][3]float64 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// averageQuaternions averages a set of unit quaternions by summing them
// (flipped into the same hemisphere as the first, since q and -q represent
// the same rotation) and renormalizing. This linear approximation is exact
// for identical rotations and accurate for the small pose variation
// expected across a pairwise stereo calibration's sample frames.
func averageQuaternions(qs [][4]float64) [4]float64 {
	ref := qs[0]
	var sum [4]float64
	for _, q := range qs {
		dot := ref[0]*q[0] + ref[1]*q[1] + ref[2]*q[2] + ref[3]*q[3]
		if dot < 0 {
			q = [4]float64{-q[0], -q[1], -q[2], -q[3]}
		}
		sum[0] += q[0]
		sum[1] += q[1]
		sum[2] += q[2]
		sum[3] += q[3]
	}
	return normalizeQuaternion(sum)
}
