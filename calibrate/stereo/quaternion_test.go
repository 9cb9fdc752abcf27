package stereo

import "testing"

func approxEq(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestQuaternionRoundTripIdentity(t *testing.T) {
	R := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	q := matrixToQuaternion(R)
	got := quaternionToMatrix(q)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !approxEq(got[i][j], R[i][j], 1e-9) {
				t.Fatalf("round trip mismatch at (%d,%d): got %v want %v", i, j, got[i][j], R[i][j])
			}
		}
	}
}

func TestQuaternionRoundTripRotatedZ90(t *testing.T) {
	// 90 degree rotation about Z.
	R := [3][3]float64{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}
	q := matrixToQuaternion(R)
	got := quaternionToMatrix(q)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !approxEq(got[i][j], R[i][j], 1e-9) {
				t.Fatalf("round trip mismatch at (%d,%d): got %v want %v", i, j, got[i][j], R[i][j])
			}
		}
	}
}

func TestAverageQuaternionsOfIdenticalRotations(t *testing.T) {
	R := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	q := matrixToQuaternion(R)
	avg := averageQuaternions([][4]float64{q, q, q})
	for i := range q {
		if !approxEq(avg[i], q[i], 1e-9) {
			t.Fatalf("average of identical quaternions changed value: %v vs %v", avg, q)
		}
	}
}

func TestAverageQuaternionsHandlesSignFlip(t *testing.T) {
	q := [4]float64{0.7, 0.1, 0.1, 0.1}
	q = normalizeQuaternion(q)
	neg := [4]float64{-q[0], -q[1], -q[2], -q[3]}

	avg := averageQuaternions([][4]float64{q, neg})
	for i := range q {
		if !approxEq(avg[i], q[i], 1e-6) {
			t.Fatalf("sign-flipped quaternion average diverged: %v vs %v", avg, q)
		}
	}
}

func TestPairwiseCalibratorNotReadyBelowTrigger(t *testing.T) {
	p := &PairwiseCalibrator{}
	if p.Ready() {
		t.Fatal("empty calibrator should not be ready")
	}
	if _, err := p.Calibrate(); err == nil {
		t.Fatal("expected error calibrating before enough frames accumulated")
	}
}
