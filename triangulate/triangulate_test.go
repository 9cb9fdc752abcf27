package triangulate

import (
	"math"
	"testing"

	"github.com/fieldrig/capturevolume/camera"
)

func approxEqual3(a, b [3]float64, tol float64) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func TestTriangulateRecoversKnownPoint(t *testing.T) {
	camA := camera.NewUncalibrated(0, 640, 480, 0)
	camB := camera.NewUncalibrated(1, 640, 480, 0)
	camB.Translation = [3]float64{1, 0, 0}

	world := [3]float64{0.3, -0.2, 5}
	imgA := camA.Project([][3]float64{world})[0]
	imgB := camB.Project([][3]float64{world})[0]

	pair := NewPair(camA, camB)
	got, err := pair.Triangulate(imgA, imgB)
	if err != nil {
		t.Fatalf("Triangulate: %v", err)
	}
	if !approxEqual3(got, world, 1e-6) {
		t.Fatalf("triangulated point = %v, want %v", got, world)
	}
}

func TestTriangulateDegenerateSameCenter(t *testing.T) {
	camA := camera.NewUncalibrated(0, 640, 480, 0)
	camB := camera.NewUncalibrated(1, 640, 480, 0)
	// No translation between the two cameras: rays from identical centers
	// along identical directions never intersect away from the optical
	// axis in a well-posed way, but the DLT should still return some
	// homogeneous solution without error for on-axis points.
	world := [3]float64{0, 0, 5}
	imgA := camA.Project([][3]float64{world})[0]
	imgB := camB.Project([][3]float64{world})[0]

	pair := NewPair(camA, camB)
	got, err := pair.Triangulate(imgA, imgB)
	if err != nil {
		t.Fatalf("Triangulate: %v", err)
	}
	if !approxEqual3(got, world, 1e-6) {
		t.Fatalf("triangulated point = %v, want %v", got, world)
	}
}
