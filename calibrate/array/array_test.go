package array

import (
	"testing"

	"github.com/fieldrig/capturevolume/camera"
)

func identity3() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func TestBuildChainsThroughIntermediateCamera(t *testing.T) {
	cams := map[int]*camera.Data{
		0: camera.NewUncalibrated(0, 640, 480, 0),
		1: camera.NewUncalibrated(1, 640, 480, 0),
		2: camera.NewUncalibrated(2, 640, 480, 0),
	}

	edges := []Edge{
		{A: 0, B: 1, Rotation: identity3(), Translation: [3]float64{1, 0, 0}, RMSE: 0.1},
		{A: 1, B: 2, Rotation: identity3(), Translation: [3]float64{1, 0, 0}, RMSE: 0.1},
	}

	b := NewBuilder(cams, edges)
	arr, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if arr.Anchor != 0 {
		t.Fatalf("expected anchor 0, got %d", arr.Anchor)
	}
	if got := cams[1].Translation; got != ([3]float64{1, 0, 0}) {
		t.Fatalf("camera 1 translation = %v, want [1 0 0]", got)
	}
	if got := cams[2].Translation; got != ([3]float64{2, 0, 0}) {
		t.Fatalf("camera 2 translation = %v, want [2 0 0]", got)
	}
}

func TestBuildReportsDisconnectedCamera(t *testing.T) {
	cams := map[int]*camera.Data{
		0: camera.NewUncalibrated(0, 640, 480, 0),
		1: camera.NewUncalibrated(1, 640, 480, 0),
		2: camera.NewUncalibrated(2, 640, 480, 0),
	}
	edges := []Edge{
		{A: 0, B: 1, Rotation: identity3(), Translation: [3]float64{1, 0, 0}, RMSE: 0.1},
	}

	b := NewBuilder(cams, edges)
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error for disconnected camera 2")
	}
}

func TestBuildPrefersLowestMeanErrorAnchor(t *testing.T) {
	cams := map[int]*camera.Data{
		0: camera.NewUncalibrated(0, 640, 480, 0),
		1: camera.NewUncalibrated(1, 640, 480, 0),
		2: camera.NewUncalibrated(2, 640, 480, 0),
	}
	edges := []Edge{
		{A: 0, B: 1, Rotation: identity3(), Translation: [3]float64{1, 0, 0}, RMSE: 0.9},
		{A: 1, B: 2, Rotation: identity3(), Translation: [3]float64{1, 0, 0}, RMSE: 0.1},
		{A: 0, B: 2, Rotation: identity3(), Translation: [3]float64{2, 0, 0}, RMSE: 0.9},
	}

	b := NewBuilder(cams, edges)
	arr, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if arr.Anchor != 1 {
		t.Fatalf("expected camera 1 (lowest mean RMSE) as anchor, got %d", arr.Anchor)
	}
}
