package quality

import (
	"testing"

	"github.com/fieldrig/capturevolume/board"
	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/capturevolume"
	"github.com/fieldrig/capturevolume/triangulate"
)

func buildReviewVolume(t *testing.T) *capturevolume.CaptureVolume {
	t.Helper()
	camA := camera.NewUncalibrated(0, 640, 480, 0)
	camB := camera.NewUncalibrated(1, 640, 480, 0)
	camB.Translation = [3]float64{1, 0, 0}
	arr, err := camera.NewArray(map[int]*camera.Data{0: camA, 1: camB}, 0)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}

	est := &triangulate.Estimates{}
	truePoints := [][3]float64{{0.1, 0.1, 5}, {0.2, -0.1, 4}, {-0.1, 0.2, 6}, {0.3, 0.3, 5.5}}
	outlierNoise := []float64{0, 0, 0, 40} // last point gets a large observation outlier
	for j, pt := range truePoints {
		est.Obj = append(est.Obj, pt)
		est.ObjPointID = append(est.ObjPointID, j)
		for portIdx, cam := range []*camera.Data{camA, camB} {
			img := cam.Project([][3]float64{pt})[0]
			img[0] += outlierNoise[j]
			est.SyncIndices = append(est.SyncIndices, 0)
			est.CameraIndices = append(est.CameraIndices, portIdx)
			est.PointID = append(est.PointID, j)
			est.Img = append(est.Img, img)
			est.ObjIndices = append(est.ObjIndices, j)
		}
	}

	return capturevolume.New(arr, est, nil)
}

func TestFilterByPercentileDropsWorstObservations(t *testing.T) {
	cv := buildReviewVolume(t)
	ctrl := New(cv, nil)

	report, err := ctrl.FilterByPercentile(80, 50, 1e-8)
	if err != nil {
		t.Logf("FilterByPercentile non-convergence warning: %v", err)
	}
	if report.ObservationsOut >= report.ObservationsIn {
		t.Fatalf("expected filtering to drop observations: in=%d out=%d", report.ObservationsIn, report.ObservationsOut)
	}
	if report.PointsOut > report.PointsIn {
		t.Fatalf("points should never increase after filtering: in=%d out=%d", report.PointsIn, report.PointsOut)
	}
}

func TestFilterByPercentileRejectsEmptyVolume(t *testing.T) {
	camA := camera.NewUncalibrated(0, 640, 480, 0)
	arr, err := camera.NewArray(map[int]*camera.Data{0: camA}, 0)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	cv := capturevolume.New(arr, &triangulate.Estimates{}, nil)
	ctrl := New(cv, nil)
	if _, err := ctrl.FilterByPercentile(50, 10, 1e-8); err == nil {
		t.Fatal("expected error filtering an empty capture volume")
	}
}

func TestScanReturnsOneReportPerPercentile(t *testing.T) {
	cv := buildReviewVolume(t)
	reports := Scan(cv, []float64{25, 50, 75}, 50, 1e-8, nil)
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	for i, r := range reports {
		if r.Percentile != []float64{25, 50, 75}[i] {
			t.Fatalf("report %d percentile = %v", i, r.Percentile)
		}
	}
}

func TestCheckBoardDistancesFlagsKnownSpacing(t *testing.T) {
	spec, err := board.New(4, 3, 0.05, 0, 0.75, false)
	if err != nil {
		t.Fatalf("board.New: %v", err)
	}

	corners := spec.ObjectCorners()
	est := &triangulate.Estimates{
		Obj:         corners,
		ObjPointID:  make([]int, len(corners)),
		SyncIndices: make([]int, len(corners)),
		PointID:     make([]int, len(corners)),
		ObjIndices:  make([]int, len(corners)),
	}
	for i := range corners {
		est.ObjPointID[i] = i
		est.PointID[i] = i
		est.ObjIndices[i] = i
	}

	errs := CheckBoardDistances(est, spec)
	if len(errs) == 0 {
		t.Fatal("expected distance checks for grid-adjacent corners")
	}
	for _, e := range errs {
		if e.Delta() > 1e-9 || e.Delta() < -1e-9 {
			t.Fatalf("ground-truth board points should have zero distance error, got %v for pair (%d,%d)", e.Delta(), e.CornerA, e.CornerB)
		}
	}
}
