package intrinsic

import (
	"testing"

	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/packets"
)

func frame(index int, ids []int) packets.FramePacket {
	imgLoc := make([][2]float64, len(ids))
	objLoc := make([][3]float64, len(ids))
	for i := range ids {
		imgLoc[i] = [2]float64{float64(i), float64(i)}
		objLoc[i] = [3]float64{float64(i), float64(i), 0}
	}
	return packets.FramePacket{
		FrameIndex: index,
		FrameTime:  float64(index) / 30,
		Points:     &packets.PointPacket{PointID: ids, ImgLoc: imgLoc, ObjLoc: objLoc},
	}
}

func TestAutoPopStagesAboveThreshold(t *testing.T) {
	cam := camera.NewUncalibrated(0, 640, 480, 0)
	c := New(cam, 9, logging.Noop())
	c.InitiateAutoPop(2, 6, 5)

	for i := 0; i <= 9; i++ {
		ids := make([]int, 8)
		for j := range ids {
			ids[j] = j
		}
		c.AddFramePacket(frame(i, ids))
	}

	if got := c.GridCount(); got == 0 {
		t.Fatal("expected at least one staged calibration frame")
	}
}

func TestManualStaging(t *testing.T) {
	cam := camera.NewUncalibrated(0, 640, 480, 0)
	c := New(cam, 10, logging.Noop())

	c.AddFramePacket(frame(0, []int{0, 1, 2, 3, 4}))
	c.AddCalibrationFrameIndex(0)

	if got, want := c.GridCount(), 1; got != want {
		t.Fatalf("GridCount() = %d, want %d", got, want)
	}

	c.ClearCalibrationData()
	if got := c.GridCount(); got != 0 {
		t.Fatalf("GridCount() after clear = %d, want 0", got)
	}
}

func TestCalibrateCameraRequiresObservations(t *testing.T) {
	cam := camera.NewUncalibrated(0, 640, 480, 0)
	c := New(cam, 10, logging.Noop())

	if err := c.CalibrateCamera(); err == nil {
		t.Fatal("expected error calibrating with no staged frames")
	}
}

func TestCalibrateCameraRequiresTwoWellPopulatedFrames(t *testing.T) {
	cam := camera.NewUncalibrated(0, 640, 480, 0)
	c := New(cam, 10, logging.Noop())

	// A single frame with only 4 corners clears the bare gocv minimum but
	// not the 6-corner well-populated threshold, and there's only one of
	// them: calibration must still refuse to run.
	c.AddFramePacket(frame(0, []int{0, 1, 2, 3}))
	c.AddCalibrationFrameIndex(0)

	if err := c.CalibrateCamera(); err == nil {
		t.Fatal("expected InsufficientObservations with fewer than two well-populated frames")
	}
}
