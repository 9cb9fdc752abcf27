package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fieldrig/capturevolume/board"
	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/packets"
	"github.com/fieldrig/capturevolume/tracker"
	"github.com/fieldrig/capturevolume/triangulate"
)

func testTracker(t *testing.T) tracker.Tracker {
	t.Helper()
	spec, err := board.New(4, 3, 0.02, 0, 0.75, false)
	if err != nil {
		t.Fatalf("board.New: %v", err)
	}
	return tracker.NewCharucoTracker(spec, logging.Noop())
}

func testEstimates() *triangulate.Estimates {
	return &triangulate.Estimates{
		SyncIndices:   []int{0, 0, 1, 1},
		CameraIndices: []int{0, 1, 0, 1},
		PointID:       []int{3, 3, 3, 3},
		Img:           [][2]float64{{10, 10}, {20, 10}, {11, 11}, {21, 11}},
		ObjIndices:    []int{0, 0, 1, 1},
		Obj:           [][3]float64{{0.1, 0.2, 1}, {0.11, 0.21, 1.01}},
		ObjPointID:    []int{3, 3},
	}
}

func TestWriteXYZCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xyz_charuco.csv")
	if err := WriteXYZCSV(path, testEstimates()); err != nil {
		t.Fatalf("WriteXYZCSV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "sync_index,point_id,x_coord,y_coord,z_coord") {
		t.Fatalf("missing header: %q", content)
	}
	if strings.Count(content, "\n") < 2 {
		t.Fatalf("expected at least 2 data rows, got: %q", content)
	}
}

func TestWriteXYZLabelledCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xyz_charuco_labelled.csv")
	tr := testTracker(t)
	if err := WriteXYZLabelledCSV(path, testEstimates(), tr); err != nil {
		t.Fatalf("WriteXYZLabelledCSV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "corner_3_x,corner_3_y,corner_3_z") {
		t.Fatalf("missing labelled columns: %q", content)
	}
}

func TestWriteTRC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xyz_charuco.trc")
	tr := testTracker(t)
	frameTime := map[int]float64{0: 1.0, 1: 1.05}
	if err := WriteTRC(path, testEstimates(), tr, frameTime); err != nil {
		t.Fatalf("WriteTRC: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) < 6 {
		t.Fatalf("expected at least 6 lines (5 header + 1 data), got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "PathFileType") {
		t.Fatalf("first line should be PathFileType header, got %q", lines[0])
	}
}

func TestWriteXYCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xy_charuco.csv")
	sp := []*packets.SyncPacket{
		{
			SyncIndex: 0,
			FramePackets: map[int]*packets.FramePacket{
				0: {Port: 0, FrameIndex: 5, FrameTime: 0.5, Points: &packets.PointPacket{
					PointID: []int{3}, ImgLoc: [][2]float64{{10, 10}}, ObjLoc: [][3]float64{{0, 0, 0}},
				}},
			},
		},
	}
	if err := WriteXYCSV(path, sp); err != nil {
		t.Fatalf("WriteXYCSV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "img_loc_x") {
		t.Fatalf("missing header: %q", string(data))
	}
}
