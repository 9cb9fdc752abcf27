package triangulate

import (
	"testing"

	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/packets"
)

func buildTestArray(t *testing.T) *camera.Array {
	t.Helper()
	camA := camera.NewUncalibrated(0, 640, 480, 0)
	camB := camera.NewUncalibrated(1, 640, 480, 0)
	camC := camera.NewUncalibrated(2, 640, 480, 0)
	camB.Translation = [3]float64{1, 0, 0}
	camC.Translation = [3]float64{0, 1, 0}

	arr, err := camera.NewArray(map[int]*camera.Data{0: camA, 1: camB, 2: camC}, 0)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	return arr
}

func syncFromWorldPoints(arr *camera.Array, syncIndex int, points map[int][3]float64, seenBy map[int][]int) *packets.SyncPacket {
	sp := &packets.SyncPacket{SyncIndex: syncIndex, FramePackets: map[int]*packets.FramePacket{}}
	perPort := map[int]*packets.PointPacket{}
	for id, ports := range seenBy {
		world := points[id]
		for _, port := range ports {
			cam := arr.Cameras[port]
			img := cam.Project([][3]float64{world})[0]
			pp := perPort[port]
			if pp == nil {
				pp = &packets.PointPacket{}
				perPort[port] = pp
			}
			pp.PointID = append(pp.PointID, id)
			pp.ImgLoc = append(pp.ImgLoc, img)
		}
	}
	for port, pp := range perPort {
		sp.FramePackets[port] = &packets.FramePacket{Port: port, FrameIndex: syncIndex, Points: pp}
	}
	return sp
}

func TestBuilderPrunesPointsSeenByFewerThanTwoCameras(t *testing.T) {
	arr := buildTestArray(t)
	world := map[int][3]float64{
		1: {0.2, 0.1, 5},
		2: {0.1, -0.1, 5},
	}
	sp := syncFromWorldPoints(arr, 0, world, map[int][]int{
		1: {0},       // seen by only one camera, must be pruned
		2: {0, 1, 2}, // seen by three cameras, must survive
	})

	b := NewBuilder(arr, nil)
	b.AddSyncPacket(sp)
	est := b.Finish()

	if est.NObjPoints() != 1 {
		t.Fatalf("expected exactly 1 surviving point, got %d", est.NObjPoints())
	}
	if est.ObjPointID[0] != 2 {
		t.Fatalf("expected surviving point id 2, got %d", est.ObjPointID[0])
	}
	if got := est.NImgPoints(); got != 3 {
		t.Fatalf("expected 3 image observations for the surviving point, got %d", got)
	}
}

func TestBuilderAveragesAcrossMultiplePairs(t *testing.T) {
	arr := buildTestArray(t)
	world := map[int][3]float64{7: {0.05, 0.05, 4}}
	sp := syncFromWorldPoints(arr, 3, world, map[int][]int{7: {0, 1, 2}})

	b := NewBuilder(arr, nil)
	b.AddSyncPacket(sp)
	est := b.Finish()

	if est.NObjPoints() != 1 {
		t.Fatalf("expected 1 point, got %d", est.NObjPoints())
	}
	got := est.Obj[0]
	want := world[7]
	if !approxEqual3(got, want, 1e-6) {
		t.Fatalf("averaged point = %v, want %v", got, want)
	}
	for _, idx := range est.SyncIndices {
		if idx != 3 {
			t.Fatalf("expected sync index 3 on every row, got %d", idx)
		}
	}
}

func TestBuilderSkipsPointsWithNoCalibratedPair(t *testing.T) {
	cams := map[int]*camera.Data{
		0: camera.NewUncalibrated(0, 640, 480, 0),
		1: camera.NewUncalibrated(1, 640, 480, 0),
	}
	cams[0].Ignored = true
	arr, err := camera.NewArray(cams, 1)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}

	sp := &packets.SyncPacket{SyncIndex: 0, FramePackets: map[int]*packets.FramePacket{
		0: {Port: 0, Points: &packets.PointPacket{PointID: []int{5}, ImgLoc: [][2]float64{{100, 100}}}},
		1: {Port: 1, Points: &packets.PointPacket{PointID: []int{5}, ImgLoc: [][2]float64{{110, 100}}}},
	}}

	b := NewBuilder(arr, nil)
	b.AddSyncPacket(sp)
	est := b.Finish()
	if est.NObjPoints() != 0 {
		t.Fatalf("expected no points triangulated without a calibrated pair, got %d", est.NObjPoints())
	}
}
