package stereo

import (
	"testing"

	"github.com/fieldrig/capturevolume/packets"
)

func TestCommonPointsFromSyncIntersects(t *testing.T) {
	a := &packets.FramePacket{Points: &packets.PointPacket{
		PointID: []int{1, 2, 3},
		ImgLoc:  [][2]float64{{1, 1}, {2, 2}, {3, 3}},
		ObjLoc:  [][3]float64{{1, 1, 0}, {2, 2, 0}, {3, 3, 0}},
	}}
	b := &packets.FramePacket{Points: &packets.PointPacket{
		PointID: []int{2, 3, 4},
		ImgLoc:  [][2]float64{{20, 20}, {30, 30}, {40, 40}},
		ObjLoc:  [][3]float64{{2, 2, 0}, {3, 3, 0}, {4, 4, 0}},
	}}
	sp := &packets.SyncPacket{FramePackets: map[int]*packets.FramePacket{0: a, 1: b}}

	common, ok := CommonPointsFromSync(sp, 0, 1)
	if !ok {
		t.Fatal("expected common points")
	}
	if common.Len() != 2 {
		t.Fatalf("expected 2 common points, got %d", common.Len())
	}
	if common.PointIDs[0] != 2 || common.PointIDs[1] != 3 {
		t.Fatalf("unexpected ids: %v", common.PointIDs)
	}
	if common.ImgLocB[0] != [2]float64{20, 20} {
		t.Fatalf("unexpected img loc B: %v", common.ImgLocB)
	}
}

func TestCommonPointsFromSyncMissingPort(t *testing.T) {
	sp := &packets.SyncPacket{FramePackets: map[int]*packets.FramePacket{0: nil, 1: nil}}
	if _, ok := CommonPointsFromSync(sp, 0, 1); ok {
		t.Fatal("expected false when both ports missing")
	}
}

func TestPairsNormalizesOrder(t *testing.T) {
	pairs := Pairs([]int{2, 0, 1})
	want := []Pair{{0, 1}, {0, 2}, {1, 2}}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i, p := range pairs {
		if p != want[i] {
			t.Fatalf("pair %d = %v, want %v", i, p, want[i])
		}
	}
}
