// Package stereo estimates the relative pose between pairs of cameras from
// simultaneously observed Charuco corners, and triangulation-grade
// intersections of their point observations.
package stereo

import (
	"sort"

	"github.com/fieldrig/capturevolume/packets"
)

// CommonPoints holds the subset of one synchronized frame's points that
// were seen by both cameras in a pair, aligned index-for-index.
type CommonPoints struct {
	PointIDs []int
	ObjLoc   [][3]float64
	ImgLocA  [][2]float64
	ImgLocB  [][2]float64
}

// Len reports how many common points were found.
func (c CommonPoints) Len() int { return len(c.PointIDs) }

// CommonPointsFromSync intersects the point ids seen by portA and portB in
// one synchronized frame, returning false if either port's frame is
// missing or carries no points.
func CommonPointsFromSync(sp *packets.SyncPacket, portA, portB int) (CommonPoints, bool) {
	fpA, okA := sp.FramePackets[portA]
	fpB, okB := sp.FramePackets[portB]
	if !okA || !okB || fpA == nil || fpB == nil || fpA.Points == nil || fpB.Points == nil {
		return CommonPoints{}, false
	}

	idxB := make(map[int]int, len(fpB.Points.PointID))
	for i, id := range fpB.Points.PointID {
		idxB[id] = i
	}

	var ids []int
	for _, id := range fpA.Points.PointID {
		if _, ok := idxB[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	if len(ids) == 0 {
		return CommonPoints{}, false
	}

	idxA := make(map[int]int, len(fpA.Points.PointID))
	for i, id := range fpA.Points.PointID {
		idxA[id] = i
	}

	out := CommonPoints{
		PointIDs: ids,
		ObjLoc:   make([][3]float64, len(ids)),
		ImgLocA:  make([][2]float64, len(ids)),
		ImgLocB:  make([][2]float64, len(ids)),
	}
	for i, id := range ids {
		out.ObjLoc[i] = fpA.Points.ObjLoc[idxA[id]]
		out.ImgLocA[i] = fpA.Points.ImgLoc[idxA[id]]
		out.ImgLocB[i] = fpB.Points.ImgLoc[idxB[id]]
	}
	return out, true
}

// Pair is an ordered (smaller port first) pairing of two camera ports.
type Pair struct {
	A, B int
}

// Pairs returns every unordered combination of ports, each normalized to
// put the smaller port first, sorted for determinism.
func Pairs(ports []int) []Pair {
	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)

	var out []Pair
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			out = append(out, Pair{A: sorted[i], B: sorted[j]})
		}
	}
	return out
}
