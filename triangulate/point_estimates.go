package triangulate

import (
	"sort"

	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/packets"
)

// pairKey is a normalized (smaller port first) pair of ports used to key
// cached triangulation pairs.
type pairKey struct{ a, b int }

// Estimates is the full table of observed 2D points and their triangulated
// 3D positions, in the flat-array layout bundle adjustment consumes:
// every image observation (SyncIndices[i], CameraIndices[i], PointID[i],
// Img[i]) references one entry in Obj via ObjIndices[i].
type Estimates struct {
	SyncIndices   []int
	CameraIndices []int
	PointID       []int
	Img           [][2]float64

	ObjIndices []int
	Obj        [][3]float64
	ObjPointID []int
}

// NCameras reports the number of distinct cameras referenced in
// CameraIndices.
func (e *Estimates) NCameras() int {
	seen := map[int]bool{}
	for _, c := range e.CameraIndices {
		seen[c] = true
	}
	return len(seen)
}

// NObjPoints reports how many distinct 3D points were estimated.
func (e *Estimates) NObjPoints() int { return len(e.Obj) }

// NImgPoints reports how many 2D observations feed the estimate.
func (e *Estimates) NImgPoints() int { return len(e.Img) }

// Builder assembles an Estimates table from a stream of SyncPackets: for
// every charuco corner seen by at least two cameras in a synchronized
// frame, its 3D position is triangulated from every calibrated camera pair
// that saw it and averaged, discarding points seen by fewer than two
// cameras.
type Builder struct {
	array     *camera.Array
	portIndex map[int]int
	pairs     map[pairKey]*Pair
	log       logging.Logger
	estimates Estimates
}

// NewBuilder precomputes a projection-matrix pair for every combination of
// calibrated, non-ignored cameras in the array.
func NewBuilder(arr *camera.Array, log logging.Logger) *Builder {
	if log == nil {
		log = logging.Noop()
	}
	ports := arr.Ports()
	portIndex := make(map[int]int, len(ports))
	for i, p := range ports {
		portIndex[p] = i
	}

	pairs := map[pairKey]*Pair{}
	for i := 0; i < len(ports); i++ {
		for j := i + 1; j < len(ports); j++ {
			a, b := ports[i], ports[j]
			camA, camB := arr.Cameras[a], arr.Cameras[b]
			if !camA.Calibrated() || !camB.Calibrated() {
				continue
			}
			pairs[pairKey{a, b}] = NewPair(camA, camB)
		}
	}

	return &Builder{array: arr, portIndex: portIndex, pairs: pairs, log: log}
}

func (b *Builder) pairFor(a, c int) *Pair {
	if a > c {
		a, c = c, a
	}
	return b.pairs[pairKey{a, c}]
}

// AddSyncPacket triangulates every sufficiently-observed point in one
// synchronized frame and appends it to the growing Estimates table.
func (b *Builder) AddSyncPacket(sp *packets.SyncPacket) {
	obsByPoint := map[int]map[int][2]float64{}
	for port, fp := range sp.FramePackets {
		if fp == nil || fp.Points == nil {
			continue
		}
		if _, ok := b.portIndex[port]; !ok {
			continue
		}
		for i, id := range fp.Points.PointID {
			if obsByPoint[id] == nil {
				obsByPoint[id] = map[int][2]float64{}
			}
			obsByPoint[id][port] = fp.Points.ImgLoc[i]
		}
	}

	ids := make([]int, 0, len(obsByPoint))
	for id := range obsByPoint {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		portObs := obsByPoint[id]
		if len(portObs) < 2 {
			continue
		}
		ports := make([]int, 0, len(portObs))
		for p := range portObs {
			ports = append(ports, p)
		}
		sort.Ints(ports)

		var sum [3]float64
		var n int
		for i := 0; i < len(ports); i++ {
			for j := i + 1; j < len(ports); j++ {
				pair := b.pairFor(ports[i], ports[j])
				if pair == nil {
					continue
				}
				xyz, err := pair.Triangulate(portObs[ports[i]], portObs[ports[j]])
				if err != nil {
					continue
				}
				sum[0] += xyz[0]
				sum[1] += xyz[1]
				sum[2] += xyz[2]
				n++
			}
		}
		if n == 0 {
			continue
		}
		avg := [3]float64{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)}

		objIdx := len(b.estimates.Obj)
		b.estimates.Obj = append(b.estimates.Obj, avg)
		b.estimates.ObjPointID = append(b.estimates.ObjPointID, id)

		for _, port := range ports {
			b.estimates.SyncIndices = append(b.estimates.SyncIndices, sp.SyncIndex)
			b.estimates.CameraIndices = append(b.estimates.CameraIndices, b.portIndex[port])
			b.estimates.PointID = append(b.estimates.PointID, id)
			b.estimates.Img = append(b.estimates.Img, portObs[port])
			b.estimates.ObjIndices = append(b.estimates.ObjIndices, objIdx)
		}
	}
}

// Finish returns the assembled Estimates table.
func (b *Builder) Finish() *Estimates {
	return &b.estimates
}
