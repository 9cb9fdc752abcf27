// Package array assembles pairwise stereo pose estimates into a single
// camera array: every camera's extrinsics expressed in one shared world
// frame, anchored at whichever camera has the lowest mean calibration
// error. Cameras not directly paired with the anchor have their pose
// composed along the lowest-RMSE path through the other pairs, found with
// Dijkstra's algorithm over a graph of pairwise observations weighted by
// RMSE.
package array

import (
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/internal/pipelineerr"
)

// Edge is one pairwise stereo calibration result: the rigid transform that
// carries points from port A's camera frame into port B's camera frame,
// X_B = Rotation*X_A + Translation, with RMSE its reprojection quality.
type Edge struct {
	A, B        int
	Rotation    [3][3]float64
	Translation [3]float64
	RMSE        float64
}

// Builder composes a set of pairwise stereo edges and per-camera
// intrinsics into a fully posed Array.
type Builder struct {
	edges   []Edge
	cameras map[int]*camera.Data
}

// NewBuilder takes the cameras with their intrinsics already fitted
// (extrinsics are overwritten by Build) and the pairwise stereo edges
// observed between them.
func NewBuilder(cameras map[int]*camera.Data, edges []Edge) *Builder {
	return &Builder{edges: edges, cameras: cameras}
}

// meanErrorByPrimary returns, for each port, the mean RMSE across every
// edge in which it participates (in either direction) — the same metric
// calicam's array builder used to choose the anchor by lowest average
// calibration error.
func (b *Builder) meanErrorByPrimary() map[int]float64 {
	sums := map[int]float64{}
	counts := map[int]int{}
	for _, e := range b.edges {
		sums[e.A] += e.RMSE
		counts[e.A]++
		sums[e.B] += e.RMSE
		counts[e.B]++
	}
	means := make(map[int]float64, len(sums))
	for port, sum := range sums {
		means[port] = sum / float64(counts[port])
	}
	return means
}

// chooseAnchor selects the port with the lowest mean edge RMSE among
// cameras that participate in at least one edge.
func (b *Builder) chooseAnchor() (int, bool) {
	means := b.meanErrorByPrimary()
	if len(means) == 0 {
		return 0, false
	}
	ports := make([]int, 0, len(means))
	for p := range means {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	best := ports[0]
	for _, p := range ports[1:] {
		if means[p] < means[best] {
			best = p
		}
	}
	return best, true
}

// Build constructs the weighted graph of edges, runs Dijkstra from the
// chosen anchor, and composes each reachable camera's world-frame
// extrinsics along its shortest (lowest cumulative RMSE) path. Cameras not
// reachable from the anchor are reported via DisconnectedCameraGraph.
func (b *Builder) Build() (*camera.Array, error) {
	anchor, ok := b.chooseAnchor()
	if !ok {
		return nil, pipelineerr.Wrap(
			&pipelineerr.InsufficientObservations{Component: "camera array", Have: 0, Need: 1},
			"array.Build: no pairwise stereo edges available",
		)
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	edgeByPair := map[[2]int64]Edge{}
	for port := range b.cameras {
		g.AddNode(simple.Node(int64(port)))
	}
	for _, e := range b.edges {
		g.SetWeightedEdge(simple.WeightedEdge{
			F: simple.Node(int64(e.A)),
			T: simple.Node(int64(e.B)),
			W: e.RMSE,
		})
		edgeByPair[[2]int64{int64(e.A), int64(e.B)}] = e
	}

	shortest := path.DijkstraFrom(simple.Node(int64(anchor)), g)

	var disconnected []int
	for port, cam := range b.cameras {
		if port == anchor {
			cam.Rotation = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
			cam.Translation = [3]float64{}
			continue
		}
		route, _ := shortest.To(int64(port))
		if len(route) < 2 {
			disconnected = append(disconnected, port)
			continue
		}

		R := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
		var t [3]float64
		for i := 0; i < len(route)-1; i++ {
			from := route[i].ID()
			to := route[i+1].ID()

			var localR [3][3]float64
			var localT [3]float64
			if e, ok := edgeByPair[[2]int64{from, to}]; ok {
				localR, localT = e.Rotation, e.Translation
			} else if e, ok := edgeByPair[[2]int64{to, from}]; ok {
				localR = camera.TransposeMat3(e.Rotation)
				localT = camera.MatMulVec3(localR, negate(e.Translation))
			} else {
				disconnected = append(disconnected, port)
				break
			}

			R = camera.MatMulMat3(localR, R)
			t = camera.MatMulVec3(localR, t)
			t[0] += localT[0]
			t[1] += localT[1]
			t[2] += localT[2]
		}
		cam.Rotation = R
		cam.Translation = t
	}

	if len(disconnected) > 0 {
		sort.Ints(disconnected)
		return nil, pipelineerr.Wrap(
			&pipelineerr.DisconnectedCameraGraph{IsolatedPorts: disconnected},
			"array.Build",
		)
	}

	return camera.NewArray(b.cameras, anchor)
}

func negate(v [3]float64) [3]float64 { return [3]float64{-v[0], -v[1], -v[2]} }
