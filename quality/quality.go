// Package quality filters a post-optimization capture volume by
// reprojection-residual percentile and checks triangulated board geometry
// against its known corner spacing — the two ground-truth signals used to
// judge whether a calibration run is trustworthy.
package quality

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fieldrig/capturevolume/board"
	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/capturevolume"
	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/internal/pipelineerr"
	"github.com/fieldrig/capturevolume/triangulate"
)

// FilterReport summarizes one percentile filtering pass.
type FilterReport struct {
	Percentile       float64
	Threshold        float64
	ObservationsIn   int
	ObservationsOut  int
	PointsIn         int
	PointsOut        int
	RMSEBeforeFilter float64
	RMSEAfterReopt   float64
}

// Controller owns the capture volume under review and re-optimizes it as
// observations are filtered out.
type Controller struct {
	cv  *capturevolume.CaptureVolume
	log logging.Logger
}

// New wraps an already-optimized CaptureVolume for quality review.
func New(cv *capturevolume.CaptureVolume, log logging.Logger) *Controller {
	if log == nil {
		log = logging.Noop()
	}
	return &Controller{cv: cv, log: log}
}

// CaptureVolume returns the controller's current capture volume — call
// this after FilterByPercentile to keep working with the filtered,
// re-optimized state.
func (c *Controller) CaptureVolume() *capturevolume.CaptureVolume { return c.cv }

// FilterByPercentile retains observations whose residual magnitude ranks
// below the pth percentile of the current residual distribution, drops any
// 3D point left with fewer than two surviving observations, rebuilds
// obj_indices contiguously, and re-runs bundle adjustment on the trimmed
// capture volume.
func (c *Controller) FilterByPercentile(p float64, maxIterations int, functionTolerance float64) (FilterReport, error) {
	mags := c.cv.ResidualMagnitudes()
	est := c.cv.Estimates

	report := FilterReport{
		Percentile:       p,
		ObservationsIn:   len(mags),
		PointsIn:         len(est.Obj),
		RMSEBeforeFilter: c.cv.RMSE(),
	}

	if len(mags) == 0 {
		return report, pipelineerr.Wrap(
			&pipelineerr.InsufficientObservations{Component: "quality filter", Have: 0, Need: 1},
			"quality.FilterByPercentile",
		)
	}

	sorted := append([]float64(nil), mags...)
	sort.Float64s(sorted)
	threshold := stat.Quantile(p/100, stat.Empirical, sorted, nil)
	report.Threshold = threshold

	keep := make([]bool, len(mags))
	for i, m := range mags {
		keep[i] = m < threshold
	}

	survivalCount := map[int]int{}
	for i, k := range keep {
		if k {
			survivalCount[est.ObjIndices[i]]++
		}
	}

	newObjIndex := map[int]int{}
	var newObj [][3]float64
	var newObjPointID []int
	for oldIdx, n := range survivalCount {
		if n < 2 {
			continue
		}
		newObjIndex[oldIdx] = len(newObj)
		newObj = append(newObj, est.Obj[oldIdx])
		newObjPointID = append(newObjPointID, est.ObjPointID[oldIdx])
	}

	filtered := &triangulate.Estimates{
		Obj:        newObj,
		ObjPointID: newObjPointID,
	}
	for i, k := range keep {
		if !k {
			continue
		}
		newIdx, ok := newObjIndex[est.ObjIndices[i]]
		if !ok {
			continue
		}
		filtered.SyncIndices = append(filtered.SyncIndices, est.SyncIndices[i])
		filtered.CameraIndices = append(filtered.CameraIndices, est.CameraIndices[i])
		filtered.PointID = append(filtered.PointID, est.PointID[i])
		filtered.Img = append(filtered.Img, est.Img[i])
		filtered.ObjIndices = append(filtered.ObjIndices, newIdx)
	}

	report.ObservationsOut = len(filtered.Img)
	report.PointsOut = len(filtered.Obj)

	c.cv = capturevolume.New(c.cv.Array, filtered, c.log)
	_, rmseAfter, err := c.cv.Optimize(maxIterations, functionTolerance)
	report.RMSEAfterReopt = rmseAfter
	return report, err
}

// Scan batch-scans a capture volume across a sweep of percentile cutoffs
// and reports the post-reoptimization RMSE for each, without mutating the
// caller's original CaptureVolume: every cutoff is evaluated independently
// starting from the same baseline.
func Scan(cv *capturevolume.CaptureVolume, percentiles []float64, maxIterations int, functionTolerance float64, log logging.Logger) []FilterReport {
	reports := make([]FilterReport, 0, len(percentiles))
	baseArray := cv.Array
	baseEstimates := cv.Estimates
	for _, p := range percentiles {
		cams := make(map[int]*camera.Data, len(baseArray.Cameras))
		for port, d := range baseArray.Cameras {
			cp := *d
			cams[port] = &cp
		}
		trialArray := &camera.Array{Cameras: cams, Anchor: baseArray.Anchor}
		trial := capturevolume.New(trialArray, cloneEstimates(baseEstimates), log)
		ctrl := New(trial, log)
		report, _ := ctrl.FilterByPercentile(p, maxIterations, functionTolerance)
		reports = append(reports, report)
	}
	return reports
}

func cloneEstimates(e *triangulate.Estimates) *triangulate.Estimates {
	return &triangulate.Estimates{
		SyncIndices:   append([]int(nil), e.SyncIndices...),
		CameraIndices: append([]int(nil), e.CameraIndices...),
		PointID:       append([]int(nil), e.PointID...),
		Img:           append([][2]float64(nil), e.Img...),
		ObjIndices:    append([]int(nil), e.ObjIndices...),
		Obj:           append([][3]float64(nil), e.Obj...),
		ObjPointID:    append([]int(nil), e.ObjPointID...),
	}
}

// DistanceError is one ground-truth check: the discrepancy between the
// Euclidean distance of two triangulated, grid-adjacent board corners and
// their known physical spacing.
type DistanceError struct {
	SyncIndex    int
	CornerA      int
	CornerB      int
	Expected     float64
	Triangulated float64
}

// Delta is the signed deviation from the expected spacing.
func (d DistanceError) Delta() float64 { return d.Triangulated - d.Expected }

// CheckBoardDistances walks every pair of grid-adjacent corners present at
// the same sync_index in est and compares their triangulated separation
// against the board's known square edge length, the primary ground-truth
// quality metric for a finished calibration.
func CheckBoardDistances(est *triangulate.Estimates, spec *board.Spec) []DistanceError {
	adjacency := spec.ConnectedCorners()

	bySync := map[int]map[int][3]float64{}
	for i, idx := range est.ObjIndices {
		sync := est.SyncIndices[i]
		id := est.PointID[i]
		if bySync[sync] == nil {
			bySync[sync] = map[int][3]float64{}
		}
		bySync[sync][id] = est.Obj[idx]
	}

	var errs []DistanceError
	for sync, corners := range bySync {
		for pair := range adjacency {
			pa, okA := corners[pair.A]
			pb, okB := corners[pair.B]
			if !okA || !okB {
				continue
			}
			dx := pa[0] - pb[0]
			dy := pa[1] - pb[1]
			dz := pa[2] - pb[2]
			dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
			errs = append(errs, DistanceError{
				SyncIndex:    sync,
				CornerA:      pair.A,
				CornerB:      pair.B,
				Expected:     spec.SquareEdgeLength,
				Triangulated: dist,
			})
		}
	}
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].SyncIndex != errs[j].SyncIndex {
			return errs[i].SyncIndex < errs[j].SyncIndex
		}
		if errs[i].CornerA != errs[j].CornerA {
			return errs[i].CornerA < errs[j].CornerA
		}
		return errs[i].CornerB < errs[j].CornerB
	})
	return errs
}
