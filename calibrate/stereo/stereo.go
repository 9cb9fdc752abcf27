package stereo

import (
	"math"
	"time"

	"gocv.io/x/gocv"

	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/internal/pipelineerr"
	"github.com/fieldrig/capturevolume/packets"
)

// cornerThreshold is the minimum number of corners two cameras must see in
// common before a frame is worth accumulating.
const cornerThreshold = 5

// minWaitBetweenSnapshots bounds how often consecutive frames are
// accumulated for the same pair, so the accumulated sample spans a variety
// of board poses rather than a burst of near-identical ones.
const minWaitBetweenSnapshots = 500 * time.Millisecond

// gridCountTrigger is how many accumulated frames are required before
// Calibrate can run.
const gridCountTrigger = 5

// Pose is one pair's estimated relative extrinsics: camera B's pose
// expressed in camera A's frame.
type Pose struct {
	Rotation    [3][3]float64
	Translation [3]float64
	RMSE        float64
	GridCount   int
}

// PairwiseCalibrator accumulates common-corner observations for one camera
// pair and, once enough frames spanning distinct board poses have been
// seen, estimates their relative pose.
type PairwiseCalibrator struct {
	pair Pair
	camA *camera.Data
	camB *camera.Data
	log  logging.Logger

	lastSnapshot time.Time
	frames       []CommonPoints
}

// NewPairwiseCalibrator builds a calibrator for the pair (camA.Port,
// camB.Port), reading both cameras' already-fitted intrinsics.
func NewPairwiseCalibrator(camA, camB *camera.Data, log logging.Logger) *PairwiseCalibrator {
	if log == nil {
		log = logging.Noop()
	}
	port := func(d *camera.Data) int { return d.Port }
	return &PairwiseCalibrator{
		pair: Pair{A: port(camA), B: port(camB)},
		camA: camA,
		camB: camB,
		log:  log,
	}
}

// GridCount reports how many frames have been accumulated so far.
func (p *PairwiseCalibrator) GridCount() int { return len(p.frames) }

// Ready reports whether enough frames have been accumulated to calibrate.
func (p *PairwiseCalibrator) Ready() bool { return len(p.frames) >= gridCountTrigger }

// AddSyncPacket inspects one synchronized frame and, if it carries enough
// corners common to both cameras and enough time has passed since the last
// accumulated sample, stores it.
func (p *PairwiseCalibrator) AddSyncPacket(sp *packets.SyncPacket) {
	common, ok := CommonPointsFromSync(sp, p.pair.A, p.pair.B)
	if !ok || common.Len() < cornerThreshold {
		return
	}
	if !p.lastSnapshot.IsZero() && time.Since(p.lastSnapshot) < minWaitBetweenSnapshots {
		return
	}
	p.frames = append(p.frames, common)
	p.lastSnapshot = time.Now()
}

// Reset discards accumulated frames, e.g. after a successful calibration
// or to force fresh data collection.
func (p *PairwiseCalibrator) Reset() {
	p.frames = nil
	p.lastSnapshot = time.Time{}
}

// Calibrate estimates the relative pose of camB with respect to camA.
// Since OpenCV's gocv bindings do not expose stereoCalibrate, each
// accumulated frame's board pose is recovered independently in both
// cameras via solvePnP (intrinsics held fixed), and the implied relative
// pose R_rel = R_B * R_A^T, t_rel = t_B - R_rel * t_A is averaged across
// frames: rotations by quaternion averaging, translations by arithmetic
// mean. RMSE reports the mean per-point reprojection error of A's board
// points into B's image, once the averaged pose is applied.
func (p *PairwiseCalibrator) Calibrate() (Pose, error) {
	if !p.Ready() {
		return Pose{}, pipelineerr.Wrap(
			&pipelineerr.InsufficientObservations{Component: "stereo pair", Have: len(p.frames), Need: gridCountTrigger},
			"stereo.Calibrate",
		)
	}

	var quats [][4]float64
	var translations [][3]float64

	for _, frame := range p.frames {
		rA, tA, okA := solvePose(p.camA, frame.ObjLoc, frame.ImgLocA)
		rB, tB, okB := solvePose(p.camB, frame.ObjLoc, frame.ImgLocB)
		if !okA || !okB {
			continue
		}

		rRel := camera.MatMulMat3(rB, camera.TransposeMat3(rA))
		tRel := camera.MatMulVec3(rRel, negate(tA))
		tRel[0] += tB[0]
		tRel[1] += tB[1]
		tRel[2] += tB[2]

		quats = append(quats, matrixToQuaternion(rRel))
		translations = append(translations, tRel)
	}

	if len(quats) == 0 {
		return Pose{}, pipelineerr.Wrap(
			&pipelineerr.OptimizationDidNotConverge{Iterations: 0, FinalCost: math.Inf(1)},
			"stereo.Calibrate: no frame yielded a valid pose estimate",
		)
	}

	avgQuat := averageQuaternions(quats)
	R := quaternionToMatrix(avgQuat)
	var t [3]float64
	for _, tr := range translations {
		t[0] += tr[0]
		t[1] += tr[1]
		t[2] += tr[2]
	}
	n := float64(len(translations))
	t[0] /= n
	t[1] /= n
	t[2] /= n

	rmse := reprojectionRMSE(p.camB, R, t, p.frames)

	pose := Pose{Rotation: R, Translation: t, RMSE: rmse, GridCount: len(p.frames)}
	p.log.Info("stereo: calibrated pair", "port_a", p.pair.A, "port_b", p.pair.B, "rmse", rmse, "grid_count", pose.GridCount)
	return pose, nil
}

// solvePose recovers a board's pose in one camera's frame via solvePnP,
// using the camera's already-fitted intrinsics and distortion.
func solvePose(cam *camera.Data, objLoc [][3]float64, imgLoc [][2]float64) (R [3][3]float64, t [3]float64, ok bool) {
	if len(objLoc) < 4 {
		return R, t, false
	}

	objPts := make([]gocv.Point3f, len(objLoc))
	for i, p := range objLoc {
		objPts[i] = gocv.Point3f{X: float32(p[0]), Y: float32(p[1]), Z: float32(p[2])}
	}
	imgPts := make([]gocv.Point2f, len(imgLoc))
	for i, p := range imgLoc {
		imgPts[i] = gocv.Point2f{X: float32(p[0]), Y: float32(p[1])}
	}

	cameraMatrix := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer cameraMatrix.Close()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			cameraMatrix.SetDoubleAt(i, j, cam.Matrix[i][j])
		}
	}
	distCoeffs := gocv.NewMatWithSize(1, 5, gocv.MatTypeCV64F)
	defer distCoeffs.Close()
	for i := 0; i < 5; i++ {
		distCoeffs.SetDoubleAt(0, i, cam.Distortions[i])
	}

	rvec := gocv.NewMat()
	defer rvec.Close()
	tvec := gocv.NewMat()
	defer tvec.Close()

	success := gocv.SolvePnP(
		gocv.NewPoint3fVectorFromPoints(objPts),
		gocv.NewPoint2fVectorFromPoints(imgPts),
		&cameraMatrix, &distCoeffs,
		&rvec, &tvec,
		false, gocv.SolvePnPIterative,
	)
	if !success {
		return R, t, false
	}

	var rv [3]float64
	for i := 0; i < 3; i++ {
		rv[i] = rvec.GetDoubleAt(i, 0)
		t[i] = tvec.GetDoubleAt(i, 0)
	}
	R = camera.RotationFromRodrigues(rv)
	return R, t, true
}

func negate(v [3]float64) [3]float64 { return [3]float64{-v[0], -v[1], -v[2]} }

// reprojectionRMSE projects every accumulated frame's object points through
// camA's identity frame composed with the estimated relative pose into
// camB's image plane, and compares against the frame's observed image
// locations in camera B.
func reprojectionRMSE(camB *camera.Data, R [3][3]float64, t [3]float64, frames []CommonPoints) float64 {
	probe := *camB
	probe.Rotation = R
	probe.Translation = t

	var sumSq float64
	var n int
	for _, frame := range frames {
		projected := probe.Project(frame.ObjLoc)
		for i, p := range projected {
			dx := p[0] - frame.ImgLocB[i][0]
			dy := p[1] - frame.ImgLocB[i][1]
			sumSq += dx*dx + dy*dy
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(n))
}
