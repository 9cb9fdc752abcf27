// Package intrinsic fits a single camera's intrinsic matrix and Brown-Conrady
// distortion coefficients from a series of Charuco board observations,
// optionally auto-selecting which observed frames to feed the calibration
// solver.
package intrinsic

import (
	"image"
	"math/rand"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/internal/pipelineerr"
	"github.com/fieldrig/capturevolume/packets"
)

// minCornersForOpenCV is the minimum number of corner observations a frame
// must carry to be usable in cv2/gocv's calibrateCamera solver.
const minCornersForOpenCV = 4

// minCornersForBackfill is a margin of safety above the raw OpenCV minimum:
// a frame needs more than this many corners to be a backfill candidate,
// and CalibrateCamera counts frames with at least this many as
// well-populated.
const minCornersForBackfill = 6

// Calibrator accumulates Charuco corner observations harvested from a
// single camera's frame stream and fits intrinsics from a selected subset
// of them.
type Calibrator struct {
	camera *camera.Data
	log    logging.Logger

	lastFrameIndex int

	mu                     sync.Mutex
	allIDs                 map[int][]int
	allImgLoc              map[int][][2]float64
	allObjLoc              map[int][][3]float64
	calibrationFrameIndices []int

	autoPopping         bool
	waitBetween         int
	thresholdCornerCount int
	targetGridCount     int
	autoPopFrameWait    int
}

// New builds a Calibrator bound to camera cam, whose distortion and matrix
// fields will be updated in place by CalibrateCamera. lastFrameIndex is the
// final frame index expected from the source stream, used to trigger
// backfill once auto-population reaches the end of a recording.
func New(cam *camera.Data, lastFrameIndex int, log logging.Logger) *Calibrator {
	if log == nil {
		log = logging.Noop()
	}
	c := &Calibrator{
		camera:         cam,
		log:            log,
		lastFrameIndex: lastFrameIndex,
	}
	c.resetPointHistory()
	return c
}

func (c *Calibrator) resetPointHistory() {
	c.allIDs = make(map[int][]int)
	c.allImgLoc = make(map[int][][2]float64)
	c.allObjLoc = make(map[int][][3]float64)
}

// GridCount reports how many frames are currently staged for calibration.
func (c *Calibrator) GridCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calibrationFrameIndices)
}

// AddFramePacket records one frame's Charuco observation, and if
// auto-population is active, may stage it for calibration or trigger
// backfill at the end of the stream.
func (c *Calibrator) AddFramePacket(fp packets.FramePacket) {
	if fp.IsEndOfStream() || fp.Points == nil {
		return
	}

	c.mu.Lock()
	index := fp.FrameIndex
	c.allIDs[index] = fp.Points.PointID
	c.allImgLoc[index] = fp.Points.ImgLoc
	c.allObjLoc[index] = fp.Points.ObjLoc

	if c.autoPopping {
		cornerCount := len(fp.Points.PointID)
		if c.autoPopFrameWait == 0 && cornerCount >= c.thresholdCornerCount {
			c.stageFrame(index)
			c.autoPopFrameWait = c.waitBetween
		} else if c.autoPopFrameWait > 0 {
			c.autoPopFrameWait--
		}

		if index == c.lastFrameIndex {
			c.log.Info("intrinsic: end of autopop stream reached", "port", c.camera.Port)
			c.autoPopping = false
			c.backfillLocked()
		}
	}
	c.mu.Unlock()
}

// backfillLocked samples additional previously-seen frames at random to
// reach the target grid count, called with mu held.
func (c *Calibrator) backfillLocked() {
	staged := len(c.calibrationFrameIndices)
	need := c.targetGridCount - staged
	if need <= 0 {
		return
	}

	stagedSet := make(map[int]bool, staged)
	for _, idx := range c.calibrationFrameIndices {
		stagedSet[idx] = true
	}

	var candidates []int
	for idx, ids := range c.allIDs {
		if stagedSet[idx] {
			continue
		}
		if len(ids) > minCornersForBackfill {
			candidates = append(candidates, idx)
		}
	}
	sort.Ints(candidates)

	if need > len(candidates) {
		need = len(candidates)
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	for _, idx := range candidates[:need] {
		c.stageFrame(idx)
	}
	c.log.Info("intrinsic: backfilled calibration frames", "port", c.camera.Port, "added", need, "total", len(c.calibrationFrameIndices))
}

// stageFrame adds a frame to the set used by CalibrateCamera. Called with
// mu held.
func (c *Calibrator) stageFrame(index int) {
	c.calibrationFrameIndices = append(c.calibrationFrameIndices, index)
}

// AddCalibrationFrameIndex manually stages a frame for calibration, for
// interactive selection rather than auto-population.
func (c *Calibrator) AddCalibrationFrameIndex(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stageFrame(index)
}

// ClearCalibrationData discards any staged frames, keeping the observed
// point history intact.
func (c *Calibrator) ClearCalibrationData() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calibrationFrameIndices = nil
}

// InitiateAutoPop clears staged data and enables automatic selection of
// calibration frames as they arrive: a frame is staged once waitBetween
// frames have elapsed since the last staged frame and the current frame
// has at least thresholdCornerCount corners. At end of stream, random
// backfill from previously seen frames tries to reach targetGridCount.
func (c *Calibrator) InitiateAutoPop(waitBetween, thresholdCornerCount, targetGridCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calibrationFrameIndices = nil
	c.waitBetween = waitBetween
	c.thresholdCornerCount = thresholdCornerCount
	c.targetGridCount = targetGridCount
	c.resetPointHistory()
	c.autoPopFrameWait = 0
	c.autoPopping = true
}

// CalibrateCamera fits the camera's intrinsic matrix and distortion vector
// from the currently staged frames via gocv's calibrateCamera, and writes
// the result back onto the bound camera.Data.
func (c *Calibrator) CalibrateCamera() error {
	c.mu.Lock()
	var objPoints [][]gocv.Point3f
	var imgPoints [][]gocv.Point2f
	wellPopulatedFrames := 0
	for _, index := range c.calibrationFrameIndices {
		ids := c.allIDs[index]
		if len(ids) <= minCornersForOpenCV-1 {
			c.log.Info("intrinsic: skipping sparse staged frame", "port", c.camera.Port, "frame_index", index, "corners", len(ids))
			continue
		}
		if len(ids) >= minCornersForBackfill {
			wellPopulatedFrames++
		}
		objLoc := c.allObjLoc[index]
		imgLoc := c.allImgLoc[index]

		obj := make([]gocv.Point3f, len(objLoc))
		for i, p := range objLoc {
			obj[i] = gocv.Point3f{X: float32(p[0]), Y: float32(p[1]), Z: float32(p[2])}
		}
		img := make([]gocv.Point2f, len(imgLoc))
		for i, p := range imgLoc {
			img[i] = gocv.Point2f{X: float32(p[0]), Y: float32(p[1])}
		}
		objPoints = append(objPoints, obj)
		imgPoints = append(imgPoints, img)
	}
	width, height := c.camera.Width, c.camera.Height
	c.mu.Unlock()

	if wellPopulatedFrames < 2 {
		return pipelineerr.Wrap(
			&pipelineerr.InsufficientObservations{Component: "intrinsic calibration", Have: wellPopulatedFrames, Need: 2},
			"intrinsic.CalibrateCamera",
		)
	}

	objVec := gocv.NewPoints3fVectorFromPoints(objPoints)
	defer objVec.Close()
	imgVec := gocv.NewPoints2fVectorFromPoints(imgPoints)
	defer imgVec.Close()

	cameraMatrix := gocv.NewMat()
	defer cameraMatrix.Close()
	distCoeffs := gocv.NewMat()
	defer distCoeffs.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rmse := gocv.CalibrateCamera(
		objVec, imgVec,
		imageSize(width, height),
		&cameraMatrix, &distCoeffs, &rvecs, &tvecs,
		0,
	)

	var matrix [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			matrix[i][j] = cameraMatrix.GetDoubleAt(i, j)
		}
	}
	var dist [5]float64
	for i := 0; i < 5 && i < distCoeffs.Cols()*distCoeffs.Rows(); i++ {
		dist[i] = distCoeffs.GetDoubleAt(0, i)
	}

	c.mu.Lock()
	c.camera.Matrix = matrix
	c.camera.Distortions = dist
	c.camera.Error = rmse
	c.camera.GridCount = len(objPoints)
	c.mu.Unlock()

	c.log.Info("intrinsic: calibrated camera", "port", c.camera.Port, "rmse", rmse, "grid_count", c.camera.GridCount)
	return nil
}

func imageSize(width, height int) image.Point {
	return image.Pt(width, height)
}
