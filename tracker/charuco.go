package tracker

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/fieldrig/capturevolume/board"
	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/packets"
)

// minMarkersForInterpolation is the minimum number of detected ArUco
// markers required before attempting Charuco corner interpolation, per the
// Tracker trait contract in §4.2.
const minMarkersForInterpolation = 4

// subPixWindow and subPixCriteria mirror the teacher's sub-pixel
// refinement window and stop criteria, preserved from the original
// corner_tracker.py: an 11x11 window, epsilon 0.001, max 30 iterations.
var (
	subPixWindow   = image.Pt(11, 11)
	subPixZeroZone = image.Pt(-1, -1)
)

// CharucoTracker detects Charuco board corners in a frame: it converts to
// grayscale, detects embedded ArUco markers, interpolates to board corner
// positions, and refines with an iterative sub-pixel window. Detection is
// deterministic and fails silently (an empty PointPacket) rather than
// raising, per the Tracker contract.
type CharucoTracker struct {
	spec     *board.Spec
	log      logging.Logger
	detector gocv.ArucoDetector
	cbd      gocv.CharucoBoard
	dict     gocv.ArucoDictionary

	subPixCriteria gocv.TermCriteria
}

// NewCharucoTracker builds a tracker bound to the given board geometry.
// The dictionary and board are constructed once and reused across frames.
func NewCharucoTracker(spec *board.Spec, log logging.Logger) *CharucoTracker {
	if log == nil {
		log = logging.Noop()
	}
	dict := gocv.GetPredefinedDictionary(gocv.ArucoDictionaryCode(spec.MarkerDictionaryID))
	params := gocv.NewArucoDetectorParameters()
	detector := gocv.NewArucoDetectorWithParams(dict, params)

	cbd := gocv.NewCharucoBoard(
		image.Pt(spec.Columns, spec.Rows),
		float32(spec.SquareEdgeLength),
		float32(spec.MarkerEdgeLength()),
		dict,
	)

	return &CharucoTracker{
		spec:           spec,
		log:            log,
		detector:       detector,
		cbd:            cbd,
		dict:           dict,
		subPixCriteria: gocv.NewTermCriteria(gocv.Count+gocv.EPS, 30, 0.001),
	}
}

// Name identifies this tracker for artifact filenames.
func (t *CharucoTracker) Name() string { return "charuco" }

// ConnectedPoints delegates to the board's known grid adjacency.
func (t *CharucoTracker) ConnectedPoints() map[CornerPair]struct{} {
	boardPairs := t.spec.ConnectedCorners()
	out := make(map[CornerPair]struct{}, len(boardPairs))
	for p := range boardPairs {
		out[CornerPair{A: p.A, B: p.B}] = struct{}{}
	}
	return out
}

// PointName labels each corner by its interpolated grid id; Charuco corners
// have no more descriptive identity than their position in the board grid.
func (t *CharucoTracker) PointName(pointID int) string {
	return fmt.Sprintf("corner_%d", pointID)
}

// DrawInstructions gives every Charuco corner the same small green dot;
// there's no semantic distinction between corner ids for rendering.
func (t *CharucoTracker) DrawInstructions(pointID int) DrawInstructions {
	return DrawInstructions{Radius: 5, Color: color.RGBA{G: 255, A: 255}, Thickness: 2}
}

// Detect runs the detect-or-flip-and-retry Charuco contract described in
// §4.2: convert to grayscale (inverting if the board is printed inverted),
// attempt marker detection; if fewer than minMarkersForInterpolation
// markers are found, flip horizontally and retry, undoing the flip on any
// returned pixel coordinates. On success, interpolate corners and refine
// with a sub-pixel pass, then attach object-frame coordinates looked up by
// id. Never errors; returns an empty PointPacket on failure.
func (t *CharucoTracker) Detect(frame gocv.Mat, port, rotationCount int) packets.PointPacket {
	if frame.Empty() {
		return packets.PointPacket{}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	if t.spec.Inverted {
		inverted := gocv.NewMat()
		gocv.BitwiseNot(gray, &inverted)
		gray.Close()
		gray = inverted
	}

	ids, imgLoc, ok := t.findCorners(gray, false)
	if !ok {
		flipped := gocv.NewMat()
		gocv.Flip(gray, &flipped, 1)
		ids, imgLoc, ok = t.findCorners(flipped, true)
		flipped.Close()
		if !ok {
			return packets.PointPacket{}
		}
		width := float64(frame.Cols())
		for i := range imgLoc {
			imgLoc[i][0] = width - imgLoc[i][0]
		}
	}

	keptIDs := ids[:0]
	keptImg := imgLoc[:0]
	objLoc := make([][3]float64, 0, len(ids))
	for i, id := range ids {
		x, y, z, err := t.spec.ObjectCorner(id)
		if err != nil {
			t.log.Warning("charuco: corner id out of range, dropping", "id", id, "port", port)
			continue
		}
		keptIDs = append(keptIDs, id)
		keptImg = append(keptImg, imgLoc[i])
		objLoc = append(objLoc, [3]float64{x, y, z})
	}

	return packets.PointPacket{PointID: keptIDs, ImgLoc: keptImg, ObjLoc: objLoc}
}

// findCorners detects ArUco markers in the given (possibly mirrored) gray
// image and, if enough were found, interpolates and sub-pixel-refines
// Charuco corners. mirrored is only used for logging context.
func (t *CharucoTracker) findCorners(gray gocv.Mat, mirrored bool) (ids []int, imgLoc [][2]float64, ok bool) {
	markerCorners, markerIDs, _ := t.detector.DetectMarkers(gray)
	if len(markerCorners) < minMarkersForInterpolation {
		return nil, nil, false
	}

	charucoCorners := gocv.NewMat()
	defer charucoCorners.Close()
	charucoIDs := gocv.NewMat()
	defer charucoIDs.Close()

	count := gocv.InterpolateCornersCharuco(markerCorners, markerIDs, gray, t.cbd, &charucoCorners, &charucoIDs)
	if count <= 0 {
		return nil, nil, false
	}

	// Sub-pixel refinement is a best-effort improvement; failure here
	// falls back to the interpolated locations rather than discarding
	// the detection, matching the teacher python's try/except around
	// cv2.cornerSubPix.
	func() {
		defer func() { recover() }()
		gocv.CornerSubPix(gray, &charucoCorners, subPixWindow, subPixZeroZone, t.subPixCriteria)
	}()

	n := charucoCorners.Rows()
	ids = make([]int, n)
	imgLoc = make([][2]float64, n)
	for i := 0; i < n; i++ {
		ids[i] = int(charucoIDs.GetIntAt(i, 0))
		v := charucoCorners.GetVecfAt(i, 0)
		imgLoc[i] = [2]float64{float64(v[0]), float64(v[1])}
	}
	return ids, imgLoc, true
}

// Close releases the OpenCV resources backing the detector and board.
func (t *CharucoTracker) Close() error {
	t.detector.Close()
	t.cbd.Close()
	t.dict.Close()
	return nil
}
