// Package tracker defines the polymorphic point-detection contract wrapping
// Charuco board detection and other per-frame landmark trackers.
package tracker

import (
	"image/color"

	"gocv.io/x/gocv"

	"github.com/fieldrig/capturevolume/packets"
)

// DrawInstructions describes how a detected point should be rendered by a
// GUI collaborator: radius/color/thickness for the given point id. Point
// ids may carry different instructions (e.g. distinguishing left/right
// hand keypoints).
type DrawInstructions struct {
	Radius    int
	Color     color.RGBA
	Thickness int
}

// CornerPair is an unordered pair of connected point ids, used only for
// overlay rendering.
type CornerPair struct {
	A, B int
}

// Tracker extracts per-frame point observations from an image. Any
// implementation must be deterministic given an identical
// (frame, port, rotationCount) input: same pixels in, same points out.
type Tracker interface {
	// Detect runs point detection on frame captured at port, after the
	// frame has already been rotated rotationCount quarter-turns by the
	// caller. It never returns an error for "nothing found" — an empty
	// PointPacket is the contract for detection failure.
	Detect(frame gocv.Mat, port, rotationCount int) packets.PointPacket

	// Name identifies the tracker, used as a suffix in exported artifact
	// filenames (xy_{name}.csv, etc).
	Name() string

	// ConnectedPoints returns the set of point id pairs that should be
	// drawn as connected overlay lines. Empty if not applicable.
	ConnectedPoints() map[CornerPair]struct{}

	// DrawInstructions reports how to render the given point id.
	DrawInstructions(pointID int) DrawInstructions

	// PointName returns the human-readable landmark name for pointID, used
	// as a column label in wide-format export artifacts.
	PointName(pointID int) string
}
