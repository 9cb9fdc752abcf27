// Package packets defines the data packets that flow between streams, the
// synchronizer, and the trackers: PointPacket, FramePacket, and SyncPacket,
// per the data model. These are value-like and safe to share across
// goroutine boundaries once constructed; nothing here mutates in place.
package packets

import (
	"sort"

	"gocv.io/x/gocv"
)

// EndOfStream is the sentinel frame_time value signaling the end of a
// stream. A FramePacket with this frame time carries no image data.
const EndOfStream = -1.0

// PointPacket is produced by a Tracker per frame. ObjLoc is nil for
// trackers that don't have an object-frame correspondence (e.g. anatomical
// keypoint trackers); when present it has the same leading dimension as
// PointID and ImgLoc.
type PointPacket struct {
	PointID []int
	ImgLoc  [][2]float64
	ObjLoc  [][3]float64 // nil if not applicable
}

// Len returns the number of points in the packet.
func (p PointPacket) Len() int { return len(p.PointID) }

// Empty reports whether the packet carries no points.
func (p PointPacket) Empty() bool { return len(p.PointID) == 0 }

// Validate checks the PointPacket invariant that all arrays share a
// leading dimension.
func (p PointPacket) Validate() error {
	n := len(p.PointID)
	if len(p.ImgLoc) != n {
		return lenMismatchError{"ImgLoc", len(p.ImgLoc), n}
	}
	if p.ObjLoc != nil && len(p.ObjLoc) != n {
		return lenMismatchError{"ObjLoc", len(p.ObjLoc), n}
	}
	return nil
}

type lenMismatchError struct {
	field string
	got   int
	want  int
}

func (e lenMismatchError) Error() string {
	return "packets: PointPacket field " + e.field + " length mismatch"
}

// FramePacket is produced by a stream for a given port once per decoded
// frame. A FramePacket with FrameTime == EndOfStream is the end-of-stream
// sentinel; its Frame and Points fields are unused.
type FramePacket struct {
	Port       int
	FrameIndex int
	FrameTime  float64 // seconds, monotonic within a port
	Frame      *gocv.Mat
	Points     *PointPacket // optional
}

// IsEndOfStream reports whether this packet is the end-of-stream sentinel.
func (f FramePacket) IsEndOfStream() bool { return f.FrameTime == EndOfStream }

// EndOfStreamPacket builds the sentinel packet for a given port.
func EndOfStreamPacket(port int) FramePacket {
	return FramePacket{Port: port, FrameTime: EndOfStream}
}

// SyncPacket groups the best-aligned frame across every port at one
// synchronized instant. FramePackets maps port -> packet; a nil value
// means the frame for that port was dropped at this sync index.
type SyncPacket struct {
	SyncIndex    int
	FramePackets map[int]*FramePacket
}

// Ports returns the sorted list of ports present as keys in FramePackets,
// regardless of whether their value is nil.
func (s SyncPacket) Ports() []int {
	ports := make([]int, 0, len(s.FramePackets))
	for p := range s.FramePackets {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// FrameCount returns the number of non-nil frame packets in this SyncPacket.
func (s SyncPacket) FrameCount() int {
	n := 0
	for _, fp := range s.FramePackets {
		if fp != nil {
			n++
		}
	}
	return n
}
