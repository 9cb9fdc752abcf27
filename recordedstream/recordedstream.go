// Package recordedstream replays a previously recorded per-port video file
// through the same FramePacket queue contract a live camera stream would
// use, letting the synchronizer and trackers run identically over archived
// footage. Frame cadence is recovered either from a frame_time_history.csv
// sidecar or, absent one, synthesized from the container's nominal frame
// rate.
package recordedstream

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/packets"
	"github.com/fieldrig/capturevolume/tracker"
)

// HistoryFilename is the sidecar CSV a prior synchronized recording run may
// leave behind, giving the true per-frame capture time for every port.
const HistoryFilename = "frame_time_history.csv"

// videoFilename builds the expected path for a port's recorded video.
func videoFilename(port int) string {
	return fmt.Sprintf("port_%d.mp4", port)
}

// frameTimes is one port's recovered or synthesized frame index -> frame
// time mapping, ordered by frame index.
type frameTimes struct {
	index []int
	time  []float64
}

func (f frameTimes) first() int { return f.index[0] }
func (f frameTimes) last() int  { return f.index[len(f.index)-1] }

// loadFrameTimes reads HistoryFilename if present and returns this port's
// rows, re-ranked to a dense 0-based frame_index by ascending frame_time (as
// the original recording tool does when multiple ports' frame counts
// diverge). If absent, synthesizes a uniform cadence from fps over
// frameCount frames.
func loadFrameTimes(directory string, port int, fps float64, frameCount int) (frameTimes, error) {
	historyPath := filepath.Join(directory, HistoryFilename)
	f, err := os.Open(historyPath)
	if err != nil {
		return synthesizeFrameTimes(fps, frameCount), nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil || len(rows) < 2 {
		return synthesizeFrameTimes(fps, frameCount), nil
	}

	header := rows[0]
	portCol, timeCol := -1, -1
	for i, h := range header {
		switch h {
		case "port":
			portCol = i
		case "frame_time":
			timeCol = i
		}
	}
	if portCol < 0 || timeCol < 0 {
		return synthesizeFrameTimes(fps, frameCount), nil
	}

	var times []float64
	for _, row := range rows[1:] {
		p, err := strconv.Atoi(row[portCol])
		if err != nil || p != port {
			continue
		}
		t, err := strconv.ParseFloat(row[timeCol], 64)
		if err != nil {
			continue
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		return synthesizeFrameTimes(fps, frameCount), nil
	}

	sort.Float64s(times)
	ft := frameTimes{index: make([]int, len(times)), time: times}
	for i := range times {
		ft.index[i] = i
	}
	return ft, nil
}

func synthesizeFrameTimes(fps float64, frameCount int) frameTimes {
	if fps <= 0 {
		fps = 1
	}
	ft := frameTimes{index: make([]int, frameCount), time: make([]float64, frameCount)}
	for i := 0; i < frameCount; i++ {
		ft.index[i] = i
		ft.time[i] = float64(i) / fps
	}
	return ft
}

// Stream reads a port's recorded video file and dispatches FramePackets to
// subscribed queues, waiting before each frame for the next 1/fpsTarget
// milestone of the wall clock, and running point detection inline if a
// Tracker was supplied.
type Stream struct {
	Port          int
	RotationCount int
	BreakOnLast   bool

	directory string
	capture   *gocv.VideoCapture
	tracker   tracker.Tracker
	log       logging.Logger

	originalFPS float64
	fpsTarget   float64
	width       int
	height      int

	history frameTimes

	mu          sync.Mutex
	subscribers []chan packets.FramePacket

	stopCh  chan struct{}
	jumpCh  chan int
	pauseMu sync.Mutex
	paused  bool

	wg sync.WaitGroup
}

// Open opens the recorded video for port under directory and recovers its
// frame cadence. fpsTarget of 0 uses the container's native rate.
func Open(directory string, port int, rotationCount int, fpsTarget float64, t tracker.Tracker, log logging.Logger) (*Stream, error) {
	if log == nil {
		log = logging.Noop()
	}
	path := filepath.Join(directory, videoFilename(port))
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("recordedstream: opening %s: %w", path, err)
	}

	originalFPS := cap.Get(gocv.VideoCaptureFPS)
	if fpsTarget <= 0 {
		fpsTarget = originalFPS
	}
	width := int(cap.Get(gocv.VideoCaptureFrameWidth))
	height := int(cap.Get(gocv.VideoCaptureFrameHeight))
	frameCount := int(cap.Get(gocv.VideoCaptureFrameCount))

	history, err := loadFrameTimes(directory, port, originalFPS, frameCount)
	if err != nil {
		cap.Close()
		return nil, err
	}

	return &Stream{
		Port:          port,
		RotationCount: rotationCount,
		BreakOnLast:   true,
		directory:     directory,
		capture:       cap,
		tracker:       t,
		log:           log,
		originalFPS:   originalFPS,
		fpsTarget:     fpsTarget,
		width:         width,
		height:        height,
		history:       history,
		stopCh:        make(chan struct{}),
		jumpCh:        make(chan int, 1),
	}, nil
}

// Size reports the recorded video's pixel dimensions.
func (s *Stream) Size() (width, height int) { return s.width, s.height }

// LastFrameIndex reports the final frame index this stream's recovered
// history expects to play, for callers that need to know when playback is
// nearing its end (e.g. intrinsic calibration's auto-population backfill).
func (s *Stream) LastFrameIndex() int { return s.history.last() }

// Subscribe registers a queue to receive FramePackets. Not safe to call
// concurrently with itself, but safe alongside the playback goroutine.
func (s *Stream) Subscribe(q chan packets.FramePacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subscribers {
		if existing == q {
			s.log.Warning("recordedstream: duplicate subscribe, ignoring", "port", s.Port)
			return
		}
	}
	s.subscribers = append(s.subscribers, q)
	s.log.Info("recordedstream: subscriber added", "port", s.Port, "count", len(s.subscribers))
}

// Unsubscribe removes a previously subscribed queue.
func (s *Stream) Unsubscribe(q chan packets.FramePacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subscribers {
		if existing == q {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			s.log.Info("recordedstream: subscriber removed", "port", s.Port, "remaining", len(s.subscribers))
			return
		}
	}
}

func (s *Stream) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Stream) broadcast(fp packets.FramePacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.subscribers {
		q <- fp
	}
}

// JumpTo requests that playback resume from frameIndex the next time the
// play loop checks for a pending jump.
func (s *Stream) JumpTo(frameIndex int) {
	select {
	case s.jumpCh <- frameIndex:
	default:
		<-s.jumpCh
		s.jumpCh <- frameIndex
	}
}

// Pause halts frame emission without tearing down the play loop.
func (s *Stream) Pause() {
	s.pauseMu.Lock()
	s.paused = true
	s.pauseMu.Unlock()
}

// Unpause resumes frame emission.
func (s *Stream) Unpause() {
	s.pauseMu.Lock()
	s.paused = false
	s.pauseMu.Unlock()
}

func (s *Stream) isPaused() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return s.paused
}

// Play starts the background playback goroutine. Stop must eventually be
// called to release it.
func (s *Stream) Play() {
	s.wg.Add(1)
	go s.playLoop()
}

// Stop signals the playback goroutine to exit and waits for it to finish.
func (s *Stream) Stop() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.capture.Close()
}

func (s *Stream) playLoop() {
	defer s.wg.Done()

	frameIndex := s.history.first()
	s.log.Info("recordedstream: playback starting", "port", s.Port, "start_index", frameIndex)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		for s.subscriberCount() == 0 {
			select {
			case <-s.stopCh:
				return
			case <-time.After(500 * time.Millisecond):
			}
		}

		if s.fpsTarget > 0 {
			if period := time.Duration(float64(time.Second) / s.fpsTarget); period > 0 {
				wait := period - time.Duration(time.Now().UnixNano())%period
				select {
				case <-s.stopCh:
					return
				case <-time.After(wait):
				}
			}
		}

		frameTime := s.frameTimeFor(frameIndex)

		frame := gocv.NewMat()
		ok := s.capture.Read(&frame)
		if !ok {
			frame.Close()
			break
		}

		var pts *packets.PointPacket
		if s.tracker != nil {
			p := s.tracker.Detect(frame, s.Port, s.RotationCount)
			pts = &p
		}

		fp := packets.FramePacket{
			Port:       s.Port,
			FrameIndex: frameIndex,
			FrameTime:  frameTime,
			Frame:      &frame,
			Points:     pts,
		}
		s.broadcast(fp)

		frameIndex++
		if frameIndex > s.history.last() {
			if s.BreakOnLast {
				s.log.Info("recordedstream: end of recording reached", "port", s.Port)
				s.broadcast(packets.EndOfStreamPacket(s.Port))
				return
			}
			frameIndex = s.history.last()
			s.Pause()
		}

		for s.isPaused() {
			select {
			case <-s.stopCh:
				return
			case idx := <-s.jumpCh:
				frameIndex = idx
				s.capture.Set(gocv.VideoCapturePosFrames, float64(frameIndex))
				s.Unpause()
			case <-time.After(100 * time.Millisecond):
			}
		}

		select {
		case idx := <-s.jumpCh:
			frameIndex = idx
			s.capture.Set(gocv.VideoCapturePosFrames, float64(frameIndex))
		default:
		}
	}
}

// frameTimeFor looks up the recovered frame time for a frame index, falling
// back to a synthesized estimate if the index runs past recorded history.
func (s *Stream) frameTimeFor(frameIndex int) float64 {
	for i, idx := range s.history.index {
		if idx == frameIndex {
			return s.history.time[i]
		}
	}
	if s.originalFPS <= 0 {
		return float64(frameIndex)
	}
	return float64(frameIndex) / s.originalFPS
}
