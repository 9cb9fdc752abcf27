package recording

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/packets"
	"github.com/fieldrig/capturevolume/recordedstream"
	syncpkg "github.com/fieldrig/capturevolume/sync"
)

// defaultFPS is the video writer fallback rate for a port with no fps entry.
const defaultFPS = 30.0

type frameHistoryRow struct {
	port       int
	frameIndex int
	frameTime  float64
}

// Recorder subscribes to a running Synchronizer and writes each port's
// frames to disk as port_{N}.mp4, alongside a frame_time_history.csv
// sidecar giving every written frame's port, frame index and capture time —
// recordedstream.Open's loadFrameTimes is the read-side counterpart that
// consumes exactly this file. Grounded on caliscope's
// recording/video_recorder.py VideoRecorder, which drives the same
// subscribe/write/release loop against its own Synchronizer.
type Recorder struct {
	sync *syncpkg.Synchronizer
	dir  string
	fps  map[int]float64
	log  logging.Logger

	queue chan *packets.SyncPacket
	done  chan struct{}

	mu      sync.Mutex
	writers map[int]*gocv.VideoWriter
	history []frameHistoryRow
}

// NewRecorder builds a Recorder that writes into directory once Start is
// called. fps gives each port's nominal capture rate for its video writer;
// a port missing from fps falls back to defaultFPS. directory is created if
// it doesn't already exist.
func NewRecorder(s *syncpkg.Synchronizer, directory string, fps map[int]float64, log logging.Logger) *Recorder {
	if log == nil {
		log = logging.Noop()
	}
	return &Recorder{
		sync:    s,
		dir:     directory,
		fps:     fps,
		log:     log,
		queue:   make(chan *packets.SyncPacket, 64),
		done:    make(chan struct{}),
		writers: map[int]*gocv.VideoWriter{},
	}
}

// Start subscribes to the synchronizer's SyncPackets and begins writing
// frames in a background goroutine. Stop must eventually be called to
// release video writers and flush the frame history sidecar.
func (r *Recorder) Start() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("recording: creating destination folder: %w", err)
	}
	r.sync.SubscribeToSyncPackets(r.queue)
	go r.run()
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)

	r.log.Info("recording: save worker entered", "dir", r.dir)
	for sp := range r.queue {
		if sp == nil {
			r.log.Info("recording: end of sync packets signaled, winding down")
			break
		}
		for port, fp := range sp.FramePackets {
			if fp == nil || fp.IsEndOfStream() || fp.Frame == nil {
				continue
			}
			w, err := r.writerFor(port, *fp.Frame)
			if err != nil {
				r.log.Warning("recording: building video writer failed", "port", port, "error", err)
				continue
			}
			w.Write(*fp.Frame)

			r.mu.Lock()
			r.history = append(r.history, frameHistoryRow{port: port, frameIndex: fp.FrameIndex, frameTime: fp.FrameTime})
			r.mu.Unlock()
		}
	}

	r.closeWriters()
	if err := r.writeFrameHistory(); err != nil {
		r.log.Warning("recording: writing frame history sidecar failed", "error", err)
	}
}

// writerFor returns the port's video writer, lazily opening it from the
// first frame seen for that port so its size need not be known up front.
func (r *Recorder) writerFor(port int, frame gocv.Mat) (*gocv.VideoWriter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.writers[port]; ok {
		return w, nil
	}

	fps := r.fps[port]
	if fps <= 0 {
		fps = defaultFPS
	}
	path := filepath.Join(r.dir, fmt.Sprintf("port_%d.mp4", port))
	w, err := gocv.VideoWriterFile(path, "mp4v", fps, frame.Cols(), frame.Rows(), true)
	if err != nil {
		return nil, err
	}
	r.log.Info("recording: video writer opened", "port", port, "path", path, "fps", fps)
	r.writers[port] = w
	return w, nil
}

func (r *Recorder) closeWriters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for port, w := range r.writers {
		if err := w.Close(); err != nil {
			r.log.Warning("recording: closing video writer failed", "port", port, "error", err)
		}
	}
}

// Stop unsubscribes from the synchronizer, signals the save worker to
// drain, and waits for video writers to close and the frame history
// sidecar to be written.
func (r *Recorder) Stop() {
	r.sync.ReleaseSyncPacketQueue(r.queue)
	close(r.queue)
	<-r.done
}

// writeFrameHistory writes the frame_time_history.csv sidecar that
// recordedstream.Open reads back to recover each port's true frame cadence.
func (r *Recorder) writeFrameHistory() error {
	path := filepath.Join(r.dir, recordedstream.HistoryFilename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recording: creating %s: %w", recordedstream.HistoryFilename, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"port", "frame_index", "frame_time"}); err != nil {
		return err
	}

	r.mu.Lock()
	rows := r.history
	r.mu.Unlock()

	for _, row := range rows {
		rec := []string{
			strconv.Itoa(row.port),
			strconv.Itoa(row.frameIndex),
			strconv.FormatFloat(row.frameTime, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
