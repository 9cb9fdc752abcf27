package recording

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fieldrig/capturevolume/recordedstream"
	syncpkg "github.com/fieldrig/capturevolume/sync"
)

func TestWriteFrameHistoryProducesReadableSidecar(t *testing.T) {
	dir := t.TempDir()
	r := &Recorder{
		dir: dir,
		history: []frameHistoryRow{
			{port: 0, frameIndex: 0, frameTime: 0.0},
			{port: 0, frameIndex: 1, frameTime: 0.04},
			{port: 1, frameIndex: 0, frameTime: 0.01},
		},
	}

	if err := r.writeFrameHistory(); err != nil {
		t.Fatalf("writeFrameHistory: %v", err)
	}

	path := filepath.Join(dir, recordedstream.HistoryFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty frame_time_history.csv")
	}
}

func TestStartCreatesDestinationFolderAndStopDrains(t *testing.T) {
	base := t.TempDir()
	dest := filepath.Join(base, "session_1", "recordings")

	s := syncpkg.New(map[int]syncpkg.Stream{}, nil)
	r := NewRecorder(s, dest, nil, nil)

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info, err := os.Stat(dest); err != nil || !info.IsDir() {
		t.Fatalf("expected destination folder to exist: %v", err)
	}

	r.Stop()

	if _, err := os.Stat(filepath.Join(dest, recordedstream.HistoryFilename)); err != nil {
		t.Fatalf("expected frame history sidecar after Stop: %v", err)
	}
}
