package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// recordingLogger captures Warning calls so tests can assert on them without
// parsing zap's JSON output.
type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) SetLevel(int8)                                  {}
func (l *recordingLogger) Log(level int8, msg string, kv ...interface{})  {}
func (l *recordingLogger) Debug(msg string, kv ...interface{})            {}
func (l *recordingLogger) Info(msg string, kv ...interface{})             {}
func (l *recordingLogger) Warning(msg string, kv ...interface{}) {
	l.warnings = append(l.warnings, msg)
}
func (l *recordingLogger) Error(msg string, kv ...interface{}) {}

const sampleTOML = `
[charuco]
columns = 8
rows = 6
board_height = 0.6
board_width = 0.8
dictionary = 10
units = "m"
aruco_scale = 0.75
square_size_override_cm = 0.0
inverted = false

[cam_0]
port = 0
size = [1920, 1080]
rotation_count = 0
matrix = [[1000.0, 0.0, 960.0], [0.0, 1000.0, 540.0], [0.0, 0.0, 1.0]]
distortions = [0.01, -0.02, 0.0, 0.0, 0.0]
error = 0.35
grid_count = 42
exposure = 0.0
ignore = false
verified_resolutions = [[1920, 1080]]

[stereo_0_1]
rotation = [[1.0, 0.0, 0.0], [0.0, 1.0, 0.0], [0.0, 0.0, 1.0]]
translation = [0.5, 0.0, 0.0]
error = 0.6

[capture_volume]
origin_sync_index = 0
rmse = 0.42
`

func TestLoadParsesAllSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Charuco.Columns != 8 || cfg.Charuco.Rows != 6 {
		t.Fatalf("charuco section not parsed: %+v", cfg.Charuco)
	}
	cam, ok := cfg.Cameras[0]
	if !ok {
		t.Fatal("expected cam_0 section")
	}
	if cam.GridCount != 42 || cam.Matrix[0][0] != 1000.0 {
		t.Fatalf("cam_0 section not parsed: %+v", cam)
	}

	pair, ok := cfg.Stereo[StereoKey{A: 0, B: 1}]
	if !ok {
		t.Fatal("expected stereo_0_1 section")
	}
	if pair.Translation[0] != 0.5 {
		t.Fatalf("stereo_0_1 section not parsed: %+v", pair)
	}

	if cfg.CaptureVolume.RMSE != 0.42 {
		t.Fatalf("capture_volume section not parsed: %+v", cfg.CaptureVolume)
	}
}

func TestLoadWarnsWhenBoardWidthDisagreesWithRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	log := &recordingLogger{}
	if _, err := Load(path, log); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(log.warnings) == 0 {
		t.Fatal("expected a board_width/rows aliasing warning; sample config has board_width=0.8, rows=6")
	}
}

func TestLoadDoesNotWarnWhenBoardWidthMatchesRows(t *testing.T) {
	const aliasedTOML = `
[charuco]
columns = 8
rows = 6
board_height = 0.6
board_width = 6
dictionary = 10
units = "m"
aruco_scale = 0.75
square_size_override_cm = 0.0
inverted = false
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(aliasedTOML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	log := &recordingLogger{}
	if _, err := Load(path, log); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(log.warnings) != 0 {
		t.Fatalf("expected no warning when board_width already equals rows, got %v", log.warnings)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := &Config{
		Charuco: CharucoConfig{Columns: 5, Rows: 4, Units: "m"},
		Cameras: map[int]CameraConfig{
			2: {Port: 2, Size: [2]int{640, 480}, GridCount: 10},
		},
		Stereo: map[StereoKey]StereoPairConfig{
			{A: 0, B: 2}: {A: 0, B: 2, Error: 0.3, Translation: [3]float64{1, 0, 0}},
		},
		CaptureVolume: CaptureVolumeConfig{OriginSyncIndex: 3, RMSE: 0.11},
	}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(cfg.Charuco, got.Charuco); diff != "" {
		t.Errorf("charuco round trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cfg.Cameras, got.Cameras); diff != "" {
		t.Errorf("cameras round trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cfg.Stereo, got.Stereo); diff != "" {
		t.Errorf("stereo round trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cfg.CaptureVolume, got.CaptureVolume); diff != "" {
		t.Errorf("capture_volume round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCameraDataAppliesIntrinsics(t *testing.T) {
	cc := CameraConfig{
		Port: 4, Size: [2]int{640, 480},
		Matrix:      [3][3]float64{{500, 0, 320}, {0, 500, 240}, {0, 0, 1}},
		Distortions: [5]float64{0.1, 0, 0, 0, 0},
		GridCount:   7,
		Ignore:      true,
	}
	d := cc.CameraData()
	if d.Port != 4 || d.Matrix[0][0] != 500 || !d.Ignored || d.GridCount != 7 {
		t.Fatalf("CameraData did not apply config fields: %+v", d)
	}
}
