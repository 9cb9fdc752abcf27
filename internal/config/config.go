// Package config loads and saves the pipeline's human-readable TOML
// configuration file: board geometry, per-camera intrinsics/extrinsics,
// pairwise stereo results, and the capture volume's final summary.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/internal/logging"
)

var (
	camSectionRe    = regexp.MustCompile(`^cam_(\d+)$`)
	stereoSectionRe = regexp.MustCompile(`^stereo_(\d+)_(\d+)$`)
)

// CharucoConfig describes the calibration board geometry and its printed
// presentation, mirroring §6's `charuco` section.
type CharucoConfig struct {
	Columns              int     `toml:"columns"`
	Rows                 int     `toml:"rows"`
	BoardHeight          float64 `toml:"board_height"`
	BoardWidth           float64 `toml:"board_width"`
	Dictionary           int     `toml:"dictionary"`
	Units                string  `toml:"units"`
	ArucoScale           float64 `toml:"aruco_scale"`
	SquareSizeOverrideCM float64 `toml:"square_size_override_cm"`
	Inverted             bool    `toml:"inverted"`
}

// CameraConfig is one camera's persisted intrinsics, extrinsics, and
// bookkeeping, mirroring a `cam_{port}` section.
type CameraConfig struct {
	Port                int           `toml:"port"`
	Size                [2]int        `toml:"size"`
	RotationCount       int           `toml:"rotation_count"`
	Matrix              [3][3]float64 `toml:"matrix"`
	Distortions         [5]float64    `toml:"distortions"`
	Error               float64       `toml:"error"`
	GridCount           int           `toml:"grid_count"`
	Exposure            float64       `toml:"exposure"`
	Ignore              bool          `toml:"ignore"`
	VerifiedResolutions [][2]int      `toml:"verified_resolutions"`
}

// StereoPairConfig is one pairwise stereo calibration result, mirroring a
// `stereo_{a}_{b}` section.
type StereoPairConfig struct {
	A           int           `toml:"-"`
	B           int           `toml:"-"`
	Rotation    [3][3]float64 `toml:"rotation"`
	Translation [3]float64    `toml:"translation"`
	Error       float64       `toml:"error"`
}

// CaptureVolumeConfig is the final optimization summary, mirroring the
// `capture_volume` section.
type CaptureVolumeConfig struct {
	OriginSyncIndex int     `toml:"origin_sync_index"`
	RMSE            float64 `toml:"rmse"`
}

// Config is the full parsed configuration file.
type Config struct {
	Charuco       CharucoConfig
	Cameras       map[int]CameraConfig
	Stereo        map[StereoKey]StereoPairConfig
	CaptureVolume CaptureVolumeConfig
}

// StereoKey identifies one pairwise stereo section by its two ports.
type StereoKey struct{ A, B int }

// Load reads and parses a TOML configuration file. Sections named cam_N and
// stereo_A_B are matched by pattern and collected into maps; unrecognized
// top-level sections are ignored. log may be nil, in which case load-time
// warnings (e.g. the board_width/rows aliasing quirk) are discarded.
func Load(path string, log logging.Logger) (*Config, error) {
	if log == nil {
		log = logging.Noop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config.Load: reading file")
	}

	var raw map[string]toml.Primitive
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, errors.Wrap(err, "config.Load: parsing TOML")
	}

	cfg := &Config{
		Cameras: map[int]CameraConfig{},
		Stereo:  map[StereoKey]StereoPairConfig{},
	}

	for name, prim := range raw {
		switch {
		case name == "charuco":
			if err := md.PrimitiveDecode(prim, &cfg.Charuco); err != nil {
				return nil, errors.Wrapf(err, "config.Load: section %q", name)
			}
			warnBoardWidthRowsAlias(cfg.Charuco, log)
		case name == "capture_volume":
			if err := md.PrimitiveDecode(prim, &cfg.CaptureVolume); err != nil {
				return nil, errors.Wrapf(err, "config.Load: section %q", name)
			}
		case name == "point_estimates":
			// Optional and regenerable; the pipeline re-triangulates rather
			// than round-tripping this section, so it is intentionally
			// skipped.
		case camSectionRe.MatchString(name):
			m := camSectionRe.FindStringSubmatch(name)
			port, _ := strconv.Atoi(m[1])
			var cc CameraConfig
			if err := md.PrimitiveDecode(prim, &cc); err != nil {
				return nil, errors.Wrapf(err, "config.Load: section %q", name)
			}
			cc.Port = port
			cfg.Cameras[port] = cc
		case stereoSectionRe.MatchString(name):
			m := stereoSectionRe.FindStringSubmatch(name)
			a, _ := strconv.Atoi(m[1])
			b, _ := strconv.Atoi(m[2])
			var sc StereoPairConfig
			if err := md.PrimitiveDecode(prim, &sc); err != nil {
				return nil, errors.Wrapf(err, "config.Load: section %q", name)
			}
			sc.A, sc.B = a, b
			cfg.Stereo[StereoKey{A: a, B: b}] = sc
		}
	}

	return cfg, nil
}

// warnBoardWidthRowsAlias flags configuration files produced by source
// sites that wrote board_width = config["charuco"]["rows"] instead of
// config["charuco"]["board_width"]. The field is preserved exactly as
// written, never silently aliased, but a mismatch between BoardWidth and
// Rows is surfaced so a reviewer can tell whether the quirk bit them.
func warnBoardWidthRowsAlias(cc CharucoConfig, log logging.Logger) {
	if cc.Rows == 0 {
		return
	}
	if cc.BoardWidth != float64(cc.Rows) {
		log.Warning("config: board_width does not match rows; some source tools alias the two, confirm board_width is the intended physical value", "board_width", cc.BoardWidth, "rows", cc.Rows)
	}
}

// CameraData converts a CameraConfig section into a camera.Data, leaving
// extrinsics at identity; the array builder or bundle adjuster populates
// them afterward.
func (c CameraConfig) CameraData() *camera.Data {
	d := camera.NewUncalibrated(c.Port, c.Size[0], c.Size[1], c.RotationCount)
	d.Matrix = c.Matrix
	d.Distortions = c.Distortions
	d.Error = c.Error
	d.GridCount = c.GridCount
	d.Ignored = c.Ignore
	return d
}

// Save serializes cfg back to TOML at path, in section order charuco,
// cam_N (ascending port), stereo_A_B (ascending), capture_volume.
func Save(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "config.Save: creating file")
	}
	defer f.Close()

	enc := toml.NewEncoder(f)

	if err := writeSection(f, enc, "charuco", cfg.Charuco); err != nil {
		return err
	}

	ports := make([]int, 0, len(cfg.Cameras))
	for p := range cfg.Cameras {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	for _, p := range ports {
		if err := writeSection(f, enc, fmt.Sprintf("cam_%d", p), cfg.Cameras[p]); err != nil {
			return err
		}
	}

	keys := make([]StereoKey, 0, len(cfg.Stereo))
	for k := range cfg.Stereo {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	for _, k := range keys {
		name := fmt.Sprintf("stereo_%d_%d", k.A, k.B)
		if err := writeSection(f, enc, name, cfg.Stereo[k]); err != nil {
			return err
		}
	}

	return writeSection(f, enc, "capture_volume", cfg.CaptureVolume)
}

func writeSection(f *os.File, enc *toml.Encoder, name string, v interface{}) error {
	if _, err := fmt.Fprintf(f, "[%s]\n", name); err != nil {
		return err
	}
	if err := enc.Encode(v); err != nil {
		return errors.Wrapf(err, "config.Save: section %q", name)
	}
	_, err := fmt.Fprintln(f)
	return err
}
