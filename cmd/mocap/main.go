// Command mocap runs the full offline motion-capture pipeline over a
// directory of per-port recordings: intrinsic calibration, pairwise stereo,
// array assembly, triangulation, bundle adjustment, quality filtering, and
// export.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fieldrig/capturevolume/board"
	"github.com/fieldrig/capturevolume/calibrate/array"
	"github.com/fieldrig/capturevolume/calibrate/intrinsic"
	"github.com/fieldrig/capturevolume/calibrate/stereo"
	"github.com/fieldrig/capturevolume/camera"
	"github.com/fieldrig/capturevolume/capturevolume"
	"github.com/fieldrig/capturevolume/export"
	"github.com/fieldrig/capturevolume/internal/config"
	"github.com/fieldrig/capturevolume/internal/logging"
	"github.com/fieldrig/capturevolume/packets"
	"github.com/fieldrig/capturevolume/quality"
	"github.com/fieldrig/capturevolume/recordedstream"
	"github.com/fieldrig/capturevolume/recording"
	syncpkg "github.com/fieldrig/capturevolume/sync"
	"github.com/fieldrig/capturevolume/tracker"
	"github.com/fieldrig/capturevolume/triangulate"
)

// Logging configuration.
const (
	logMaxSizeMB  = 100
	logMaxBackup  = 5
	logMaxAgeDays = 28
)

// Auto-population tuning for intrinsic calibration, per camera.
const (
	autoPopWaitBetween  = 8
	autoPopCornerThresh = 12
	autoPopTargetGrid   = 60
)

// Bundle adjustment defaults.
const (
	defaultMaxIterations     = 100
	defaultFunctionTolerance = 1e-8
)

func main() {
	dir := flag.String("dir", "", "directory holding port_{N}.mp4 recordings and frame_time_history.csv")
	configPath := flag.String("config", "", "path to the TOML configuration file (read and rewritten)")
	outDir := flag.String("out", "", "directory to write exported xy/xyz/trc artifacts (defaults to -dir)")
	fpsTarget := flag.Float64("fps", 0, "target synchronized frame rate; 0 uses the recordings' native rate")
	logPath := flag.String("log", "mocap.log", "log file path")
	qualityPercentile := flag.Float64("quality-percentile", 95, "residual percentile above which observations are dropped in the quality pass")
	waitForPorts := flag.Bool("wait", false, "wait for all configured ports' video files to appear before starting")
	flag.Parse()

	if *dir == "" || *configPath == "" {
		fmt.Fprintln(os.Stderr, "mocap: -dir and -config are required")
		os.Exit(2)
	}
	if *outDir == "" {
		*outDir = *dir
	}

	fileLog := &lumberjack.Logger{
		Filename:   *logPath,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAgeDays,
	}
	log := logging.New(logging.Info, io.MultiWriter(fileLog, os.Stdout), false)
	runID := uuid.NewString()
	log.Info("starting mocap", "run_id", runID, "dir", *dir, "config", *configPath)

	cfg, err := config.Load(*configPath, log)
	if err != nil {
		fatal(log, "loading configuration", "error", err)
	}

	ports := sortedCameraPorts(cfg)
	if len(ports) == 0 {
		fatal(log, "configuration has no cam_N sections")
	}

	if *waitForPorts {
		if err := waitForRecordings(*dir, ports, log); err != nil {
			fatal(log, "waiting for recordings", "error", err)
		}
	}

	spec, err := board.New(
		cfg.Charuco.Columns, cfg.Charuco.Rows,
		boardSquareLength(cfg.Charuco),
		cfg.Charuco.Dictionary, cfg.Charuco.ArucoScale, cfg.Charuco.Inverted,
	)
	if err != nil {
		fatal(log, "building board spec", "error", err)
	}
	trk := tracker.NewCharucoTracker(spec, log)
	defer func() {
		if err := trk.Close(); err != nil {
			log.Warning("closing tracker", "error", err)
		}
	}()

	cameras := make(map[int]*camera.Data, len(ports))
	for _, p := range ports {
		cameras[p] = cfg.Cameras[p].CameraData()
	}

	streams, synchronizer, err := openStreams(*dir, ports, cameras, *fpsTarget, trk, log)
	if err != nil {
		fatal(log, "opening recorded streams", "error", err)
	}

	intrinsicCalibrators := make(map[int]*intrinsic.Calibrator, len(ports))
	for _, p := range ports {
		if cameras[p].Ignored {
			continue
		}
		c := intrinsic.New(cameras[p], streams[p].LastFrameIndex(), log)
		if !cameras[p].Calibrated() {
			c.InitiateAutoPop(autoPopWaitBetween, autoPopCornerThresh, autoPopTargetGrid)
		}
		intrinsicCalibrators[p] = c
	}

	pairwise := map[stereo.Pair]*stereo.PairwiseCalibrator{}
	for _, pair := range stereo.Pairs(ports) {
		pairwise[pair] = stereo.NewPairwiseCalibrator(cameras[pair.A], cameras[pair.B], log)
	}

	queue := make(chan *packets.SyncPacket, 8)
	synchronizer.SubscribeToSyncPackets(queue)

	for _, s := range streams {
		s.Play()
	}
	synchronizer.Start()

	var history []*packets.SyncPacket
	frameTime := map[int]float64{}
	for sp := range queue {
		if sp == nil {
			break
		}
		history = append(history, sp)
		frameTime[sp.SyncIndex] = meanFrameTime(sp)

		for port, fp := range sp.FramePackets {
			if fp == nil {
				continue
			}
			if c, ok := intrinsicCalibrators[port]; ok {
				c.AddFramePacket(*fp)
			}
		}
		for _, pc := range pairwise {
			pc.AddSyncPacket(sp)
		}
	}
	synchronizer.Stop()
	var stopErr error
	for _, s := range streams {
		stopErr = multierr.Append(stopErr, s.Stop())
	}
	if stopErr != nil {
		log.Warning("error closing recorded streams", "error", stopErr)
	}
	log.Info("synchronized stream ended", "sync_packets", len(history))

	for p, c := range intrinsicCalibrators {
		if cameras[p].Calibrated() {
			continue
		}
		if err := c.CalibrateCamera(); err != nil {
			log.Warning("intrinsic calibration failed, camera marked ignored", "port", p, "error", err)
			cameras[p].Ignored = true
		}
	}

	var edges []array.Edge
	stereoResults := map[config.StereoKey]config.StereoPairConfig{}
	for pair, pc := range pairwise {
		if !pc.Ready() {
			log.Warning("stereo pair never accumulated enough frames, skipping", "a", pair.A, "b", pair.B)
			continue
		}
		pose, err := pc.Calibrate()
		if err != nil {
			log.Warning("stereo pair calibration failed", "a", pair.A, "b", pair.B, "error", err)
			continue
		}
		log.Info("stereo pair calibrated", "a", pair.A, "b", pair.B, "rmse", pose.RMSE, "grid_count", pose.GridCount)
		edges = append(edges, array.Edge{A: pair.A, B: pair.B, Rotation: pose.Rotation, Translation: pose.Translation, RMSE: pose.RMSE})
		stereoResults[config.StereoKey{A: pair.A, B: pair.B}] = config.StereoPairConfig{
			A: pair.A, B: pair.B, Rotation: pose.Rotation, Translation: pose.Translation, Error: pose.RMSE,
		}
	}

	arr, err := array.NewBuilder(cameras, edges).Build()
	if err != nil {
		fatal(log, "building camera array", "error", err)
	}
	log.Info("camera array assembled", "anchor", arr.Anchor, "ports", arr.Ports())

	builder := triangulate.NewBuilder(arr, log)
	for _, sp := range history {
		builder.AddSyncPacket(sp)
	}
	estimates := builder.Finish()
	log.Info("triangulated point estimates", "observations", estimates.NImgPoints(), "object_points", estimates.NObjPoints())

	cv := capturevolume.New(arr, estimates, log)
	rmseBefore, rmseAfter, err := cv.Optimize(defaultMaxIterations, defaultFunctionTolerance)
	if err != nil {
		log.Warning("bundle adjustment did not fully converge", "error", err)
	}
	log.Info("bundle adjustment complete", "rmse_before", rmseBefore, "rmse_after", rmseAfter)

	qc := quality.New(cv, log)
	scanReports := quality.Scan(cv, []float64{90, 95, 99}, defaultMaxIterations, defaultFunctionTolerance, log)
	for _, r := range scanReports {
		log.Info("quality scan", "percentile", r.Percentile, "rmse_after", r.RMSEAfterReopt, "points_out", r.PointsOut)
	}
	report, err := qc.FilterByPercentile(*qualityPercentile, defaultMaxIterations, defaultFunctionTolerance)
	if err != nil {
		log.Warning("quality filtering failed, using unfiltered estimates", "error", err)
	} else {
		log.Info("quality filter applied", "percentile", report.Percentile, "observations_out", report.ObservationsOut, "rmse_after", report.RMSEAfterReopt)
		cv = qc.CaptureVolume()
		estimates = cv.Estimates
	}

	if err := quality.WriteResidualHistogram(*outDir+"/residual_histogram.png", cv.ResidualMagnitudes(), 40); err != nil {
		log.Warning("writing residual histogram", "error", err)
	}

	for _, d := range quality.CheckBoardDistances(estimates, spec) {
		if delta := d.Delta(); delta > spec.SquareEdgeLength*0.1 {
			log.Warning("board distance check exceeded tolerance", "sync_index", d.SyncIndex, "corner_a", d.CornerA, "corner_b", d.CornerB, "delta", delta)
		}
	}

	if err := writeExports(*outDir, history, estimates, trk, frameTime); err != nil {
		log.Error("writing export artifacts", "error", err)
	}

	if err := saveConfig(*configPath, cfg, cameras, stereoResults, rmseAfter); err != nil {
		log.Error("saving configuration", "error", err)
	}

	log.Info("mocap pipeline finished")
}

// fatal logs msg at error level and exits, since Logger has no built-in
// fatal level.
func fatal(log logging.Logger, msg string, kv ...interface{}) {
	log.Error(msg, kv...)
	os.Exit(1)
}

func sortedCameraPorts(cfg *config.Config) []int {
	ports := make([]int, 0, len(cfg.Cameras))
	for p := range cfg.Cameras {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

func boardSquareLength(cc config.CharucoConfig) float64 {
	if cc.SquareSizeOverrideCM > 0 {
		return cc.SquareSizeOverrideCM / 100
	}
	return cc.BoardWidth / float64(cc.Columns)
}

func waitForRecordings(dir string, ports []int, log logging.Logger) error {
	w, err := recording.New(dir, log)
	if err != nil {
		return err
	}
	defer w.Stop()

	remaining := map[int]bool{}
	for _, p := range ports {
		remaining[p] = true
	}
	for len(remaining) > 0 {
		port, ok := <-w.Arrived
		if !ok {
			break
		}
		delete(remaining, port)
		log.Info("recording: port arrived", "port", port, "remaining", len(remaining))
	}
	return nil
}

func openStreams(dir string, ports []int, cameras map[int]*camera.Data, fpsTarget float64, trk tracker.Tracker, log logging.Logger) (map[int]*recordedstream.Stream, *syncpkg.Synchronizer, error) {
	streams := make(map[int]*recordedstream.Stream, len(ports))
	syncStreams := make(map[int]syncpkg.Stream, len(ports))
	for _, p := range ports {
		s, err := recordedstream.Open(dir, p, cameras[p].RotationCount, fpsTarget, trk, log)
		if err != nil {
			return nil, nil, fmt.Errorf("mocap: opening stream for port %d: %w", p, err)
		}
		width, height := s.Size()
		cameras[p].Width, cameras[p].Height = width, height
		streams[p] = s
		syncStreams[p] = s
	}
	return streams, syncpkg.New(syncStreams, log), nil
}

func meanFrameTime(sp *packets.SyncPacket) float64 {
	var sum float64
	var n int
	for _, fp := range sp.FramePackets {
		if fp == nil {
			continue
		}
		sum += fp.FrameTime
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func writeExports(outDir string, history []*packets.SyncPacket, est *triangulate.Estimates, trk tracker.Tracker, frameTime map[int]float64) error {
	if err := export.WriteXYCSV(outDir+"/xy_charuco.csv", history); err != nil {
		return err
	}
	if err := export.WriteXYZCSV(outDir+"/xyz_charuco.csv", est); err != nil {
		return err
	}
	if err := export.WriteXYZLabelledCSV(outDir+"/xyz_charuco_labelled.csv", est, trk); err != nil {
		return err
	}
	return export.WriteTRC(outDir+"/xyz_charuco.trc", est, trk, frameTime)
}

func saveConfig(path string, cfg *config.Config, cameras map[int]*camera.Data, stereoResults map[config.StereoKey]config.StereoPairConfig, finalRMSE float64) error {
	for p, d := range cameras {
		cc := cfg.Cameras[p]
		cc.Matrix = d.Matrix
		cc.Distortions = d.Distortions
		cc.Error = d.Error
		cc.GridCount = d.GridCount
		cc.Ignore = d.Ignored
		cfg.Cameras[p] = cc
	}
	cfg.Stereo = stereoResults
	cfg.CaptureVolume = config.CaptureVolumeConfig{OriginSyncIndex: 0, RMSE: finalRMSE}
	return config.Save(path, cfg)
}
