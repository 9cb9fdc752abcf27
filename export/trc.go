package export

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/fieldrig/capturevolume/tracker"
	"github.com/fieldrig/capturevolume/triangulate"
)

// WriteTRC writes a .trc motion-capture file: 5 metadata/header lines
// followed by one tab-delimited row per sync_index, Frame# and Time
// followed by X/Y/Z per named landmark in alphabetical order. frameTime
// maps sync_index to its mean frame time across ports, as recorded in the
// frame-time history; sync indices absent from frameTime are skipped.
func WriteTRC(path string, est *triangulate.Estimates, t tracker.Tracker, frameTime map[int]float64) error {
	frames, names := pivotWide(est, t)

	type row struct {
		frame int
		time  float64
		coord map[string][3]float64
	}
	rows := make([]row, 0, len(frames))
	for _, fr := range frames {
		ft, ok := frameTime[fr.SyncIndex]
		if !ok {
			continue
		}
		rows = append(rows, row{frame: fr.SyncIndex, time: ft, coord: fr.Coord})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].time < rows[j].time })

	if len(rows) > 0 {
		minTime := rows[0].time
		for i := range rows {
			rows[i].time -= minTime
		}
	}

	dataRate := 0
	if n := len(rows); n >= 2 {
		var sumRate float64
		var count int
		for i := 1; i < n; i++ {
			dt := rows[i].time - rows[i-1].time
			if dt > 0 {
				sumRate += 1 / dt
				count++
			}
		}
		if count > 0 {
			dataRate = int(math.Round(sumRate / float64(count)))
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	defer w.Flush()

	if err := w.Write([]string{"PathFileType", "4", "(X/Y/Z)", path}); err != nil {
		return err
	}
	if err := w.Write([]string{
		"DataRate", "CameraRate", "NumFrames", "NumMarkers", "Units",
		"OrigDataRate", "OrigDataStartFrame", "OrigNumFrames",
	}); err != nil {
		return err
	}
	numFrames := len(rows)
	if err := w.Write([]string{
		strconv.Itoa(dataRate), strconv.Itoa(dataRate), strconv.Itoa(numFrames),
		strconv.Itoa(len(names)), "m", strconv.Itoa(dataRate), "0", strconv.Itoa(numFrames),
	}); err != nil {
		return err
	}

	header1 := []string{"Frame#", "Time"}
	for _, n := range names {
		header1 = append(header1, n, "", "")
	}
	if err := w.Write(header1); err != nil {
		return err
	}

	header2 := []string{"", ""}
	for i := range names {
		header2 = append(header2,
			"X"+strconv.Itoa(i+1),
			"Y"+strconv.Itoa(i+1),
			"Z"+strconv.Itoa(i+1),
		)
	}
	if err := w.Write(header2); err != nil {
		return err
	}

	if err := w.Write([]string{""}); err != nil {
		return err
	}

	for _, r := range rows {
		out := []string{strconv.Itoa(r.frame), strconv.FormatFloat(r.time, 'f', 3, 64)}
		for _, n := range names {
			xyz, ok := r.coord[n]
			if !ok {
				out = append(out, "0", "0", "0")
				continue
			}
			out = append(out,
				strconv.FormatFloat(xyz[0], 'f', -1, 64),
				strconv.FormatFloat(xyz[1], 'f', -1, 64),
				strconv.FormatFloat(xyz[2], 'f', -1, 64),
			)
		}
		if err := w.Write(out); err != nil {
			return err
		}
	}
	return w.Error()
}
