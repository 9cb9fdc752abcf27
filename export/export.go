// Package export writes the tabular artifacts a finished calibration or
// tracking run produces: raw per-camera 2D observations, long- and
// wide-form triangulated 3D points, and a motion-capture .trc file.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/fieldrig/capturevolume/packets"
	"github.com/fieldrig/capturevolume/tracker"
	"github.com/fieldrig/capturevolume/triangulate"
)

// WriteXYCSV writes one row per 2D point observation across every
// synchronized frame: sync_index, port, frame_index, frame_time, point_id,
// img_loc_x, img_loc_y, obj_loc_x, obj_loc_y. obj_loc columns are left
// blank for trackers that carry no object-frame correspondence.
func WriteXYCSV(path string, syncPackets []*packets.SyncPacket) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{
		"sync_index", "port", "frame_index", "frame_time", "point_id",
		"img_loc_x", "img_loc_y", "obj_loc_x", "obj_loc_y",
	}); err != nil {
		return err
	}

	for _, sp := range syncPackets {
		for _, port := range sp.Ports() {
			fp := sp.FramePackets[port]
			if fp == nil || fp.Points == nil {
				continue
			}
			for i, id := range fp.Points.PointID {
				row := []string{
					strconv.Itoa(sp.SyncIndex),
					strconv.Itoa(port),
					strconv.Itoa(fp.FrameIndex),
					strconv.FormatFloat(fp.FrameTime, 'f', -1, 64),
					strconv.Itoa(id),
					strconv.FormatFloat(fp.Points.ImgLoc[i][0], 'f', -1, 64),
					strconv.FormatFloat(fp.Points.ImgLoc[i][1], 'f', -1, 64),
					"", "",
				}
				if fp.Points.ObjLoc != nil {
					row[7] = strconv.FormatFloat(fp.Points.ObjLoc[i][0], 'f', -1, 64)
					row[8] = strconv.FormatFloat(fp.Points.ObjLoc[i][1], 'f', -1, 64)
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
	}
	return w.Error()
}

// xyzRow is one long-format triangulated point: the sync index and
// landmark id it belongs to, and its 3D position.
type xyzRow struct {
	SyncIndex int
	PointID   int
	X, Y, Z   float64
}

// xyzRows derives one row per Estimates.Obj entry. Every Obj entry is
// referenced by at least 2 observations (triangulate.Builder's pruning
// invariant) sharing a common sync_index, which is recovered from the
// first referencing observation.
func xyzRows(est *triangulate.Estimates) []xyzRow {
	syncByObj := make([]int, len(est.Obj))
	seen := make([]bool, len(est.Obj))
	for i, objIdx := range est.ObjIndices {
		if !seen[objIdx] {
			syncByObj[objIdx] = est.SyncIndices[i]
			seen[objIdx] = true
		}
	}

	rows := make([]xyzRow, 0, len(est.Obj))
	for j, p := range est.Obj {
		if !seen[j] {
			continue
		}
		rows = append(rows, xyzRow{
			SyncIndex: syncByObj[j],
			PointID:   est.ObjPointID[j],
			X:         p[0], Y: p[1], Z: p[2],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SyncIndex != rows[j].SyncIndex {
			return rows[i].SyncIndex < rows[j].SyncIndex
		}
		return rows[i].PointID < rows[j].PointID
	})
	return rows
}

// WriteXYZCSV writes the long-format triangulated point table: sync_index,
// point_id, x_coord, y_coord, z_coord.
func WriteXYZCSV(path string, est *triangulate.Estimates) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"sync_index", "point_id", "x_coord", "y_coord", "z_coord"}); err != nil {
		return err
	}
	for _, r := range xyzRows(est) {
		if err := w.Write([]string{
			strconv.Itoa(r.SyncIndex),
			strconv.Itoa(r.PointID),
			strconv.FormatFloat(r.X, 'f', -1, 64),
			strconv.FormatFloat(r.Y, 'f', -1, 64),
			strconv.FormatFloat(r.Z, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	return w.Error()
}

// wideFrame is one sync_index's worth of named-landmark 3D positions,
// pivoted from the long-format rows.
type wideFrame struct {
	SyncIndex int
	Coord     map[string][3]float64 // point name -> (x, y, z)
}

func pivotWide(est *triangulate.Estimates, t tracker.Tracker) ([]wideFrame, []string) {
	bySync := map[int]map[string][3]float64{}
	names := map[string]struct{}{}
	for _, r := range xyzRows(est) {
		name := t.PointName(r.PointID)
		names[name] = struct{}{}
		if bySync[r.SyncIndex] == nil {
			bySync[r.SyncIndex] = map[string][3]float64{}
		}
		bySync[r.SyncIndex][name] = [3]float64{r.X, r.Y, r.Z}
	}

	syncIndices := make([]int, 0, len(bySync))
	for s := range bySync {
		syncIndices = append(syncIndices, s)
	}
	sort.Ints(syncIndices)

	frames := make([]wideFrame, len(syncIndices))
	for i, s := range syncIndices {
		frames[i] = wideFrame{SyncIndex: s, Coord: bySync[s]}
	}

	sortedNames := make([]string, 0, len(names))
	for n := range names {
		sortedNames = append(sortedNames, n)
	}
	sort.Strings(sortedNames)

	return frames, sortedNames
}

// WriteXYZLabelledCSV writes the wide-form table: one row per sync_index,
// three columns ({name}_x, {name}_y, {name}_z) per named landmark, sorted
// alphabetically by landmark name.
func WriteXYZLabelledCSV(path string, est *triangulate.Estimates, t tracker.Tracker) error {
	frames, names := pivotWide(est, t)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"sync_index"}
	for _, n := range names {
		header = append(header, n+"_x", n+"_y", n+"_z")
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, fr := range frames {
		row := []string{strconv.Itoa(fr.SyncIndex)}
		for _, n := range names {
			xyz, ok := fr.Coord[n]
			if !ok {
				row = append(row, "", "", "")
				continue
			}
			row = append(row,
				strconv.FormatFloat(xyz[0], 'f', -1, 64),
				strconv.FormatFloat(xyz[1], 'f', -1, 64),
				strconv.FormatFloat(xyz[2], 'f', -1, 64),
			)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}
