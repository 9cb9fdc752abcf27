// Package board describes the physical calibration target geometry: a
// Charuco board's interior corner layout in its own object frame, and the
// grid adjacency between corners used only for overlay rendering.
package board

import "fmt"

// Spec is the immutable geometry of a Charuco calibration board. It never
// changes after construction.
type Spec struct {
	Columns             int
	Rows                int
	SquareEdgeLength    float64 // metres
	MarkerDictionaryID  int
	MarkerScaleInSquare float64 // aruco marker edge as a fraction of the square edge
	Inverted            bool
}

// New constructs a board Spec. Columns and Rows count full squares across
// the board; the interior corner grid has (Columns-1)*(Rows-1) corners.
func New(columns, rows int, squareEdgeLength float64, markerDictionaryID int, markerScale float64, inverted bool) (*Spec, error) {
	if columns < 2 || rows < 2 {
		return nil, fmt.Errorf("board: columns and rows must each be at least 2, got %dx%d", columns, rows)
	}
	if squareEdgeLength <= 0 {
		return nil, fmt.Errorf("board: square edge length must be positive, got %f", squareEdgeLength)
	}
	return &Spec{
		Columns:             columns,
		Rows:                rows,
		SquareEdgeLength:    squareEdgeLength,
		MarkerDictionaryID:  markerDictionaryID,
		MarkerScaleInSquare: markerScale,
		Inverted:            inverted,
	}, nil
}

// CornerCols is the number of interior corners per row of the grid.
func (s *Spec) CornerCols() int { return s.Columns - 1 }

// CornerRows is the number of interior corners per column of the grid.
func (s *Spec) CornerRows() int { return s.Rows - 1 }

// NumCorners is the total number of interior corners on the board.
func (s *Spec) NumCorners() int { return s.CornerCols() * s.CornerRows() }

// ObjectCorner returns the (x, y, z) position of corner id in the board's
// own object frame. z is always 0 since the board is planar; (x, y) lie on
// a regular grid spaced by SquareEdgeLength, matching the row-major corner
// numbering OpenCV's Charuco interpolation returns.
func (s *Spec) ObjectCorner(id int) (x, y, z float64, err error) {
	n := s.NumCorners()
	if id < 0 || id >= n {
		return 0, 0, 0, fmt.Errorf("board: corner id %d out of range [0,%d)", id, n)
	}
	cols := s.CornerCols()
	row := id / cols
	col := id % cols
	return float64(col) * s.SquareEdgeLength, float64(row) * s.SquareEdgeLength, 0, nil
}

// ObjectCorners returns the object-frame coordinates for every corner id,
// in id order; a fixed list of length NumCorners().
func (s *Spec) ObjectCorners() [][3]float64 {
	out := make([][3]float64, s.NumCorners())
	for id := range out {
		x, y, z, _ := s.ObjectCorner(id)
		out[id] = [3]float64{x, y, z}
	}
	return out
}

// CornerPair is an unordered pair of connected corner ids, id_a < id_b.
type CornerPair struct {
	A, B int
}

// ConnectedCorners returns the set of corner id pairs that share either a
// row or a column on the board's regular grid. Used only for overlay
// rendering by a GUI collaborator; it has no bearing on any calibration
// calculation.
func (s *Spec) ConnectedCorners() map[CornerPair]struct{} {
	cols := s.CornerCols()
	rows := s.CornerRows()
	pairs := make(map[CornerPair]struct{})
	addPair := func(a, b int) {
		if a > b {
			a, b = b, a
		}
		pairs[CornerPair{A: a, B: b}] = struct{}{}
	}
	id := func(row, col int) int { return row*cols + col }
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if col+1 < cols {
				addPair(id(row, col), id(row, col+1))
			}
			if row+1 < rows {
				addPair(id(row, col), id(row+1, col))
			}
		}
	}
	return pairs
}

// MarkerEdgeLength is the physical edge length of each embedded ArUco
// marker, derived from the square edge length and the configured scale.
func (s *Spec) MarkerEdgeLength() float64 {
	return s.SquareEdgeLength * s.MarkerScaleInSquare
}
