// Package camera holds the per-camera intrinsic and extrinsic model: the
// 3x3 intrinsic matrix, the 5-parameter Brown-Conrady distortion vector,
// resolution, display rotation count, and the world-to-camera pose. It
// exposes projection, undistortion, and the minimal 6-vector extrinsics
// encoding used by bundle adjustment.
package camera

import "math"

// undistortIterations is the number of Newton-style refinement passes used
// to invert the Brown-Conrady distortion model, per §4.3.
const undistortIterations = 3

// Data holds everything known about one camera: its intrinsics (matrix,
// distortion, resolution), its pose in the shared world frame
// (world-to-camera rotation and translation), and bookkeeping from the
// most recent (re-)calibration.
type Data struct {
	Port           int
	Width, Height  int
	Matrix         [3][3]float64 // intrinsic matrix K
	Distortions    [5]float64    // k1, k2, p1, p2, k3
	Rotation       [3][3]float64 // world-to-camera orientation
	Translation    [3]float64    // world-to-camera position
	RotationCount  int           // quarter-turn display orientation
	Error          float64       // last RMSE
	GridCount      int           // frames used in last calibration
	Ignored        bool
	IsAnchor       bool
}

// NewUncalibrated returns a Data with the given resolution and display
// rotation, unit focal length with the principal point at the image
// centre, identity rotation, zero translation, and zero distortion — a
// placeholder populated by the intrinsic calibrator and bundle adjuster.
func NewUncalibrated(port, width, height, rotationCount int) *Data {
	return &Data{
		Port:          port,
		Width:         width,
		Height:        height,
		RotationCount: rotationCount,
		Matrix: [3][3]float64{
			{1, 0, float64(width) / 2},
			{0, 1, float64(height) / 2},
			{0, 0, 1},
		},
		Rotation:    [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Translation: [3]float64{0, 0, 0},
	}
}

// Calibrated reports whether every field required for projection has been
// set: a finite matrix with nonzero focal lengths, a finite rotation, and a
// finite translation. Ignored cameras always report false.
func (d *Data) Calibrated() bool {
	if d.Ignored {
		return false
	}
	if d.Matrix[0][0] == 0 || d.Matrix[1][1] == 0 {
		return false
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(d.Matrix[i][j]) || math.IsInf(d.Matrix[i][j], 0) {
				return false
			}
			if math.IsNaN(d.Rotation[i][j]) || math.IsInf(d.Rotation[i][j], 0) {
				return false
			}
		}
		if math.IsNaN(d.Translation[i]) || math.IsInf(d.Translation[i], 0) {
			return false
		}
	}
	return true
}

// focalAndPrincipal extracts fx, fy, cx, cy from the intrinsic matrix.
func (d *Data) focalAndPrincipal() (fx, fy, cx, cy float64) {
	return d.Matrix[0][0], d.Matrix[1][1], d.Matrix[0][2], d.Matrix[1][2]
}

// distort applies the forward Brown-Conrady model to a normalized camera
// coordinate (x, y), returning the distorted normalized coordinate.
func (d *Data) distort(x, y float64) (xd, yd float64) {
	k1, k2, p1, p2, k3 := d.Distortions[0], d.Distortions[1], d.Distortions[2], d.Distortions[3], d.Distortions[4]
	r2 := x*x + y*y
	radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
	xd = x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd = y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

// Project maps world-frame 3D points to image pixel coordinates through
// this camera's full pose + intrinsics + distortion model.
func (d *Data) Project(xyz [][3]float64) [][2]float64 {
	fx, fy, cx, cy := d.focalAndPrincipal()
	out := make([][2]float64, len(xyz))
	for i, p := range xyz {
		cam := matMulVec3(d.Rotation, p)
		cam[0] += d.Translation[0]
		cam[1] += d.Translation[1]
		cam[2] += d.Translation[2]

		x := cam[0] / cam[2]
		y := cam[1] / cam[2]
		xd, yd := d.distort(x, y)

		out[i] = [2]float64{fx*xd + cx, fy*yd + cy}
	}
	return out
}

// UndistortOutput selects the coordinate space UndistortPoints returns.
type UndistortOutput int

const (
	// Normalized returns camera-normalized coordinates (distortion and
	// intrinsics both removed).
	Normalized UndistortOutput = iota
	// Pixel returns undistorted pixel coordinates (distortion removed,
	// intrinsics re-applied).
	Pixel
)

// UndistortPoints inverts the Brown-Conrady distortion model with a short
// iterative Newton-style scheme (three passes, per §4.3), mapping distorted
// image pixels back to normalized camera coordinates or undistorted pixel
// coordinates.
func (d *Data) UndistortPoints(xy [][2]float64, output UndistortOutput) [][2]float64 {
	fx, fy, cx, cy := d.focalAndPrincipal()
	k1, k2, p1, p2, k3 := d.Distortions[0], d.Distortions[1], d.Distortions[2], d.Distortions[3], d.Distortions[4]

	out := make([][2]float64, len(xy))
	for i, p := range xy {
		x0 := (p[0] - cx) / fx
		y0 := (p[1] - cy) / fy

		x, y := x0, y0
		for iter := 0; iter < undistortIterations; iter++ {
			r2 := x*x + y*y
			radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
			dx := 2*p1*x*y + p2*(r2+2*x*x)
			dy := p1*(r2+2*y*y) + 2*p2*x*y
			x = (x0 - dx) / radial
			y = (y0 - dy) / radial
		}

		if output == Pixel {
			out[i] = [2]float64{x*fx + cx, y*fy + cy}
		} else {
			out[i] = [2]float64{x, y}
		}
	}
	return out
}

// ExtrinsicsToVector encodes this camera's world-to-camera rotation as a
// Rodrigues axis-angle 3-vector (elements 0-2) followed by its
// world-to-camera translation (elements 3-5). The anchor camera's vector is
// always the zero vector.
func (d *Data) ExtrinsicsToVector() [6]float64 {
	if d.IsAnchor {
		return [6]float64{}
	}
	r := matrixToRodrigues(d.Rotation)
	return [6]float64{r[0], r[1], r[2], d.Translation[0], d.Translation[1], d.Translation[2]}
}

// ExtrinsicsFromVector is the inverse of ExtrinsicsToVector: it updates
// this camera's rotation and translation from a 6-vector. A no-op on the
// anchor camera, which is always held fixed at identity/zero.
func (d *Data) ExtrinsicsFromVector(v [6]float64) {
	if d.IsAnchor {
		d.Rotation = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
		d.Translation = [3]float64{}
		return
	}
	d.Rotation = rodriguesToMatrix([3]float64{v[0], v[1], v[2]})
	d.Translation = [3]float64{v[3], v[4], v[5]}
}
