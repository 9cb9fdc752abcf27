package camera

import "testing"

func approxEqual(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestExtrinsicsRoundTrip(t *testing.T) {
	cases := [][6]float64{
		{0, 0, 0, 0, 0, 0},
		{0.1, -0.2, 0.05, 1.5, -0.3, 0.7},
		{0.001, 0.002, -0.003, 0, 0, 0},
		{1.2, 0.4, -0.9, 10, -10, 5},
	}

	for _, v := range cases {
		d := NewUncalibrated(0, 640, 480, 0)
		d.ExtrinsicsFromVector(v)
		got := d.ExtrinsicsToVector()

		for i := range v {
			if !approxEqual(got[i], v[i], 1e-9) {
				t.Fatalf("round trip mismatch at %d: in %v, out %v", i, v, got)
			}
		}
	}
}

func TestExtrinsicsAnchorAlwaysZero(t *testing.T) {
	d := NewUncalibrated(0, 640, 480, 0)
	d.IsAnchor = true
	d.ExtrinsicsFromVector([6]float64{1, 2, 3, 4, 5, 6})

	got := d.ExtrinsicsToVector()
	for i, g := range got {
		if g != 0 {
			t.Fatalf("anchor extrinsics[%d] = %v, want 0", i, g)
		}
	}
	if d.Rotation != ([3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}) {
		t.Fatalf("anchor rotation not reset to identity: %v", d.Rotation)
	}
}

func TestUndistortPointsNoDistortionIsIdentity(t *testing.T) {
	d := NewUncalibrated(0, 1280, 720, 0)
	d.Matrix = [3][3]float64{{800, 0, 640}, {0, 800, 360}, {0, 0, 1}}

	pts := [][2]float64{{640, 360}, {700, 400}, {500, 300}}
	got := d.UndistortPoints(pts, Pixel)

	for i, p := range pts {
		if !approxEqual(got[i][0], p[0], 1e-6) || !approxEqual(got[i][1], p[1], 1e-6) {
			t.Fatalf("undistort with zero distortion changed point %d: in %v, out %v", i, p, got[i])
		}
	}
}

func TestUndistortPointsInvertsDistort(t *testing.T) {
	d := NewUncalibrated(0, 1280, 720, 0)
	d.Matrix = [3][3]float64{{800, 0, 640}, {0, 800, 360}, {0, 0, 1}}
	d.Distortions = [5]float64{-0.2, 0.05, 0.001, -0.002, 0.0}

	normalized := [][2]float64{{0.1, -0.05}, {-0.2, 0.15}, {0.02, 0.02}}
	fx, fy, cx, cy := d.focalAndPrincipal()

	distorted := make([][2]float64, len(normalized))
	for i, p := range normalized {
		xd, yd := d.distort(p[0], p[1])
		distorted[i] = [2]float64{xd*fx + cx, yd*fy + cy}
	}

	recovered := d.UndistortPoints(distorted, Normalized)
	for i, p := range normalized {
		if !approxEqual(recovered[i][0], p[0], 1e-3) || !approxEqual(recovered[i][1], p[1], 1e-3) {
			t.Fatalf("undistort(distort(p)) != p at %d: want %v, got %v", i, p, recovered[i])
		}
	}
}

func TestProjectAnchorAtOrigin(t *testing.T) {
	d := NewUncalibrated(0, 1280, 720, 0)
	d.IsAnchor = true
	d.Matrix = [3][3]float64{{800, 0, 640}, {0, 800, 360}, {0, 0, 1}}

	pts := [][3]float64{{0, 0, 2}}
	got := d.Project(pts)

	if !approxEqual(got[0][0], 640, 1e-6) || !approxEqual(got[0][1], 360, 1e-6) {
		t.Fatalf("point on optical axis should project to principal point, got %v", got[0])
	}
}
