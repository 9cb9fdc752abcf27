package camera

import "github.com/fieldrig/capturevolume/internal/pipelineerr"

// Array is the full set of cameras participating in one capture volume,
// keyed by port. Exactly one camera is designated the anchor: its pose is
// held fixed at identity and every other camera's extrinsics are expressed
// relative to it.
type Array struct {
	Cameras map[int]*Data
	Anchor  int
}

// NewArray wraps the given cameras into an Array and marks port as the
// anchor, clearing any previously set IsAnchor flags.
func NewArray(cameras map[int]*Data, anchor int) (*Array, error) {
	if _, ok := cameras[anchor]; !ok {
		return nil, pipelineerr.Wrap(
			&pipelineerr.ConfigurationError{Key: "anchor", Reason: "anchor port not present in camera set"},
			"camera.NewArray",
		)
	}
	for port, d := range cameras {
		d.IsAnchor = port == anchor
	}
	return &Array{Cameras: cameras, Anchor: anchor}, nil
}

// Ports returns the sorted list of active (non-ignored) camera ports.
func (a *Array) Ports() []int {
	ports := make([]int, 0, len(a.Cameras))
	for p, d := range a.Cameras {
		if !d.Ignored {
			ports = append(ports, p)
		}
	}
	for i := 1; i < len(ports); i++ {
		for j := i; j > 0 && ports[j-1] > ports[j]; j-- {
			ports[j-1], ports[j] = ports[j], ports[j-1]
		}
	}
	return ports
}

// AllCalibrated reports whether every active camera in the array has usable
// intrinsics and extrinsics.
func (a *Array) AllCalibrated() bool {
	for _, d := range a.Cameras {
		if d.Ignored {
			continue
		}
		if !d.Calibrated() {
			return false
		}
	}
	return true
}

// ExtrinsicsVector packs every non-anchor active camera's 6-vector
// extrinsics into a single flat vector, ordered by ascending port, for
// consumption by the bundle adjuster's parameter vector.
func (a *Array) ExtrinsicsVector() ([]float64, []int) {
	ports := a.Ports()
	var out []float64
	var order []int
	for _, p := range ports {
		d := a.Cameras[p]
		if d.IsAnchor {
			continue
		}
		v := d.ExtrinsicsToVector()
		out = append(out, v[:]...)
		order = append(order, p)
	}
	return out, order
}

// SetExtrinsicsVector is the inverse of ExtrinsicsVector: it distributes a
// flat vector back across the cameras named in order, six elements per
// camera.
func (a *Array) SetExtrinsicsVector(v []float64, order []int) {
	for i, port := range order {
		d := a.Cameras[port]
		var sub [6]float64
		copy(sub[:], v[i*6:i*6+6])
		d.ExtrinsicsFromVector(sub)
	}
}
