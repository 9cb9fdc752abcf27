// Package pipelineerr defines the error kinds shared across the calibration
// and reconstruction pipeline, per the error-handling design: camera-local
// errors are non-fatal and leave the camera marked ignored, while
// graph-level errors halt extrinsic calibration and are surfaced to the
// caller.
package pipelineerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError indicates malformed or missing configuration keys.
// Fatal at load time.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error at key %q: %s", e.Key, e.Reason)
}

// InsufficientObservations indicates a calibration step was invoked with
// fewer usable frames than its minimum. Partial results are preserved by
// the caller so more data can be collected.
type InsufficientObservations struct {
	Component string
	Have      int
	Need      int
}

func (e *InsufficientObservations) Error() string {
	return fmt.Sprintf("%s: insufficient observations, have %d need at least %d", e.Component, e.Have, e.Need)
}

// DisconnectedCameraGraph indicates the pairwise-stereo pair graph is not
// connected after pairwise calibration; isolated ports are named so the
// caller can collect more overlapping views.
type DisconnectedCameraGraph struct {
	IsolatedPorts []int
}

func (e *DisconnectedCameraGraph) Error() string {
	return fmt.Sprintf("camera pair graph is disconnected; isolated ports: %v", e.IsolatedPorts)
}

// OptimizationDidNotConverge indicates bundle adjustment stopped, at the
// iteration cap or at the damping cap, without reaching its
// function-tolerance target. Iterations is the number it ran. The last iterate is
// still usable and is returned alongside this error as a warning, not a
// hard failure.
type OptimizationDidNotConverge struct {
	Iterations int
	FinalCost  float64
}

func (e *OptimizationDidNotConverge) Error() string {
	return fmt.Sprintf("bundle adjustment did not converge after %d iterations (final cost %.6g)", e.Iterations, e.FinalCost)
}

// SubscriberLag indicates a subscriber queue grew beyond its advisory
// threshold. Logged by callers, never fatal.
type SubscriberLag struct {
	Port      int
	QueueSize int
}

func (e *SubscriberLag) Error() string {
	return fmt.Sprintf("subscriber lag on port %d: queue depth %d", e.Port, e.QueueSize)
}

// Wrap attaches additional context to err using the same convention the
// rest of the module uses for propagating lower-level failures.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}
