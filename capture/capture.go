// Package capture defines the capture-device contract consumed by model
// controllers, plus a synthetic device for tests and demos.
//
// Real devices (camera, microphone) live behind the Device interface;
// this package does not implement hardware access. A Device is exclusively
// owned by the controller that acquired it and must be released on every
// teardown path, so a failed start never leaks a device across model
// switches.
package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when a device cannot be acquired
	// or set up.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrNotPlaying is returned by Surface before Play or after Stop.
	ErrNotPlaying = errors.New("capture device not playing")
)

// Constraints describe the capture configuration requested at setup.
type Constraints struct {
	// Width and Height in pixels. Zero means device default.
	Width  int
	Height int
	// FPS is the requested capture rate. Zero means device default.
	FPS float64
	// Audio requests an audio capture device (sound models).
	Audio bool
}

// Surface is one drawable capture sample handed to inference.
//
// Contract: Data MUST NOT be modified after Surface() returns it; the
// same buffer may be shared with other readers.
type Surface struct {
	// Seq is the monotonic sample sequence number.
	Seq uint64
	// Timestamp is when the sample was captured.
	Timestamp time.Time
	// Width and Height in pixels (zero for audio surfaces).
	Width  int
	Height int
	// Data contains the raw sample (RGBA pixels or PCM samples).
	Data []byte
	// TraceID is a unique identifier for tracing a sample through the
	// pipeline.
	TraceID string
}

// Device is the capture-device wrapper contract.
//
// Implementations must guarantee:
//   - Setup is called exactly once before Play
//   - Stop is idempotent and releases all underlying resources
//   - Surface is only valid between Play and Stop
type Device interface {
	// Setup configures the device. Acquisition or configuration failure
	// is reported as (a wrapped) ErrDeviceUnavailable.
	Setup(ctx context.Context, c Constraints) error

	// Play begins producing surfaces.
	Play() error

	// Surface returns the most recent capture sample.
	Surface() (*Surface, error)

	// Stop releases the device. Safe to call multiple times.
	Stop()
}

// Factory acquires a fresh Device. Controllers call it on every start so
// a stopped model never pins hardware.
type Factory func() Device
