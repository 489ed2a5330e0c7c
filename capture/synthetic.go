package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SyntheticDevice generates deterministic surfaces without hardware.
// Used by tests and the demo daemon.
type SyntheticDevice struct {
	mu      sync.Mutex
	width   int
	height  int
	seq     uint64
	ready   bool
	playing bool
}

// NewSyntheticDevice returns a Factory producing synthetic devices.
func NewSyntheticDevice() Factory {
	return func() Device { return &SyntheticDevice{} }
}

// Setup implements Device.
func (d *SyntheticDevice) Setup(ctx context.Context, c Constraints) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.width = c.Width
	d.height = c.Height
	if d.width == 0 {
		d.width = 640
	}
	if d.height == 0 {
		d.height = 480
	}
	if c.Audio {
		d.width, d.height = 0, 0
	}
	d.ready = true
	return nil
}

// Play implements Device.
func (d *SyntheticDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready {
		return fmt.Errorf("%w: setup not called", ErrDeviceUnavailable)
	}
	d.playing = true
	return nil
}

// Surface implements Device. Each call produces a fresh sample whose
// first byte carries the low bits of the sequence number, enough for
// deterministic assertions downstream.
func (d *SyntheticDevice) Surface() (*Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.playing {
		return nil, ErrNotPlaying
	}

	d.seq++
	size := d.width * d.height * 4
	if size == 0 {
		size = 1024 // audio buffer
	}
	data := make([]byte, size)
	data[0] = byte(d.seq)

	return &Surface{
		Seq:       d.seq,
		Timestamp: time.Now(),
		Width:     d.width,
		Height:    d.height,
		Data:      data,
		TraceID:   uuid.NewString(),
	}, nil
}

// Stop implements Device. Idempotent.
func (d *SyntheticDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
}
