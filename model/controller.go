package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/visiona/modelbridge/capture"
	"github.com/visiona/modelbridge/inference"
	"github.com/visiona/modelbridge/wire"
)

// ErrNotLoaded is returned by Start before a successful Load.
var ErrNotLoaded = errors.New("model not loaded")

// Capability is the lifecycle contract a model instance exposes to the
// registry. The capability is the single source of truth for running
// and loaded state; the registry keeps no shadow flags.
type Capability interface {
	// Start begins the inference loop. Idempotent while running.
	Start(ctx context.Context) error
	// Stop ends the loop, releases the capture device, zeroes the
	// confidence vector and emits one final zeroed batch. No-op when
	// not running. The instance is stopped even when the final emit
	// fails; the error only reports the lost broadcast.
	Stop() error
	// IsRunning reports whether the loop is active.
	IsRunning() bool
	// IsLoaded reports whether the model is ready to start.
	IsLoaded() bool
}

// Emitter broadcasts one tick's predictions. *bridge.Bridge satisfies
// this.
type Emitter interface {
	EmitPredictions(kind wire.Kind, preds []wire.Prediction) error
}

// State is the instance lifecycle state, held in a single atomic word so
// transitions are compare-and-swap and a racing double start cannot
// spawn a second loop.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Stats counts loop activity for one controller.
type Stats struct {
	Ticks        uint64
	SkippedTicks uint64
	EmitFailures uint64
}

// Config wires a Controller's collaborators. All fields are required
// except Logger.
type Config struct {
	SourceURL string
	Engine    inference.Engine
	Devices   capture.Factory
	Scheduler Scheduler
	Emitter   Emitter
	Logger    *zap.Logger
}

// Controller drives one model instance through its lifecycle: idle,
// loading, ready, running and back to ready. The error state is
// reachable from loading and cleared by loading again.
type Controller struct {
	cfg   Config
	id    string
	log   *zap.Logger
	state atomic.Int32

	// mu guards the loop fields below and serializes tick execution,
	// so a stop can overlap a running tick by at most one step.
	mu         sync.Mutex
	mdl        inference.Model
	desc       Descriptor
	confidence []float64
	device     capture.Device
	cancelTick func()
	loopCtx    context.Context

	stopFlag atomic.Bool

	ticks        atomic.Uint64
	skippedTicks atomic.Uint64
	emitFailures atomic.Uint64
}

// NewController creates an idle controller for a source URL. Nothing is
// fetched until Load.
func NewController(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	id := DeriveID(cfg.SourceURL)
	return &Controller{
		cfg: cfg,
		id:  id,
		log: log.With(zap.String("model_id", id)),
	}
}

// ID returns the derived registry key.
func (c *Controller) ID() string { return c.id }

// Descriptor returns the immutable descriptor. Only meaningful after a
// successful Load.
func (c *Controller) Descriptor() Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// IsLoaded implements Capability.
func (c *Controller) IsLoaded() bool {
	s := c.State()
	return s == StateReady || s == StateRunning
}

// IsRunning implements Capability.
func (c *Controller) IsRunning() bool { return c.State() == StateRunning }

// Stats returns a snapshot of the loop counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Ticks:        c.ticks.Load(),
		SkippedTicks: c.skippedTicks.Load(),
		EmitFailures: c.emitFailures.Load(),
	}
}

// Load fetches the model and its metadata. On failure the instance moves
// to the error state and stays unloaded; calling Load again retries.
// Loading an already-loaded instance is a no-op success.
func (c *Controller) Load(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateLoading)) &&
		!c.state.CompareAndSwap(int32(StateError), int32(StateLoading)) {
		switch c.State() {
		case StateReady, StateRunning:
			return nil
		default:
			return fmt.Errorf("%w: load already in progress", inference.ErrLoadFailed)
		}
	}

	base := strings.TrimRight(c.cfg.SourceURL, "/")
	mdl, err := c.cfg.Engine.Load(ctx, base+"/model.json", base+"/metadata.json")
	if err != nil {
		c.state.Store(int32(StateError))
		c.log.Error("model load failed", zap.Error(err))
		return err
	}

	labels := mdl.Labels()

	c.mu.Lock()
	c.mdl = mdl
	c.desc = Descriptor{ID: c.id, Kind: mdl.Kind(), SourceURL: c.cfg.SourceURL}
	c.confidence = make([]float64, len(labels))
	c.mu.Unlock()

	c.state.Store(int32(StateReady))
	c.log.Info("model loaded",
		zap.String("kind", string(mdl.Kind())),
		zap.Int("labels", len(labels)))
	return nil
}

// Start implements Capability. The transition from ready to running is a CAS,
// so exactly one caller wins and at most one loop exists per instance.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateReady), int32(StateRunning)) {
		if c.State() == StateRunning {
			return nil
		}
		return fmt.Errorf("%w: state %s", ErrNotLoaded, c.State())
	}

	dev := c.cfg.Devices()
	if err := dev.Setup(ctx, c.constraints()); err != nil {
		dev.Stop()
		c.state.Store(int32(StateReady))
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	if err := dev.Play(); err != nil {
		dev.Stop()
		c.state.Store(int32(StateReady))
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}

	c.stopFlag.Store(false)

	c.mu.Lock()
	c.device = dev
	// The loop must not die with the caller's request context: stop is
	// cooperative, checked between ticks only.
	c.loopCtx = context.WithoutCancel(ctx)
	c.cancelTick = c.cfg.Scheduler.Next(c.tick)
	c.mu.Unlock()

	c.log.Info("inference loop started")
	return nil
}

// Stop implements Capability.
func (c *Controller) Stop() error {
	if c.State() != StateRunning {
		return nil
	}
	c.stopFlag.Store(true)

	// Acquiring mu waits out an in-flight tick; cancellation latency is
	// bounded by one inference step.
	c.mu.Lock()
	if c.cancelTick != nil {
		c.cancelTick()
		c.cancelTick = nil
	}
	if c.device != nil {
		c.device.Stop()
		c.device = nil
	}
	for i := range c.confidence {
		c.confidence[i] = 0
	}
	batch := c.batchLocked()
	kind := c.desc.Kind
	c.mu.Unlock()

	// Exactly one stopper wins the transition and emits the final
	// zeroed batch, so consumers observe a clean stopped signal.
	if c.state.CompareAndSwap(int32(StateRunning), int32(StateReady)) {
		c.log.Info("inference loop stopped")
		if err := c.cfg.Emitter.EmitPredictions(kind, batch); err != nil {
			c.emitFailures.Add(1)
			c.log.Warn("final batch emit failed", zap.Error(err))
			return fmt.Errorf("emit final batch: %w", err)
		}
	}
	return nil
}

// tick runs one capture, inference and emit iteration and reschedules
// itself unless the stop flag was raised.
func (c *Controller) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopFlag.Load() || c.device == nil {
		return
	}

	c.ticks.Add(1)

	surface, err := c.device.Surface()
	if err != nil {
		c.skippedTicks.Add(1)
		c.log.Warn("capture failed, skipping tick", zap.Error(err))
		c.rescheduleLocked()
		return
	}

	scores, err := c.mdl.Predict(c.loopCtx, surface)
	if err != nil {
		c.skippedTicks.Add(1)
		c.log.Warn("inference failed, skipping tick", zap.Error(err))
		c.rescheduleLocked()
		return
	}

	for i := range c.confidence {
		if i < len(scores) {
			c.confidence[i] = wire.Round3(scores[i].Probability)
		}
	}

	if err := c.cfg.Emitter.EmitPredictions(c.desc.Kind, c.batchLocked()); err != nil {
		c.emitFailures.Add(1)
		c.log.Warn("batch emit failed", zap.Error(err))
	}

	c.rescheduleLocked()
}

// rescheduleLocked queues the next tick unless stopping. Caller holds mu.
func (c *Controller) rescheduleLocked() {
	if c.stopFlag.Load() {
		return
	}
	c.cancelTick = c.cfg.Scheduler.Next(c.tick)
}

// batchLocked builds the ordered batch from the label set and the held
// confidence vector. Caller holds mu.
func (c *Controller) batchLocked() []wire.Prediction {
	labels := c.mdl.Labels()
	batch := make([]wire.Prediction, len(labels))
	for i, label := range labels {
		batch[i] = wire.Prediction{Label: label, Confidence: c.confidence[i]}
	}
	return batch
}

// constraints picks capture constraints for the model's modality.
func (c *Controller) constraints() capture.Constraints {
	c.mu.Lock()
	kind := c.desc.Kind
	c.mu.Unlock()

	if kind == wire.KindSound {
		return capture.Constraints{Audio: true}
	}
	return capture.Constraints{Width: 640, Height: 480, FPS: 30}
}
