package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/visiona/modelbridge/capture"
	"github.com/visiona/modelbridge/inference"
	"github.com/visiona/modelbridge/wire"
)

// --- test doubles -----------------------------------------------------

// fakeModel scores surfaces with a fixed function.
type fakeModel struct {
	kind    wire.Kind
	labels  []string
	predict func(s *capture.Surface) ([]inference.LabelScore, error)
}

func (m *fakeModel) Kind() wire.Kind  { return m.kind }
func (m *fakeModel) Labels() []string { return m.labels }
func (m *fakeModel) Predict(_ context.Context, s *capture.Surface) ([]inference.LabelScore, error) {
	return m.predict(s)
}

// fakeEngine hands out a prepared model, failing the first failures
// loads.
type fakeEngine struct {
	mu       sync.Mutex
	model    inference.Model
	failures int
	loads    int
}

func (e *fakeEngine) Load(_ context.Context, _, _ string) (inference.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	if e.failures > 0 {
		e.failures--
		return nil, fmt.Errorf("%w: fetch refused", inference.ErrLoadFailed)
	}
	return e.model, nil
}

// fakeDevice tracks acquisition and release.
type fakeDevice struct {
	mu       sync.Mutex
	setupErr error
	playing  bool
	stopped  int
	seq      uint64
}

func (d *fakeDevice) Setup(_ context.Context, _ capture.Constraints) error { return d.setupErr }
func (d *fakeDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = true
	return nil
}
func (d *fakeDevice) Surface() (*capture.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing {
		return nil, capture.ErrNotPlaying
	}
	d.seq++
	return &capture.Surface{Seq: d.seq}, nil
}
func (d *fakeDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
	d.stopped++
}

// manualScheduler lets tests drive ticks deterministically.
type manualScheduler struct {
	mu        sync.Mutex
	pending   func()
	scheduled int
	canceled  int
}

func (s *manualScheduler) Next(fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = fn
	s.scheduled++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending != nil {
			s.pending = nil
			s.canceled++
		}
	}
}

// Fire runs the pending tick, if any. Reports whether one ran.
func (s *manualScheduler) Fire() bool {
	s.mu.Lock()
	fn := s.pending
	s.pending = nil
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// recordingEmitter captures every emitted batch.
type recordingEmitter struct {
	mu      sync.Mutex
	batches []wire.Predictions
	err     error
}

func (e *recordingEmitter) EmitPredictions(kind wire.Kind, preds []wire.Prediction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.batches = append(e.batches, wire.Predictions{
		Kind:        kind,
		Predictions: append([]wire.Prediction(nil), preds...),
	})
	return nil
}

func (e *recordingEmitter) all() []wire.Predictions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]wire.Predictions(nil), e.batches...)
}

type fixture struct {
	ctrl    *Controller
	engine  *fakeEngine
	device  *fakeDevice
	sched   *manualScheduler
	emitter *recordingEmitter
}

func newFixture(t *testing.T, mdl *fakeModel) *fixture {
	t.Helper()
	f := &fixture{
		engine:  &fakeEngine{model: mdl},
		device:  &fakeDevice{},
		sched:   &manualScheduler{},
		emitter: &recordingEmitter{},
	}
	f.ctrl = NewController(Config{
		SourceURL: "https://models.example.com/abc123/",
		Engine:    f.engine,
		Devices:   func() capture.Device { return f.device },
		Scheduler: f.sched,
		Emitter:   f.emitter,
		Logger:    zaptest.NewLogger(t),
	})
	return f
}

func gestureModel(predict func(s *capture.Surface) ([]inference.LabelScore, error)) *fakeModel {
	if predict == nil {
		predict = func(*capture.Surface) ([]inference.LabelScore, error) {
			return []inference.LabelScore{
				{Label: "up", Probability: 0.12345},
				{Label: "down", Probability: 0.87655},
			}, nil
		}
	}
	return &fakeModel{kind: wire.KindImage, labels: []string{"up", "down"}, predict: predict}
}

// --- tests ------------------------------------------------------------

// TestStartBeforeLoad: start on an unloaded instance fails NotLoaded.
func TestStartBeforeLoad(t *testing.T) {
	f := newFixture(t, gestureModel(nil))

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if f.ctrl.IsRunning() {
		t.Error("unloaded instance reports running")
	}
}

// TestStartIdempotent: two starts leave exactly one scheduled loop.
func TestStartIdempotent(t *testing.T) {
	f := newFixture(t, gestureModel(nil))

	if err := f.ctrl.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if !f.ctrl.IsRunning() {
		t.Error("expected running")
	}
	if f.sched.scheduled != 1 {
		t.Errorf("expected exactly one scheduled loop, got %d", f.sched.scheduled)
	}
}

// TestTickEmitsOrderedRoundedBatch: one tick emits one batch in label
// order with confidences rounded to three decimals.
func TestTickEmitsOrderedRoundedBatch(t *testing.T) {
	f := newFixture(t, gestureModel(nil))

	f.ctrl.Load(context.Background())
	f.ctrl.Start(context.Background())

	if !f.sched.Fire() {
		t.Fatal("no tick scheduled")
	}

	batches := f.emitter.all()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	got := batches[0]
	if got.Kind != wire.KindImage {
		t.Errorf("expected kind image, got %q", got.Kind)
	}
	want := []wire.Prediction{
		{Label: "up", Confidence: 0.123},
		{Label: "down", Confidence: 0.877},
	}
	for i := range want {
		if got.Predictions[i] != want[i] {
			t.Errorf("prediction %d: expected %+v, got %+v", i, want[i], got.Predictions[i])
		}
	}

	// The loop rescheduled itself.
	if f.sched.scheduled != 2 {
		t.Errorf("expected reschedule after tick, scheduled=%d", f.sched.scheduled)
	}
}

// TestInferenceFailureSkipsTick: a failing prediction skips the tick but
// keeps the loop alive.
func TestInferenceFailureSkipsTick(t *testing.T) {
	fail := true
	mdl := gestureModel(func(s *capture.Surface) ([]inference.LabelScore, error) {
		if fail {
			fail = false
			return nil, fmt.Errorf("%w: tensor shape", inference.ErrInference)
		}
		return []inference.LabelScore{
			{Label: "up", Probability: 1},
			{Label: "down", Probability: 0},
		}, nil
	})
	f := newFixture(t, mdl)

	f.ctrl.Load(context.Background())
	f.ctrl.Start(context.Background())

	f.sched.Fire() // failing tick: no emit
	if len(f.emitter.all()) != 0 {
		t.Fatalf("failed tick must not emit, got %d batches", len(f.emitter.all()))
	}
	if !f.ctrl.IsRunning() {
		t.Fatal("loop died on a single tick failure")
	}

	f.sched.Fire() // healthy tick
	if len(f.emitter.all()) != 1 {
		t.Fatalf("expected 1 batch after recovery, got %d", len(f.emitter.all()))
	}
	if got := f.ctrl.Stats().SkippedTicks; got != 1 {
		t.Errorf("expected 1 skipped tick, got %d", got)
	}
}

// TestStopZeroesAndEmitsFinalBatch: stop releases the device, zeroes
// every confidence and emits exactly one zeroed batch.
func TestStopZeroesAndEmitsFinalBatch(t *testing.T) {
	f := newFixture(t, gestureModel(nil))

	f.ctrl.Load(context.Background())
	f.ctrl.Start(context.Background())
	f.sched.Fire() // put non-zero confidences on record

	f.ctrl.Stop()

	if f.ctrl.IsRunning() {
		t.Error("expected not running after Stop")
	}
	if !f.ctrl.IsLoaded() {
		t.Error("Stop must leave the model loaded")
	}
	if f.device.stopped == 0 {
		t.Error("capture device not released")
	}

	batches := f.emitter.all()
	final := batches[len(batches)-1]
	for _, p := range final.Predictions {
		if p.Confidence != 0 {
			t.Errorf("expected zeroed batch, got %+v", final.Predictions)
			break
		}
	}
	if len(final.Predictions) != 2 {
		t.Errorf("final batch must cover the full label set, got %d", len(final.Predictions))
	}

	// Second Stop is a no-op: no extra batch.
	before := len(f.emitter.all())
	f.ctrl.Stop()
	if got := len(f.emitter.all()); got != before {
		t.Errorf("double Stop emitted %d extra batches", got-before)
	}
}

// TestStopCancelsPendingTick: a tick scheduled before Stop never runs
// after it.
func TestStopCancelsPendingTick(t *testing.T) {
	f := newFixture(t, gestureModel(nil))

	f.ctrl.Load(context.Background())
	f.ctrl.Start(context.Background())
	f.ctrl.Stop()

	emitted := len(f.emitter.all())
	if f.sched.Fire() {
		// Even if a stale callback survived cancellation, the stop
		// flag keeps it from doing work.
		if got := len(f.emitter.all()); got != emitted {
			t.Errorf("tick after Stop emitted %d batches", got-emitted)
		}
	}
	if f.sched.canceled == 0 {
		t.Error("pending tick was not canceled")
	}

	// The instance restarts cleanly.
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if !f.ctrl.IsRunning() {
		t.Error("expected running after restart")
	}
}

// TestDeviceUnavailable: setup failure surfaces as DeviceUnavailable,
// releases the device and leaves the instance ready for retry.
func TestDeviceUnavailable(t *testing.T) {
	f := newFixture(t, gestureModel(nil))
	f.device.setupErr = fmt.Errorf("camera busy")

	f.ctrl.Load(context.Background())
	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if f.ctrl.IsRunning() {
		t.Error("failed start reports running")
	}
	if f.device.stopped == 0 {
		t.Error("device not released on failed start")
	}

	// Retry succeeds once the device recovers.
	f.device.setupErr = nil
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

// TestLoadFailureIsRetryable: a failed load moves to the error state and
// a second load recovers.
func TestLoadFailureIsRetryable(t *testing.T) {
	f := newFixture(t, gestureModel(nil))
	f.engine.failures = 1

	err := f.ctrl.Load(context.Background())
	if !errors.Is(err, inference.ErrLoadFailed) {
		t.Fatalf("expected ErrLoadFailed, got %v", err)
	}
	if f.ctrl.IsLoaded() {
		t.Error("failed load reports loaded")
	}
	if f.ctrl.State() != StateError {
		t.Errorf("expected error state, got %s", f.ctrl.State())
	}

	if err := f.ctrl.Load(context.Background()); err != nil {
		t.Fatalf("retry load failed: %v", err)
	}
	if !f.ctrl.IsLoaded() {
		t.Error("expected loaded after retry")
	}
	if f.engine.loads != 2 {
		t.Errorf("expected 2 load attempts, got %d", f.engine.loads)
	}
}

// TestLoadIdempotentWhenReady: loading a loaded instance is a no-op.
func TestLoadIdempotentWhenReady(t *testing.T) {
	f := newFixture(t, gestureModel(nil))

	f.ctrl.Load(context.Background())
	if err := f.ctrl.Load(context.Background()); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if f.engine.loads != 1 {
		t.Errorf("expected 1 engine load, got %d", f.engine.loads)
	}
}

// TestDescriptor: the descriptor is populated by Load and immutable.
func TestDescriptor(t *testing.T) {
	f := newFixture(t, gestureModel(nil))

	f.ctrl.Load(context.Background())
	desc := f.ctrl.Descriptor()
	if desc.ID != "abc123" {
		t.Errorf("expected id abc123, got %q", desc.ID)
	}
	if desc.Kind != wire.KindImage {
		t.Errorf("expected kind image, got %q", desc.Kind)
	}
	if desc.SourceURL != "https://models.example.com/abc123/" {
		t.Errorf("unexpected source url %q", desc.SourceURL)
	}
}
