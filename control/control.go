// Package control is the outward-facing surface of the model host. The
// embedding side talks to a Facade; everything behind it (registry,
// controllers, bridge) stays internal to the process.
//
// Facade methods answer with a bare bool and never panic: the caller is
// an untrusted embedder that only needs to know whether the request
// took effect. Detail goes to the log.
package control

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/visiona/modelbridge/bridge"
	"github.com/visiona/modelbridge/capture"
	"github.com/visiona/modelbridge/inference"
	"github.com/visiona/modelbridge/model"
	"github.com/visiona/modelbridge/registry"
	"github.com/visiona/modelbridge/wire"
)

// Runtime carries the collaborators every model instance is built
// with. It is passed in explicitly; there is no process-wide default.
type Runtime struct {
	Engine    inference.Engine
	Devices   capture.Factory
	Scheduler model.Scheduler
	Emitter   model.Emitter
	Logger    *zap.Logger
}

// ModelStatus is the host-visible view of one instance.
type ModelStatus struct {
	ID        string
	Kind      wire.Kind
	SourceURL string
	Loaded    bool
	Running   bool
}

// Facade exposes model lifecycle control to the embedding host.
type Facade struct {
	rt  Runtime
	reg *registry.Registry
	log *zap.Logger
}

// New builds a facade and its backing registry. The registry's loader
// constructs a controller from the runtime and loads it before
// registration, so every registered instance is at least ready.
func New(rt Runtime) *Facade {
	log := rt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	f := &Facade{rt: rt, log: log}
	f.reg = registry.New(registry.Options{
		Loader: f.load,
		Logger: log,
	})
	return f
}

// Registry exposes the backing registry for process wiring (metrics,
// daemon shutdown). Embedders use the facade methods instead.
func (f *Facade) Registry() *registry.Registry { return f.reg }

func (f *Facade) load(ctx context.Context, sourceURL string) (registry.Entry, error) {
	ctrl := model.NewController(model.Config{
		SourceURL: sourceURL,
		Engine:    f.rt.Engine,
		Devices:   f.rt.Devices,
		Scheduler: f.rt.Scheduler,
		Emitter:   f.rt.Emitter,
		Logger:    f.log,
	})
	if err := ctrl.Load(ctx); err != nil {
		return registry.Entry{}, err
	}
	return registry.Entry{Descriptor: ctrl.Descriptor(), Capability: ctrl}, nil
}

// LoadModel fetches and registers the model published at url.
func (f *Facade) LoadModel(ctx context.Context, url string) bool {
	return f.reg.Dispatch(ctx, wire.LoadModel{URL: url})
}

// StartModel begins inference for a loaded model.
func (f *Facade) StartModel(ctx context.Context, id string) bool {
	return f.reg.Dispatch(ctx, wire.StartModel{ModelID: id})
}

// StopModel halts inference for a running model.
func (f *Facade) StopModel(ctx context.Context, id string) bool {
	return f.reg.Dispatch(ctx, wire.StopModel{ModelID: id})
}

// StopAllModels halts every running model.
func (f *Facade) StopAllModels(ctx context.Context) bool {
	return f.reg.Dispatch(ctx, wire.StopAllModels{})
}

// DeleteModel stops and removes a model.
func (f *Facade) DeleteModel(ctx context.Context, id string) bool {
	return f.reg.Dispatch(ctx, wire.DeleteModel{ModelID: id})
}

// Models returns the current instances ordered by id.
func (f *Facade) Models() []ModelStatus {
	return statuses(f.reg.List())
}

// OnModelsChange registers a callback receiving the instance list after
// every membership change.
func (f *Facade) OnModelsChange(cb func([]ModelStatus)) (unsubscribe func()) {
	return f.reg.Subscribe(func(snap []registry.Entry) {
		cb(statuses(snap))
	})
}

// OnModelDelete registers a callback fired when an instance is removed
// through an explicit delete, so the host can drop any UI it grew for
// the model.
func (f *Facade) OnModelDelete(cb func(id string)) (unsubscribe func()) {
	return f.reg.SubscribeDeletes(func(d model.Descriptor) {
		cb(d.ID)
	})
}

// HandleCommand routes one decoded message. Non-command messages
// (handshake, predictions) are not the facade's business and answer
// false.
func (f *Facade) HandleCommand(ctx context.Context, msg wire.Message) bool {
	cmd, ok := msg.(wire.Command)
	if !ok {
		return false
	}
	return f.reg.Dispatch(ctx, cmd)
}

// AttachBridge routes the bridge's inbound commands into the registry.
// The returned function detaches the route.
func (f *Facade) AttachBridge(b *bridge.Bridge) (detach func()) {
	return b.OnCommand(func(cmd wire.Command) {
		f.reg.Dispatch(context.Background(), cmd)
	})
}

func statuses(entries []registry.Entry) []ModelStatus {
	out := make([]ModelStatus, len(entries))
	for i, e := range entries {
		out[i] = ModelStatus{
			ID:        e.Descriptor.ID,
			Kind:      e.Descriptor.Kind,
			SourceURL: e.Descriptor.SourceURL,
			Loaded:    e.Capability.IsLoaded(),
			Running:   e.Capability.IsRunning(),
		}
	}
	return out
}

// published is the one facade optionally exposed at the process
// boundary for embedders that cannot thread a reference through.
var published atomic.Pointer[Facade]

// Publish exposes f process-wide. Passing nil withdraws the previous
// facade.
func Publish(f *Facade) { published.Store(f) }

// Published returns the facade set by Publish, or nil.
func Published() *Facade { return published.Load() }
