// Package registry tracks the live model instances of one embedding
// session and routes lifecycle commands to them.
//
// The registry owns membership only. Run and load state live in each
// entry's capability; the registry never mirrors them, so there is no
// flag to drift out of sync with the loop it describes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visiona/modelbridge/model"
	"github.com/visiona/modelbridge/wire"
)

var (
	// ErrNotFound is returned when an id has no registered instance.
	ErrNotFound = errors.New("model not registered")

	// ErrNotLoaded is returned by Start when the instance exists but
	// has no loaded model.
	ErrNotLoaded = errors.New("model not loaded")

	// ErrStartFailed wraps a capability start failure.
	ErrStartFailed = errors.New("model start failed")

	// ErrStopFailed wraps a capability stop failure.
	ErrStopFailed = errors.New("model stop failed")
)

// Entry pairs a descriptor with the capability controlling it.
type Entry struct {
	Descriptor model.Descriptor
	Capability model.Capability
}

// Listener receives a membership snapshot after every register,
// unregister or delete. The slice is the listener's to keep.
type Listener func(snapshot []Entry)

// DeleteListener receives the descriptor of an instance removed via
// Delete. Plain unregistration does not fire it; delete intent is a
// separate signal from membership change.
type DeleteListener func(desc model.Descriptor)

// Loader builds a new registrable instance from a source URL. Dispatch
// uses it to serve load commands without the registry knowing how
// models are constructed.
type Loader func(ctx context.Context, sourceURL string) (Entry, error)

type listenerEntry struct {
	token string
	fn    Listener
}

type deleteEntry struct {
	token string
	fn    DeleteListener
}

// Registry is safe for concurrent use.
type Registry struct {
	log    *zap.Logger
	loader Loader

	mu      sync.Mutex
	entries map[string]Entry
	subs    []listenerEntry
	delSubs []deleteEntry
}

// Options configures a Registry. Loader may be nil when load commands
// are dispatched elsewhere.
type Options struct {
	Loader Loader
	Logger *zap.Logger
}

func New(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:     log,
		loader:  opts.Loader,
		entries: make(map[string]Entry),
	}
}

// Register inserts or overwrites the entry under its descriptor id and
// notifies membership listeners.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	r.entries[e.Descriptor.ID] = e
	subs, snap := r.notifyLocked()
	r.mu.Unlock()

	r.log.Info("model registered",
		zap.String("model_id", e.Descriptor.ID),
		zap.String("kind", string(e.Descriptor.Kind)))
	fanOut(subs, snap)
}

// Unregister removes the entry if present. Listeners are notified only
// when membership actually changed.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	subs, snap := r.notifyLocked()
	r.mu.Unlock()

	r.log.Info("model unregistered", zap.String("model_id", id))
	fanOut(subs, snap)
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// List returns a snapshot of all entries ordered by id.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Start launches the inference loop of a registered, loaded instance.
// Starting a running instance succeeds without effect.
func (r *Registry) Start(ctx context.Context, id string) error {
	e, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !e.Capability.IsLoaded() {
		return fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}
	if e.Capability.IsRunning() {
		return nil
	}
	if err := e.Capability.Start(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStartFailed, id, err)
	}
	return nil
}

// Stop halts the inference loop of a registered instance. Stopping an
// instance that is not running succeeds without effect.
func (r *Registry) Stop(id string) error {
	e, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !e.Capability.IsRunning() {
		return nil
	}
	if err := e.Capability.Stop(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStopFailed, id, err)
	}
	return nil
}

// StopAll stops every running instance. A failing entry does not keep
// the rest from stopping; the first failure is returned after the
// sweep completes.
func (r *Registry) StopAll() error {
	var first error
	for _, e := range r.List() {
		if !e.Capability.IsRunning() {
			continue
		}
		if err := e.Capability.Stop(); err != nil {
			r.log.Warn("stop failed during sweep",
				zap.String("model_id", e.Descriptor.ID),
				zap.Error(err))
			if first == nil {
				first = fmt.Errorf("%w: %s: %v", ErrStopFailed, e.Descriptor.ID, err)
			}
		}
	}
	return first
}

// Delete stops the instance if running, removes it, then announces the
// deletion to delete listeners. Membership listeners see the removal
// first.
func (r *Registry) Delete(id string) error {
	e, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.Capability.IsRunning() {
		if err := e.Capability.Stop(); err != nil {
			// Removal proceeds; the instance is gone either way.
			r.log.Warn("stop before delete failed",
				zap.String("model_id", id), zap.Error(err))
		}
	}

	r.mu.Lock()
	delete(r.entries, id)
	subs, snap := r.notifyLocked()
	dels := append([]deleteEntry(nil), r.delSubs...)
	r.mu.Unlock()

	r.log.Info("model deleted", zap.String("model_id", id))
	fanOut(subs, snap)
	for _, d := range dels {
		d.fn(e.Descriptor)
	}
	return nil
}

// Subscribe registers a membership listener. Listeners run in
// subscription order. The returned function removes the listener.
func (r *Registry) Subscribe(fn Listener) (unsubscribe func()) {
	token := uuid.NewString()
	r.mu.Lock()
	r.subs = append(r.subs, listenerEntry{token: token, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.token == token {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeDeletes registers a delete-intent listener.
func (r *Registry) SubscribeDeletes(fn DeleteListener) (unsubscribe func()) {
	token := uuid.NewString()
	r.mu.Lock()
	r.delSubs = append(r.delSubs, deleteEntry{token: token, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.delSubs {
			if s.token == token {
				r.delSubs = append(r.delSubs[:i], r.delSubs[i+1:]...)
				return
			}
		}
	}
}

// Dispatch routes one decoded command. It reports whether the command
// was recognized and carried out; failures are logged and answered
// with false, never panics.
func (r *Registry) Dispatch(ctx context.Context, cmd wire.Command) bool {
	switch c := cmd.(type) {
	case wire.LoadModel:
		if r.loader == nil {
			r.log.Warn("load command with no loader configured",
				zap.String("url", c.URL))
			return false
		}
		e, err := r.loader(ctx, c.URL)
		if err != nil {
			r.log.Warn("load command failed",
				zap.String("url", c.URL), zap.Error(err))
			return false
		}
		r.Register(e)
		return true
	case wire.StartModel:
		if err := r.Start(ctx, c.ModelID); err != nil {
			r.log.Warn("start command failed",
				zap.String("model_id", c.ModelID), zap.Error(err))
			return false
		}
		return true
	case wire.StopModel:
		if err := r.Stop(c.ModelID); err != nil {
			r.log.Warn("stop command failed",
				zap.String("model_id", c.ModelID), zap.Error(err))
			return false
		}
		return true
	case wire.StopAllModels:
		if err := r.StopAll(); err != nil {
			r.log.Warn("stop-all sweep had failures", zap.Error(err))
			return false
		}
		return true
	case wire.DeleteModel:
		if err := r.Delete(c.ModelID); err != nil {
			r.log.Warn("delete command failed",
				zap.String("model_id", c.ModelID), zap.Error(err))
			return false
		}
		return true
	default:
		r.log.Warn("unrecognized command")
		return false
	}
}

// snapshotLocked copies the entries ordered by id. Caller holds mu.
func (r *Registry) snapshotLocked() []Entry {
	snap := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		snap = append(snap, e)
	}
	sort.Slice(snap, func(i, j int) bool {
		return snap[i].Descriptor.ID < snap[j].Descriptor.ID
	})
	return snap
}

// notifyLocked prepares a listener fan-out for the current membership.
// Callers invoke fanOut after releasing mu so listeners may call back
// into the registry.
func (r *Registry) notifyLocked() ([]listenerEntry, []Entry) {
	return append([]listenerEntry(nil), r.subs...), r.snapshotLocked()
}

func fanOut(subs []listenerEntry, snap []Entry) {
	for _, s := range subs {
		s.fn(append([]Entry(nil), snap...))
	}
}
