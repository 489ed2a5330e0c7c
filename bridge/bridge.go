// Package bridge implements the cross-context messaging bridge: inbound
// frame filtering, the hello/init/ping/pong handshake, lifecycle command
// delivery, and per-kind prediction fan-out.
//
// Two independent filters gate every inbound frame before the inner
// payload is decoded:
//
//  1. the origin slot must be the designated primary source
//  2. the channel must match this application's channel name
//
// Everything else is foreign traffic and dropped silently (counted, not
// logged, to keep sibling chatter out of the logs). Malformed payloads
// that pass both filters are logged and dropped; they never crash the
// bridge.
package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visiona/modelbridge/wire"
)

// PredictionFunc receives one (label, confidence) pair per prediction,
// in batch order.
type PredictionFunc func(label string, confidence float64)

// CommandFunc receives inbound lifecycle commands.
type CommandFunc func(cmd wire.Command)

// Options configures a Bridge.
type Options struct {
	// Channel is the channel name to send and accept. Defaults to
	// wire.DefaultChannel.
	Channel string
	// Source is the only origin slot accepted on inbound frames.
	// Defaults to wire.PrimarySource.
	Source int
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	FramesIn       uint64
	FramesOut      uint64
	ForeignSource  uint64
	ForeignChannel uint64
	DecodeFailures uint64
	EmitsWhileIdle uint64
}

type predSub struct {
	id string
	fn PredictionFunc
}

type cmdSub struct {
	id string
	fn CommandFunc
}

// Bridge owns one side of the message channel. A Bridge outlives its
// transports: Attach binds it to a live transport, Detach releases it,
// and emission while detached drops rather than queues.
type Bridge struct {
	channel string
	source  int
	log     *zap.Logger

	mu        sync.Mutex
	transport Transport
	readDone  chan struct{}

	subMu    sync.RWMutex
	predSubs map[wire.Kind][]predSub
	cmdSubs  []cmdSub

	framesIn       atomic.Uint64
	framesOut      atomic.Uint64
	foreignSource  atomic.Uint64
	foreignChannel atomic.Uint64
	decodeFailures atomic.Uint64
	emitsWhileIdle atomic.Uint64
}

// New creates a detached Bridge.
func New(opts Options) *Bridge {
	if opts.Channel == "" {
		opts.Channel = wire.DefaultChannel
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bridge{
		channel:  opts.Channel,
		source:   opts.Source,
		log:      opts.Logger,
		predSubs: make(map[wire.Kind][]predSub),
	}
}

// Channel returns the channel name this bridge sends and accepts.
func (b *Bridge) Channel() string { return b.channel }

// Attach binds the bridge to a transport, starts the read loop and opens
// the handshake with a hello. Only one transport may be attached at a
// time; Attach detaches any previous one first.
func (b *Bridge) Attach(t Transport) error {
	b.Detach()

	b.mu.Lock()
	b.transport = t
	done := make(chan struct{})
	b.readDone = done
	b.mu.Unlock()

	go b.readLoop(t, done)

	if err := b.send(wire.Hello{}); err != nil {
		b.log.Warn("handshake hello failed", zap.Error(err))
	}
	b.log.Info("bridge attached", zap.String("channel", b.channel))
	return nil
}

// Detach releases the current transport, closing it and waiting for the
// read loop to exit. No-op when already detached.
func (b *Bridge) Detach() {
	b.mu.Lock()
	t := b.transport
	done := b.readDone
	b.transport = nil
	b.readDone = nil
	b.mu.Unlock()

	if t == nil {
		return
	}
	t.Close()
	<-done
	b.log.Info("bridge detached", zap.String("channel", b.channel))
}

// SubscribePredictions registers a callback for one model kind. The
// callback is invoked once per prediction, in batch order. Subscribers
// of the same kind run in subscription order. The returned function
// removes the subscription.
func (b *Bridge) SubscribePredictions(kind wire.Kind, fn PredictionFunc) (unsubscribe func()) {
	id := uuid.NewString()

	b.subMu.Lock()
	b.predSubs[kind] = append(b.predSubs[kind], predSub{id: id, fn: fn})
	b.subMu.Unlock()

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		subs := b.predSubs[kind]
		for i, s := range subs {
			if s.id == id {
				b.predSubs[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// OnCommand registers a callback for inbound lifecycle commands. The
// returned function removes the subscription.
func (b *Bridge) OnCommand(fn CommandFunc) (unsubscribe func()) {
	id := uuid.NewString()

	b.subMu.Lock()
	b.cmdSubs = append(b.cmdSubs, cmdSub{id: id, fn: fn})
	b.subMu.Unlock()

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		for i, s := range b.cmdSubs {
			if s.id == id {
				b.cmdSubs = append(b.cmdSubs[:i:i], b.cmdSubs[i+1:]...)
				return
			}
		}
	}
}

// EmitPredictions serializes one tick's batch into a single frame and
// sends it. While detached the batch is dropped and counted; the next
// tick re-emits fresh values anyway.
func (b *Bridge) EmitPredictions(kind wire.Kind, preds []wire.Prediction) error {
	return b.send(wire.Predictions{Kind: kind, Predictions: preds})
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesIn:       b.framesIn.Load(),
		FramesOut:      b.framesOut.Load(),
		ForeignSource:  b.foreignSource.Load(),
		ForeignChannel: b.foreignChannel.Load(),
		DecodeFailures: b.decodeFailures.Load(),
		EmitsWhileIdle: b.emitsWhileIdle.Load(),
	}
}

// send encodes a message into a frame and transmits it on the current
// transport, if any.
func (b *Bridge) send(msg wire.Message) error {
	b.mu.Lock()
	t := b.transport
	b.mu.Unlock()

	if t == nil {
		b.emitsWhileIdle.Add(1)
		return nil
	}

	payload, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}
	data, err := wire.EncodeFrame(wire.NewFrame(b.channel, payload))
	if err != nil {
		return err
	}
	if err := t.Send(data); err != nil {
		return err
	}
	b.framesOut.Add(1)
	return nil
}

// readLoop drains the transport until it closes.
func (b *Bridge) readLoop(t Transport, done chan struct{}) {
	defer close(done)
	for data := range t.Receive() {
		b.handleRaw(data)
	}
}

// handleRaw applies the two inbound filters, decodes the payload and
// dispatches the message.
func (b *Bridge) handleRaw(data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		b.decodeFailures.Add(1)
		b.log.Warn("dropping undecodable frame", zap.Error(err))
		return
	}

	// Filter 1: origin slot. Sibling contexts share the transport and
	// their chatter is expected; drop without logging.
	if frame.SrcFrameIndex != b.source {
		b.foreignSource.Add(1)
		return
	}

	// Filter 2: channel name.
	if frame.Type != wire.FrameType || frame.Channel != b.channel {
		b.foreignChannel.Add(1)
		return
	}

	b.framesIn.Add(1)

	msg, err := wire.DecodeMessage(frame.Data)
	if err != nil {
		b.decodeFailures.Add(1)
		b.log.Warn("dropping malformed payload", zap.Error(err))
		return
	}

	b.dispatch(msg)
}

// dispatch routes one decoded message.
func (b *Bridge) dispatch(msg wire.Message) {
	switch m := msg.(type) {
	case wire.Hello:
		if err := b.send(wire.Init{}); err != nil {
			b.log.Warn("init reply failed", zap.Error(err))
		}
	case wire.Ping:
		if err := b.send(wire.Pong{}); err != nil {
			b.log.Warn("pong reply failed", zap.Error(err))
		}
	case wire.Init, wire.Pong:
		b.log.Debug("handshake acknowledged", zap.String("type", string(msg.MessageType())))
	case wire.Predictions:
		b.fanOut(m)
	case wire.LoadModel:
		b.forwardCommand(m)
	case wire.StartModel:
		b.forwardCommand(m)
	case wire.StopModel:
		b.forwardCommand(m)
	case wire.StopAllModels:
		b.forwardCommand(m)
	case wire.DeleteModel:
		b.forwardCommand(m)
	}
}

// fanOut invokes every subscriber of the batch's kind, in subscription
// order, once per prediction, in batch order.
func (b *Bridge) fanOut(batch wire.Predictions) {
	b.subMu.RLock()
	subs := append([]predSub(nil), b.predSubs[batch.Kind]...)
	b.subMu.RUnlock()

	for _, sub := range subs {
		for _, p := range batch.Predictions {
			sub.fn(p.Label, p.Confidence)
		}
	}
}

func (b *Bridge) forwardCommand(cmd wire.Command) {
	b.subMu.RLock()
	subs := append([]cmdSub(nil), b.cmdSubs...)
	b.subMu.RUnlock()

	b.log.Info("command received", zap.String("type", string(cmd.MessageType())))
	for _, sub := range subs {
		sub.fn(cmd)
	}
}
