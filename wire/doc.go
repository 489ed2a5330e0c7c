// Package wire defines the framed message protocol exchanged with the
// embedding host.
//
// Two layers:
//
//   - Frame: the outer transport unit. Carries a channel name, an origin
//     slot index and an opaque byte payload. A Frame is the only thing
//     that ever crosses the trust boundary.
//   - Message: the inner tagged union carried in Frame.Data. Handshake
//     messages (hello/init/ping/pong), prediction batches, and the
//     lifecycle command set (load/start/stop/stop-all/delete).
//
// Messages are a sealed union: every variant implements the unexported
// marker method, so a type switch over Message is exhaustive and decode
// is the only place an unknown tag can surface (as a *DecodeError).
package wire
