// Package zordnet implements the networking core of the Zordsman game: a
// typed, JSON-encoded message protocol multiplexed over a stream transport,
// and a connection-managing server that drives many such sessions from one
// cooperative event loop while arbitrating UDP channel slots.
//
// # Architecture
//
// Every message on the wire is a whitespace-delimited JSON object with two
// fields. The `type` field is a string that routes the message to handlers;
// the `entity` field can be any JSON value whose structure is implied by the
// type. The core performs no entity validation, so message handlers must
// implement that themselves.
//
//	{"type": "chat.message", "entity": {"text": "hi"}}
//
// Handlers are registered per message type. Multiple handlers can be
// registered for one type; each is called once per message, in registration
// order. A handler receives the sending client, which doubles as the
// capability to enqueue responses; muted handlers receive only the entity
// and cannot respond.
//
// # Quick Start
//
//	import (
//	    "github.com/zordsman/zordnet"
//	    "github.com/zordsman/zordnet/tcp"
//	)
//
//	cfg := tcp.DefaultConfig()
//	cfg.Addr = ":4544"
//	srv := tcp.New(cfg)
//
//	srv.AddHandler("chat.message", func(client zordnet.Client, entity json.RawMessage) error {
//	    // Broadcast chat to everyone, including the sender.
//	    return srv.SendAll("chat.message", entity)
//	})
//
//	srv.Start(ctx)
//
// # Event Loop
//
// The server runs a single tick loop: accept pending connections, read
// whatever bytes every socket has ready, dispatch all parsed messages,
// flush all queued responses, then tear down failed connections. Responses
// enqueued by a handler are transmitted in the same tick. Message order per
// connection is preserved end to end.
//
// # Secondary Transport
//
// A client reserves a UDP channel slot by sending the reserved "net.udp"
// message with its UDP port number as the entity. Channel slots are a fixed
// pool; when the pool is exhausted the negotiating connection is torn down.
// Datagram payload framing is left to the game layer.
//
// # Limits
//
//   - Per-connection inbound buffer: 1024 bytes by default. A full buffer
//     defers reads instead of growing (bounded memory per connection).
//   - Per-client inbound rate limiting via token bucket.
//   - max_clients cap: connections beyond it are closed on accept.
//   - Write timeout: 10s; a stalled peer is torn down.
//
// # Important
//
//   - Handlers run on the event loop; a blocking handler stalls every
//     connection. Offload slow work and respond on a later tick.
//   - Entities are raw JSON; decode into your own types and validate there.
package zordnet
