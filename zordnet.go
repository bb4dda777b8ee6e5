package zordnet

import (
	"context"
	"encoding/json"
	"net"
	"time"
)

// Server drives many client connections under a single cooperative event
// loop. Each tick the server accepts pending connections, reads whatever
// bytes are available on every active socket, dispatches the parsed messages
// to the registered handlers, and flushes every connection's send queue.
//
// All messages exchanged with clients are whitespace-delimited JSON objects
// of the form {"type": <string>, "entity": <any>}.
//
// Example usage:
//
//	import "github.com/zordsman/zordnet/tcp"
//
//	cfg := tcp.DefaultConfig()
//	cfg.Addr = ":4544"
//	server := tcp.New(cfg)
//
//	// Register a handler for "chat.message"
//	server.AddHandler("chat.message", func(client zordnet.Client, entity json.RawMessage) error {
//	    return server.SendAll("chat.message", entity)
//	})
//
//	server.Start(ctx)
type Server interface {
	// Start binds the listening sockets and begins ticking the event loop in
	// the background. The loop runs until Stop is called or the context is
	// cancelled.
	//
	// Returns an error if the server is already running or if a socket
	// cannot be bound.
	Start(ctx context.Context) error

	// Stop shuts the event loop down, closes the listening sockets and tears
	// down every active connection, releasing any reserved channels.
	Stop(ctx context.Context) error

	// AddHandler registers a handler for a message type.
	//
	// When a message of the given type is received from any client, every
	// handler registered for that type is invoked once per message, in
	// registration order, with the sending client and the message entity.
	// The entity is raw JSON; the handler owns decoding and validation of
	// its shape.
	//
	// A handler error (or panic) is isolated to that invocation: it is
	// reported through the OnHandlerFault hook and processing of the
	// remaining queued messages continues.
	//
	// Example:
	//
	//	server.AddHandler("net.ping", func(client zordnet.Client, entity json.RawMessage) error {
	//	    return client.Send("net.pong", nil)
	//	})
	AddHandler(msgType string, handler Handler)

	// AddMutedHandler registers a handler that cannot send responses. It is
	// stored in the same registry as regular handlers, wrapped so that its
	// send capability is a no-op. This mostly exists to save keystrokes for
	// observers that only read messages.
	AddMutedHandler(msgType string, handler MutedHandler)

	// SendAll enqueues the same message onto every active connection's send
	// queue before returning. The message is either enqueued to all active
	// clients or, if the entity cannot be encoded, to none of them.
	SendAll(msgType string, entity any) error

	// SendDatagram transmits a payload over the unreliable secondary
	// transport to a client that has negotiated a channel via "net.udp".
	// Returns ErrNoChannel if the client has no reserved channel. Payload
	// framing on the secondary transport is the caller's concern.
	SendDatagram(client Client, payload []byte) error

	// Addr returns the address the primary listener is bound to, or nil if
	// the server is not running. Useful when listening on port 0.
	Addr() net.Addr

	// ClientCount returns the number of active connections.
	ClientCount() int
}

// Client represents one connected peer and is the send capability passed to
// message handlers. Clients are owned by the server's event loop; Send only
// enqueues, the actual write happens at the end of the tick.
type Client interface {
	// ID returns a unique identifier assigned when the client connects. It
	// remains constant for the lifetime of the connection.
	ID() string

	// RemoteAddr returns the client's remote network address, typically in
	// the form "IP:port".
	RemoteAddr() string

	// Send enqueues a message for the client. It never blocks; messages are
	// transmitted in Send order when the event loop flushes the connection.
	//
	// Returns an error if the type is empty, the entity cannot be encoded
	// or the connection is already closed.
	Send(msgType string, entity any) error

	// Channel returns the secondary-transport channel id reserved for this
	// client, if any. The id is only valid until the connection closes.
	Channel() (int, bool)

	// LastActivity returns the time data was last received from the peer.
	// The server applies no timeout policy of its own; callers that want
	// idle eviction can check this from the OnTick hook and Close stale
	// clients.
	LastActivity() time.Time

	// Close marks the connection for teardown. The event loop performs the
	// actual disconnect at the end of the current tick, releasing any
	// reserved channel.
	Close()
}

// Handler is a callback bound to a message type. It receives the client the
// message came from, which doubles as the capability to send responses, and
// the message entity as raw JSON.
type Handler func(client Client, entity json.RawMessage) error

// MutedHandler is a handler without the ability to respond. See
// Server.AddMutedHandler.
type MutedHandler func(entity json.RawMessage) error
