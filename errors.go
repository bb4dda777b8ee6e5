package zordnet

import "errors"

// Error kinds surfaced by the protocol core. The server never aborts the
// process on any of these; transport and resource errors lead to connection
// teardown, everything else is contained to the message or handler that
// caused it.
var (
	// ErrPeerClosed reports that the remote end closed the connection.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrConnectionClosed reports an operation on a connection that is
	// already marked for teardown.
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrServerFull is the reason a new connection is rejected when the
	// configured client capacity is reached.
	ErrServerFull = errors.New("server at client capacity")

	// ErrChannelsExhausted reports that every secondary-transport channel is
	// currently owned.
	ErrChannelsExhausted = errors.New("no free secondary channels")

	// ErrInvalidPort reports a net.udp negotiation whose entity is not a
	// well-formed port number.
	ErrInvalidPort = errors.New("invalid port number")

	// ErrNoChannel reports a datagram send to a client that has not
	// negotiated a secondary channel.
	ErrNoChannel = errors.New("client has no reserved channel")

	// ErrEmptyType reports an attempt to send a message without a type.
	ErrEmptyType = errors.New("message type must not be empty")

	// ErrServerAlreadyRunning is returned by Start on a running server.
	ErrServerAlreadyRunning = errors.New("server already running")
)
