package zordnet

// Reserved message types handled by the server itself.
const (
	// MsgNetUDP is sent by a client to negotiate a secondary-transport
	// channel. The entity must be the port number of the client's UDP
	// socket as an integer.
	MsgNetUDP = "net.udp"

	// MsgMapRequest asks the server for the loaded map. The entity is
	// ignored.
	MsgMapRequest = "map.request"

	// MsgMapLevel is the server's response to MsgMapRequest. The entity is
	// an object with a "name" string and the raw map payload in "data"
	// (base64).
	MsgMapLevel = "map.level"
)

// Wire-level defaults shared by client and server implementations.
const (
	// DefaultRecvBufferSize is the per-connection inbound buffer capacity in
	// bytes. A connection whose buffer is full is simply not read until the
	// parser frees space, so this bounds memory per connection.
	DefaultRecvBufferSize = 1024

	// DefaultUDPPort is the port the server binds its secondary-transport
	// socket to when no UDP address is configured.
	DefaultUDPPort = 4545
)
