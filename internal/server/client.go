package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zordsman/zordnet"
	"github.com/zordsman/zordnet/internal/processor"
)

// Client is one connected peer: the socket, its message processor and the
// negotiated secondary-transport state. The event loop owns receive,
// dispatch and flush; Send and the accessors are safe to call from handlers
// and, for Send, from other goroutines.
type Client struct {
	id         string
	conn       net.Conn
	proc       *processor.Processor[*Client]
	remoteAddr string
	limiter    *rate.Limiter

	mu           sync.Mutex
	channel      int // -1 until net.udp negotiation succeeds
	udpAddr      *net.UDPAddr
	lastActivity time.Time
	closing      bool
	closeReason  error
}

func newClient(conn net.Conn, cfg *Config) *Client {
	c := &Client{
		id:           uuid.New().String(),
		conn:         conn,
		remoteAddr:   conn.RemoteAddr().String(),
		channel:      -1,
		lastActivity: time.Now(),
	}
	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		c.limiter = rate.NewLimiter(cfg.RateLimit.MessagesPerSecond, cfg.RateLimit.Burst)
	}
	c.proc = processor.New[*Client](conn, processor.Config{
		RecvBufferSize: cfg.RecvBufferSize,
		ReadTimeout:    pollGrace,
		WriteTimeout:   cfg.WriteTimeout,
		OnHandlerFault: func(msgType string, err error) {
			if cfg.OnHandlerFault != nil {
				cfg.OnHandlerFault(c, msgType, err)
			}
		},
		OnProtocolError: func(err error) {
			if cfg.OnProtocolError != nil {
				cfg.OnProtocolError(c, err)
			}
		},
	})
	return c
}

// ID returns the identifier assigned at accept time.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the peer's network address.
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// Send enqueues a message for this client. The event loop transmits it at
// the end of the tick, in Send order.
func (c *Client) Send(msgType string, entity any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return zordnet.ErrConnectionClosed
	}
	return c.proc.Send(msgType, entity)
}

// enqueueFrame queues an already-serialized frame, used for broadcasts.
// Closing clients are skipped; they are no longer active.
func (c *Client) enqueueFrame(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closing {
		c.proc.EnqueueFrame(frame)
	}
}

// flush drains the egress queue to the socket.
func (c *Client) flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc.Flush()
}

// Channel returns the reserved secondary-transport channel id, if any.
func (c *Client) Channel() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel < 0 {
		return 0, false
	}
	return c.channel, true
}

// bindChannel records a successful net.udp negotiation.
func (c *Client) bindChannel(id int, addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = id
	c.udpAddr = addr
}

// boundChannel returns the channel id and datagram address, or -1 and nil.
func (c *Client) boundChannel() (int, *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel, c.udpAddr
}

// LastActivity returns the time data was last received from the peer.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Close marks the connection for teardown at the end of the current tick.
func (c *Client) Close() {
	c.closeWith(zordnet.ErrConnectionClosed)
}

// closeWith marks the client for teardown, keeping the first reason.
func (c *Client) closeWith(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closing {
		c.closing = true
		c.closeReason = reason
	}
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Client) reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}
