// Package processor implements per-connection message handling: a bounded
// inbound buffer, ingress and egress FIFOs and a type-indexed handler
// registry, driven as receive -> dispatch -> send -> flush by the owner of
// the connection.
package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/zordsman/zordnet"
	"github.com/zordsman/zordnet/internal/protocol"
)

// Sender is the capability handlers use to enqueue responses. It is
// implemented by the Processor itself.
type Sender interface {
	Send(msgType string, entity any) error
}

// Handler is a callback registered for a message type. It receives a Sender
// for responses, the message entity and the per-dispatch argument passed to
// Dispatch (for a server this identifies the client the message came from).
type Handler[T any] func(reply Sender, entity json.RawMessage, arg T) error

// MutedHandler is a handler without a Sender, so it cannot enqueue
// responses. Muted handlers share the registry with regular handlers; see
// AddMutedHandler.
type MutedHandler[T any] func(entity json.RawMessage, arg T) error

// Config carries the knobs for a Processor. Zero values fall back to
// defaults.
type Config struct {
	// RecvBufferSize is the fixed inbound buffer capacity in bytes.
	RecvBufferSize int
	// ReadTimeout bounds the readiness probe in Receive. It must be small
	// but positive: an already-expired deadline can make the runtime report
	// a timeout without attempting the read, which would starve a ready
	// connection.
	ReadTimeout time.Duration
	// WriteTimeout bounds each write during Flush so a stalled peer cannot
	// block the event loop forever. A timeout is treated as a fatal
	// transport failure.
	WriteTimeout time.Duration
	// OnHandlerFault is called when a handler invocation returns an error or
	// panics. May be nil.
	OnHandlerFault func(msgType string, err error)
	// OnProtocolError is called for each unusable or malformed frame the
	// parser skipped. May be nil.
	OnProtocolError func(err error)
}

// Processor owns one connection's buffering, queueing and dispatching. It is
// not safe for concurrent use; a single event loop is expected to drive it.
//
// The type parameter T is the per-dispatch argument threaded through to
// every handler invocation.
type Processor[T any] struct {
	conn     net.Conn
	buf      []byte // len = bytes held, cap = fixed limit
	ingress  []protocol.Message
	egress   [][]byte // serialized frames awaiting Flush
	handlers map[string][]Handler[T]
	cfg      Config
}

// New creates a Processor for a connected socket.
func New[T any](conn net.Conn, cfg Config) *Processor[T] {
	if cfg.RecvBufferSize <= 0 {
		cfg.RecvBufferSize = zordnet.DefaultRecvBufferSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Processor[T]{
		conn:     conn,
		buf:      make([]byte, 0, cfg.RecvBufferSize),
		handlers: make(map[string][]Handler[T]),
		cfg:      cfg,
	}
}

// AddHandler registers a handler for a message type. Multiple handlers may
// be registered for one type; each is called once per message, in
// registration order.
func (p *Processor[T]) AddHandler(msgType string, handler Handler[T]) {
	p.handlers[msgType] = append(p.handlers[msgType], handler)
}

// AddMutedHandler registers a handler that cannot send. It is stored as a
// regular handler whose send capability is simply never exposed to the
// wrapped function.
func (p *Processor[T]) AddMutedHandler(msgType string, handler MutedHandler[T]) {
	p.AddHandler(msgType, func(_ Sender, entity json.RawMessage, arg T) error {
		return handler(entity, arg)
	})
}

// Receive performs one best-effort, non-blocking read into the free part of
// the inbound buffer and parses any complete frames into the ingress queue.
// It returns the number of bytes read.
//
// A full buffer makes Receive a no-op (backpressure; no data is lost). A
// would-block read is also a no-op. A zero-length read means the peer closed
// the connection and is reported as ErrPeerClosed; any other read failure is
// fatal and must lead to teardown by the caller. Bytes read alongside a
// fatal condition are still parsed so the final messages are not lost.
func (p *Processor[T]) Receive() (int, error) {
	free := cap(p.buf) - len(p.buf)
	if free == 0 {
		return 0, nil
	}

	// A near-immediate deadline turns the blocking read into a readiness
	// probe: ready data is returned at once, an idle socket costs at most
	// ReadTimeout.
	if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return 0, fmt.Errorf("receive: %w", err)
	}
	n, err := p.conn.Read(p.buf[len(p.buf) : len(p.buf)+free])
	if n > 0 {
		p.buf = p.buf[:len(p.buf)+n]
		p.parseBuffer()
	}
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return n, nil // nothing ready
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe):
			return n, zordnet.ErrPeerClosed
		default:
			return n, fmt.Errorf("receive: %w", err)
		}
	}
	if n == 0 {
		return 0, zordnet.ErrPeerClosed
	}
	return n, nil
}

// parseBuffer extracts complete frames from the buffer into the ingress
// queue and drops the consumed prefix, keeping any incomplete tail.
func (p *Processor[T]) parseBuffer() {
	msgs, consumed, errs := protocol.Parse(p.buf)
	if consumed > 0 {
		p.buf = p.buf[:copy(p.buf, p.buf[consumed:])]
	}
	p.ingress = append(p.ingress, msgs...)
	if p.cfg.OnProtocolError != nil {
		for _, err := range errs {
			p.cfg.OnProtocolError(err)
		}
	}
}

// Dispatch drains the entire ingress queue in order, invoking every handler
// registered for each message's type. Each queued message is delivered
// exactly once; messages without handlers are dropped silently. Handler
// errors and panics are contained per invocation and reported through the
// fault hook, never aborting the drain.
func (p *Processor[T]) Dispatch(arg T) {
	for i := 0; i < len(p.ingress); i++ {
		msg := p.ingress[i]
		p.ingress[i] = protocol.Message{}
		for _, handler := range p.handlers[msg.Type] {
			p.invoke(handler, msg, arg)
		}
	}
	p.ingress = p.ingress[:0]
}

func (p *Processor[T]) invoke(handler Handler[T], msg protocol.Message, arg T) {
	defer func() {
		if r := recover(); r != nil {
			p.fault(msg.Type, fmt.Errorf("handler panic: %v", r))
		}
	}()
	if err := handler(p, msg.Entity, arg); err != nil {
		p.fault(msg.Type, err)
	}
}

func (p *Processor[T]) fault(msgType string, err error) {
	if p.cfg.OnHandlerFault != nil {
		p.cfg.OnHandlerFault(msgType, err)
	}
}

// Send encodes a message and appends it to the egress queue. It never
// blocks and preserves call order through Flush.
func (p *Processor[T]) Send(msgType string, entity any) error {
	frame, err := protocol.Serialize(msgType, entity)
	if err != nil {
		return err
	}
	p.egress = append(p.egress, frame)
	return nil
}

// EnqueueFrame appends an already-serialized frame to the egress queue. The
// server uses this to broadcast one encoding to many connections.
func (p *Processor[T]) EnqueueFrame(frame []byte) {
	p.egress = append(p.egress, frame)
}

// Flush writes the entire egress queue to the connection in order. Short
// writes are retried until the frame is complete. A write failure aborts the
// flush and is returned as a fatal transport error; the unsent remainder
// stays queued so the caller can inspect it before teardown.
func (p *Processor[T]) Flush() error {
	for i := 0; i < len(p.egress); i++ {
		frame := p.egress[i]
		sent := 0
		for sent < len(frame) {
			if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
				p.compactEgress(i, frame[sent:])
				return fmt.Errorf("flush: %w", err)
			}
			n, err := p.conn.Write(frame[sent:])
			sent += n
			if err != nil {
				p.compactEgress(i, frame[sent:])
				return fmt.Errorf("flush: %w", err)
			}
		}
	}
	p.egress = p.egress[:0]
	return nil
}

// compactEgress drops the frames sent before index i and keeps the unsent
// remainder of the frame that failed.
func (p *Processor[T]) compactEgress(i int, remainder []byte) {
	p.egress[i] = remainder
	n := copy(p.egress, p.egress[i:])
	for j := n; j < len(p.egress); j++ {
		p.egress[j] = nil
	}
	p.egress = p.egress[:n]
}

// PendingIngress returns the number of parsed messages awaiting Dispatch.
func (p *Processor[T]) PendingIngress() int { return len(p.ingress) }

// PendingEgress returns the number of frames awaiting Flush.
func (p *Processor[T]) PendingEgress() int { return len(p.egress) }

// Buffered returns the number of unparsed bytes held in the inbound buffer.
func (p *Processor[T]) Buffered() int { return len(p.buf) }

// BufferedBytes returns a copy of the unparsed inbound bytes. Test and
// observability helper.
func (p *Processor[T]) BufferedBytes() []byte {
	return append([]byte(nil), p.buf...)
}
