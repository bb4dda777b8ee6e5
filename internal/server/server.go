// Package server implements the connection-managing event loop: it accepts
// clients up to a capacity limit, drives every client's message processor
// once per tick in a fixed receive -> dispatch -> flush order, arbitrates
// the secondary-transport channel pool and provides the built-in protocol
// handlers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zordsman/zordnet"
	"github.com/zordsman/zordnet/internal/channel"
	"github.com/zordsman/zordnet/internal/gateway"
	"github.com/zordsman/zordnet/internal/processor"
	"github.com/zordsman/zordnet/internal/protocol"
)

// pollGrace bounds each readiness probe (accept, per-client read, datagram
// read). It must be positive so probes see data that is already pending.
const pollGrace = time.Millisecond

// maxDatagramsPerTick bounds how many inbound datagrams one tick drains.
const maxDatagramsPerTick = 64

// RateLimitConfig defines per-client inbound rate limiting.
type RateLimitConfig struct {
	// MessagesPerSecond is the sustained token refill rate. Tokens are spent
	// per read probe, so this effectively caps how often a client's socket
	// is drained.
	MessagesPerSecond rate.Limit
	// Burst is the token bucket capacity.
	Burst int
	// Enabled determines if rate limiting is active.
	Enabled bool
}

// DefaultRateLimitConfig allows 100 reads per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit disables rate limiting.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// Config configures a Server. Zero values fall back to defaults; see
// DefaultConfig.
type Config struct {
	// Addr is the primary (stream) listen address.
	Addr string
	// UDPAddr is the secondary-transport bind address.
	UDPAddr string
	// WebSocketAddr, when non-empty, additionally serves WebSocket clients
	// on this address; they join the same event loop as TCP clients.
	WebSocketAddr string
	// CheckOrigin validates WebSocket upgrade origins.
	CheckOrigin gateway.CheckOriginFn

	// MaxClients caps concurrent connections; further connections are
	// closed immediately without entering the active set.
	MaxClients int
	// MaxChannels is the secondary-transport channel pool size. Defaults to
	// MaxClients.
	MaxChannels int
	// RecvBufferSize is the fixed per-connection inbound buffer capacity.
	RecvBufferSize int
	// TickInterval paces the event loop.
	TickInterval time.Duration
	// WriteTimeout bounds each flush write; a stalled peer is torn down.
	WriteTimeout time.Duration
	// RateLimit applies per-client inbound rate limiting. Nil disables it.
	RateLimit *RateLimitConfig

	// MapName and MapData are the loaded map served to clients that ask for
	// it. The server treats the payload as opaque.
	MapName string
	MapData []byte

	// OnConnect is called when a client enters the active set.
	OnConnect func(client zordnet.Client)
	// OnRejected is called when a connection is refused at accept time and
	// never enters the active set. The reason is ErrServerFull.
	OnRejected func(remoteAddr string, reason error)
	// OnDisconnect is called after a client is torn down, with the reason.
	OnDisconnect func(client zordnet.Client, reason error)
	// OnProtocolError observes skipped or malformed frames. The connection
	// continues.
	OnProtocolError func(client zordnet.Client, err error)
	// OnHandlerFault observes isolated handler failures.
	OnHandlerFault func(client zordnet.Client, msgType string, err error)
	// OnDatagram receives secondary-transport payloads from clients with a
	// negotiated channel. Framing is the caller's concern.
	OnDatagram func(client zordnet.Client, payload []byte)
	// OnTick runs at the end of every tick with the active clients, e.g.
	// for caller-defined idle eviction via Client.LastActivity.
	OnTick func(clients []zordnet.Client)
}

// DefaultConfig returns a Config with the stock ports and limits.
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":4544",
		UDPAddr:        fmt.Sprintf(":%d", zordnet.DefaultUDPPort),
		MaxClients:     32,
		RecvBufferSize: zordnet.DefaultRecvBufferSize,
		TickInterval:   50 * time.Millisecond,
		WriteTimeout:   10 * time.Second,
		RateLimit:      DefaultRateLimitConfig(),
	}
}

// Server implements zordnet.Server.
type Server struct {
	cfg      Config
	channels *channel.Allocator

	mu       sync.Mutex
	running  bool
	clients  []*Client
	handlers map[string][]processor.Handler[*Client]
	ln       *net.TCPListener
	udp      *net.UDPConn
	gw       *gateway.Gateway
	cancel   context.CancelFunc
	loopDone chan struct{}

	udpBuf []byte
}

// New creates a server and registers the built-in protocol handlers. The
// configuration is copied; later changes to cfg have no effect.
func New(cfg *Config) *Server {
	c := *DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.MaxClients <= 0 {
		c.MaxClients = 32
	}
	if c.MaxChannels <= 0 {
		c.MaxChannels = c.MaxClients
	}
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = zordnet.DefaultRecvBufferSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.UDPAddr == "" {
		c.UDPAddr = fmt.Sprintf(":%d", zordnet.DefaultUDPPort)
	}

	s := &Server{
		cfg:      c,
		channels: channel.NewAllocator(c.MaxChannels),
		handlers: make(map[string][]processor.Handler[*Client]),
		udpBuf:   make([]byte, 64*1024),
	}
	s.AddHandler(zordnet.MsgNetUDP, s.handleNetUDP)
	if len(c.MapData) > 0 {
		s.AddHandler(zordnet.MsgMapRequest, s.handleMapRequest)
	}
	return s
}

// Start binds the sockets and begins ticking in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return zordnet.ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln.(*net.TCPListener)

	udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.UDPAddr)
	if err == nil {
		s.udp, err = net.ListenUDP("udp", udpAddr)
	}
	if err != nil {
		s.ln.Close()
		return fmt.Errorf("listen udp %s: %w", s.cfg.UDPAddr, err)
	}

	if s.cfg.WebSocketAddr != "" {
		s.gw = gateway.New(s.cfg.WebSocketAddr, s.cfg.CheckOrigin)
		if err := s.gw.Start(); err != nil {
			s.ln.Close()
			s.udp.Close()
			return fmt.Errorf("websocket gateway: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.running = true
	go s.run(loopCtx)
	return nil
}

// Stop shuts the event loop down and tears every connection down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.loopDone
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound primary listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// UDPAddr returns the bound secondary-transport address, or nil when
// stopped.
func (s *Server) UDPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udp == nil {
		return nil
	}
	return s.udp.LocalAddr()
}

// WebSocketAddr returns the gateway's bound address, or "" without one.
func (s *Server) WebSocketAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gw == nil {
		return ""
	}
	return s.gw.Addr()
}

// ClientCount returns the number of active connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ChannelsFree returns the number of unowned secondary channels.
func (s *Server) ChannelsFree() int {
	return s.channels.Free()
}

// AddHandler registers a handler for a message type on every current and
// future client. Safe before Start and from within handlers; not safe from
// other goroutines while the loop is running.
func (s *Server) AddHandler(msgType string, handler zordnet.Handler) {
	s.addHandler(msgType, func(_ processor.Sender, entity json.RawMessage, c *Client) error {
		return handler(c, entity)
	})
}

// AddMutedHandler registers a handler without the ability to respond. It
// shares the registry with regular handlers; its send capability is a no-op.
func (s *Server) AddMutedHandler(msgType string, handler zordnet.MutedHandler) {
	s.addHandler(msgType, func(_ processor.Sender, entity json.RawMessage, _ *Client) error {
		return handler(entity)
	})
}

func (s *Server) addHandler(msgType string, handler processor.Handler[*Client]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[msgType] = append(s.handlers[msgType], handler)
	for _, c := range s.clients {
		c.proc.AddHandler(msgType, handler)
	}
}

// SendAll enqueues the same message onto every active client's egress
// queue. The entity is serialized once; if that fails, nothing is enqueued
// anywhere.
func (s *Server) SendAll(msgType string, entity any) error {
	frame, err := protocol.Serialize(msgType, entity)
	if err != nil {
		return err
	}
	for _, c := range s.snapshot() {
		c.enqueueFrame(frame)
	}
	return nil
}

// SendDatagram transmits a payload over the secondary transport to a client
// with a negotiated channel.
func (s *Server) SendDatagram(client zordnet.Client, payload []byte) error {
	c, ok := client.(*Client)
	if !ok {
		return fmt.Errorf("foreign client %q", client.ID())
	}
	_, addr := c.boundChannel()
	if addr == nil {
		return zordnet.ErrNoChannel
	}
	s.mu.Lock()
	udp := s.udp
	s.mu.Unlock()
	if udp == nil {
		return zordnet.ErrConnectionClosed
	}
	_, err := udp.WriteToUDP(payload, addr)
	return err
}

// run is the event loop. One tick is accept -> receive-all -> datagrams ->
// dispatch-all -> flush-all -> teardown; the order is fixed because
// handlers enqueue egress that the same tick's flush is expected to send.
func (s *Server) run(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Server) tick() {
	s.acceptConnections()

	clients := s.snapshot()

	// Receive phase: one bounded read probe per active client.
	for _, c := range clients {
		if c.isClosing() {
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			// Budget exhausted: defer the read. The bytes stay in the
			// socket, nothing is lost.
			continue
		}
		n, err := c.proc.Receive()
		if n > 0 {
			c.touch()
		}
		if err != nil {
			c.closeWith(err)
		}
	}

	s.pollDatagrams()

	// Dispatch phase: clients torn down by receive still get their final
	// messages delivered before teardown.
	for _, c := range clients {
		c.proc.Dispatch(c)
	}

	// Flush phase: everything handlers enqueued this tick goes out now.
	for _, c := range clients {
		if err := c.flush(); err != nil {
			c.closeWith(err)
		}
	}

	s.reap()

	if s.cfg.OnTick != nil {
		s.cfg.OnTick(s.activeClients())
	}
}

// acceptConnections admits all currently pending connections, from the TCP
// listener and the WebSocket gateway alike. Beyond MaxClients a connection
// is closed immediately: it never enters the active set and consumes no
// channel.
func (s *Server) acceptConnections() {
	s.ln.SetDeadline(time.Now().Add(pollGrace))
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			break // deadline reached or listener closed
		}
		s.admit(conn)
	}
	if s.gw == nil {
		return
	}
	for {
		select {
		case conn := <-s.gw.Accept():
			s.admit(conn)
		default:
			return
		}
	}
}

func (s *Server) admit(conn net.Conn) {
	s.mu.Lock()
	if len(s.clients) >= s.cfg.MaxClients {
		s.mu.Unlock()
		remote := conn.RemoteAddr().String()
		conn.Close()
		if s.cfg.OnRejected != nil {
			s.cfg.OnRejected(remote, zordnet.ErrServerFull)
		}
		return
	}
	c := newClient(conn, &s.cfg)
	for msgType, handlers := range s.handlers {
		for _, h := range handlers {
			c.proc.AddHandler(msgType, h)
		}
	}
	s.clients = append(s.clients, c)
	s.mu.Unlock()

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(c)
	}
}

// reap tears down every client marked closing this tick: the channel is
// released, the socket closed and the client removed from the active set.
// No partial-teardown state survives into the next tick.
func (s *Server) reap() {
	s.mu.Lock()
	var gone []*Client
	kept := s.clients[:0]
	for _, c := range s.clients {
		if c.isClosing() {
			gone = append(gone, c)
		} else {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(s.clients); i++ {
		s.clients[i] = nil
	}
	s.clients = kept
	s.mu.Unlock()

	for _, c := range gone {
		if id, ok := c.Channel(); ok {
			s.channels.Release(id)
		}
		c.conn.Close()
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(c, c.reason())
		}
	}
}

// shutdown closes the sockets and tears down every remaining client.
func (s *Server) shutdown() {
	s.mu.Lock()
	clients := s.clients
	s.clients = nil
	ln, udp, gw := s.ln, s.udp, s.gw
	s.ln, s.udp, s.gw = nil, nil, nil
	s.running = false
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(zordnet.ErrConnectionClosed)
		if id, ok := c.Channel(); ok {
			s.channels.Release(id)
		}
		c.conn.Close()
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(c, c.reason())
		}
	}

	ln.Close()
	udp.Close()
	if gw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw.Stop(ctx)
	}
}

func (s *Server) snapshot() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Client(nil), s.clients...)
}

func (s *Server) activeClients() []zordnet.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]zordnet.Client, len(s.clients))
	for i, c := range s.clients {
		out[i] = c
	}
	return out
}

// pollDatagrams drains pending secondary-transport payloads and routes each
// to the client whose negotiated address sent it. Datagrams from unknown
// addresses are dropped.
func (s *Server) pollDatagrams() {
	if s.cfg.OnDatagram == nil {
		return
	}
	s.mu.Lock()
	udp := s.udp
	s.mu.Unlock()
	if udp == nil {
		return
	}
	for i := 0; i < maxDatagramsPerTick; i++ {
		udp.SetReadDeadline(time.Now().Add(pollGrace))
		n, addr, err := udp.ReadFromUDP(s.udpBuf)
		if err != nil {
			return // nothing pending, or socket closed
		}
		if c := s.clientByUDPAddr(addr); c != nil {
			payload := append([]byte(nil), s.udpBuf[:n]...)
			s.cfg.OnDatagram(c, payload)
		}
	}
}

func (s *Server) clientByUDPAddr(addr *net.UDPAddr) *Client {
	for _, c := range s.snapshot() {
		_, bound := c.boundChannel()
		if bound != nil && bound.Port == addr.Port && bound.IP.Equal(addr.IP) {
			return c
		}
	}
	return nil
}

// handleNetUDP implements the built-in net.udp negotiation: the entity must
// be a well-formed port number; a channel is allocated and bound to the
// client's IP and that port. Malformed input or an exhausted pool tears the
// connection down rather than leaving it half-negotiated.
func (s *Server) handleNetUDP(client zordnet.Client, entity json.RawMessage) error {
	c := client.(*Client)

	var port int
	if err := json.Unmarshal(entity, &port); err != nil || port < 1 || port > 65535 {
		c.closeWith(zordnet.ErrInvalidPort)
		return fmt.Errorf("%w: entity %.32q", zordnet.ErrInvalidPort, entity)
	}

	host, _, err := net.SplitHostPort(c.remoteAddr)
	if err != nil {
		c.closeWith(err)
		return fmt.Errorf("net.udp: peer address %q: %w", c.remoteAddr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		c.closeWith(zordnet.ErrInvalidPort)
		return fmt.Errorf("net.udp: cannot derive IP from %q", c.remoteAddr)
	}

	// Renegotiation keeps the channel and just moves the port.
	if id, ok := c.Channel(); ok {
		c.bindChannel(id, &net.UDPAddr{IP: ip, Port: port})
		return nil
	}

	id, err := s.channels.Allocate()
	if err != nil {
		c.closeWith(err)
		return err
	}
	c.bindChannel(id, &net.UDPAddr{IP: ip, Port: port})
	return nil
}

// handleMapRequest serves the opaque map payload supplied at construction.
func (s *Server) handleMapRequest(client zordnet.Client, _ json.RawMessage) error {
	return client.Send(zordnet.MsgMapLevel, map[string]any{
		"name": s.cfg.MapName,
		"data": s.cfg.MapData,
	})
}
