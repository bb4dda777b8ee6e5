// Package gateway bridges WebSocket clients onto the server's stream
// protocol. Each upgraded connection is adapted to a net.Conn through an
// in-memory pipe with a pair of pump goroutines, so the event loop drives
// browser clients exactly like TCP ones.
package gateway

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pumpChunk    = 4096
)

// CheckOriginFn validates the origin of a WebSocket upgrade request. Return
// true to allow the connection.
type CheckOriginFn = func(r *http.Request) bool

// AllOrigins returns a CheckOriginFn that accepts every origin. Development
// use only.
func AllOrigins() CheckOriginFn {
	return func(*http.Request) bool { return true }
}

// Gateway accepts WebSocket connections on /ws and exposes each as a
// net.Conn carrying the raw frame stream. The binary message boundaries of
// the WebSocket layer dissolve into the stream; the JSON frame delimiters
// make that safe.
type Gateway struct {
	addr     string
	upgrader websocket.Upgrader
	server   *http.Server
	conns    chan net.Conn
}

// New creates a gateway listening on addr once started.
func New(addr string, checkOrigin CheckOriginFn) *Gateway {
	g := &Gateway{
		addr:  addr,
		conns: make(chan net.Conn, 16),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleUpgrade)
	g.server = &http.Server{Addr: addr, Handler: mux}
	return g
}

// Start binds the listener and serves upgrades in the background. Binding
// errors are returned synchronously.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return err
	}
	g.addr = ln.Addr().String()
	go g.server.Serve(ln)
	return nil
}

// Stop closes the listener. Connections already handed to the event loop
// stay alive until the loop tears them down; closing the bridged conn shuts
// the underlying WebSocket.
func (g *Gateway) Stop(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

// Addr returns the bound listen address.
func (g *Gateway) Addr() string { return g.addr }

// Accept returns the channel new bridged connections arrive on.
func (g *Gateway) Accept() <-chan net.Conn { return g.conns }

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	loop, pump := net.Pipe()
	bridged := &bridgeConn{Conn: loop, remote: wsAddr(r.RemoteAddr)}

	select {
	case g.conns <- bridged:
		go readPump(ws, pump)
		go writePump(ws, pump)
	default:
		// Accept queue full; the event loop is not keeping up.
		ws.Close()
		loop.Close()
		pump.Close()
	}
}

// readPump copies WebSocket messages into the pipe. The pipe write blocks
// until the event loop reads, which backpressures the WebSocket peer.
func readPump(ws *websocket.Conn, pump net.Conn) {
	defer pump.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if _, err := pump.Write(data); err != nil {
			return
		}
	}
}

// writePump copies bytes flushed by the event loop out as binary messages.
func writePump(ws *websocket.Conn, pump net.Conn) {
	defer ws.Close()
	buf := make([]byte, pumpChunk)
	for {
		n, err := pump.Read(buf)
		if n > 0 {
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// bridgeConn is the event loop's end of the pipe, reporting the WebSocket
// peer's address instead of the pipe's placeholder one.
type bridgeConn struct {
	net.Conn
	remote net.Addr
}

func (c *bridgeConn) RemoteAddr() net.Addr { return c.remote }

type wsAddr string

func (a wsAddr) Network() string { return "ws" }
func (a wsAddr) String() string  { return string(a) }
