package e2e_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/zordsman/zordnet"
	"github.com/zordsman/zordnet/tcp"
)

func TestBasicEcho(t *testing.T) {
	t.Parallel()

	cfg := tcp.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.UDPAddr = "127.0.0.1:0"
	cfg.TickInterval = 5 * time.Millisecond
	server := tcp.New(cfg)

	// Handler receives the client and entity and enqueues the response;
	// the same tick's flush sends it.
	server.AddHandler("echo", func(client zordnet.Client, entity json.RawMessage) error {
		return client.Send("echo", entity)
	})

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(stopCtx)
	}()

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	writeFrame(t, conn, "echo", "Hello!")

	dec := json.NewDecoder(conn)
	msgType, entity := readFrame(t, dec, conn)
	if msgType != "echo" {
		t.Errorf("type = %q, want %q", msgType, "echo")
	}
	var got string
	if err := json.Unmarshal(entity, &got); err != nil {
		t.Fatalf("Failed to decode entity: %v", err)
	}
	if got != "Hello!" {
		t.Errorf("entity = %q, want %q", got, "Hello!")
	}
}

func TestBroadcastBetweenClients(t *testing.T) {
	t.Parallel()

	cfg := tcp.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.UDPAddr = "127.0.0.1:0"
	cfg.TickInterval = 5 * time.Millisecond
	server := tcp.New(cfg)

	server.AddHandler("chat.message", func(client zordnet.Client, entity json.RawMessage) error {
		return server.SendAll("chat.message", entity)
	})

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(stopCtx)
	}()

	alice, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer alice.Close()

	bob, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer bob.Close()

	// Wait for both clients to be admitted before chatting, so the
	// broadcast reaches bob.
	deadline := time.Now().Add(5 * time.Second)
	for server.ClientCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("clients were not admitted in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	writeFrame(t, alice, "chat.message", map[string]string{"text": "hi bob"})

	for name, conn := range map[string]net.Conn{"alice": alice, "bob": bob} {
		dec := json.NewDecoder(conn)
		msgType, entity := readFrame(t, dec, conn)
		if msgType != "chat.message" {
			t.Errorf("%s: type = %q, want %q", name, msgType, "chat.message")
		}
		var msg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(entity, &msg); err != nil {
			t.Fatalf("%s: failed to decode entity: %v", name, err)
		}
		if msg.Text != "hi bob" {
			t.Errorf("%s: text = %q, want %q", name, msg.Text, "hi bob")
		}
	}
}
