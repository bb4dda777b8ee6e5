package e2e_test

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

// Helper to write one frame to the server.
func writeFrame(t *testing.T, conn net.Conn, msgType string, entity any) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{"type": msgType, "entity": entity})
	if err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
	frame = append(frame, ' ')
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
}

// Helper to read one frame off the connection.
func readFrame(t *testing.T, dec *json.Decoder, conn net.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env struct {
		Type   string          `json:"type"`
		Entity json.RawMessage `json:"entity"`
	}
	if err := dec.Decode(&env); err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	return env.Type, env.Entity
}
