package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoundTrip checks that parse(serialize(T, E)) yields exactly one
// message with type T and an entity structurally equal to E.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msgType string
		entity  any
	}{
		{"string entity", "chat.message", "hello"},
		{"number entity", "net.udp", 5000},
		{"null entity", "net.ping", nil},
		{"object entity", "chat.message", map[string]any{"text": "hi", "from": "zord"}},
		{"array entity", "mob.spawn", []any{1.0, 2.0, "slime"}},
		{"nested entity", "level.state", map[string]any{"tiles": []any{map[string]any{"x": 1.0}}}},
		{"bool entity", "debug.enabled", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frame, err := Serialize(tt.msgType, tt.entity)
			require.NoError(t, err)
			assert.Equal(t, byte(Delimiter), frame[len(frame)-1], "frame must end with the delimiter")

			msgs, consumed, errs := Parse(frame)
			require.Empty(t, errs)
			require.Len(t, msgs, 1)
			assert.Equal(t, len(frame), consumed)
			assert.Equal(t, tt.msgType, msgs[0].Type)

			var got any
			require.NoError(t, json.Unmarshal(msgs[0].Entity, &got))
			want, _ := json.Marshal(tt.entity)
			var wantVal any
			require.NoError(t, json.Unmarshal(want, &wantVal))
			assert.Equal(t, wantVal, got)
		})
	}
}

func TestSerializeEmptyType(t *testing.T) {
	t.Parallel()

	_, err := Serialize("", 42)
	assert.Error(t, err)
}

func TestSerializeUnencodableEntity(t *testing.T) {
	t.Parallel()

	_, err := Serialize("bad", make(chan int))
	assert.Error(t, err)
}

func TestParseMultipleFrames(t *testing.T) {
	t.Parallel()

	buf := []byte(`{"type":"a","entity":1} {"type":"b","entity":2} {"type":"c","entity":3} `)
	msgs, consumed, errs := Parse(buf)
	require.Empty(t, errs)
	require.Len(t, msgs, 3)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, "a", msgs[0].Type)
	assert.Equal(t, "b", msgs[1].Type)
	assert.Equal(t, "c", msgs[2].Type)
}

// TestParseIncompleteTail checks the partial-frame policy: complete leading
// frames come out, the incomplete tail is retained byte for byte.
func TestParseIncompleteTail(t *testing.T) {
	t.Parallel()

	head := `{"type":"a","entity":1} `
	tail := `{"type":"b","enti`
	msgs, consumed, errs := Parse([]byte(head + tail))
	require.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Type)
	assert.Equal(t, len(head), consumed)
}

// TestParseByteConservation feeds a frame split at every possible boundary
// and checks that retaining the unconsumed tail reconstructs the stream.
func TestParseByteConservation(t *testing.T) {
	t.Parallel()

	frame := []byte(`{"type":"chat.message","entity":{"text":"hi there"}} `)
	for cut := 0; cut <= len(frame); cut++ {
		buf := append([]byte(nil), frame[:cut]...)
		msgs, consumed, errs := Parse(buf)
		require.Empty(t, errs, "cut %d", cut)

		// Retain the tail, append the rest, parse again.
		rest := append(buf[consumed:], frame[cut:]...)
		more, consumed2, errs := Parse(rest)
		require.Empty(t, errs, "cut %d", cut)
		msgs = append(msgs, more...)

		require.Len(t, msgs, 1, "cut %d", cut)
		assert.Equal(t, "chat.message", msgs[0].Type)
		assert.Equal(t, len(frame), consumed+consumed2)
	}
}

func TestParseSkipsFramesWithoutStringType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		buf  string
	}{
		{"missing type", `{"entity":1} `},
		{"numeric type", `{"type":42,"entity":1} `},
		{"empty type", `{"type":"","entity":1} `},
		{"non-object top level", `[1,2,3] `},
		{"bare string", `"hello" `},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := []byte(tt.buf + `{"type":"ok","entity":null} `)
			msgs, consumed, errs := Parse(buf)
			require.Len(t, errs, 1, "skip must be reported")
			require.Len(t, msgs, 1, "valid frame after the skipped one must survive")
			assert.Equal(t, "ok", msgs[0].Type)
			assert.Equal(t, len(buf), consumed, "skipped frame bytes must still be consumed")
		})
	}
}

func TestParseMalformedConsumesRemainder(t *testing.T) {
	t.Parallel()

	head := `{"type":"a","entity":1} `
	buf := []byte(head + `{"type":} {"type":"b","entity":2} `)
	msgs, consumed, errs := Parse(buf)
	require.Len(t, errs, 1)
	require.Len(t, msgs, 1, "frames before the syntax error are still delivered")
	assert.Equal(t, "a", msgs[0].Type)
	assert.Equal(t, len(buf), consumed, "unrecoverable remainder must be consumed, not retained")
}

func TestParseWhitespaceOnly(t *testing.T) {
	t.Parallel()

	buf := []byte("   \n\t  ")
	msgs, consumed, errs := Parse(buf)
	assert.Empty(t, msgs)
	assert.Empty(t, errs)
	assert.Equal(t, len(buf), consumed, "pure whitespace must not pin the buffer")
}

func TestParseAbsentEntityIsNull(t *testing.T) {
	t.Parallel()

	msgs, _, errs := Parse([]byte(`{"type":"ping"} `))
	require.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, "null", string(msgs[0].Entity))
}

func TestParseEmptyBuffer(t *testing.T) {
	t.Parallel()

	msgs, consumed, errs := Parse(nil)
	assert.Empty(t, msgs)
	assert.Zero(t, consumed)
	assert.Empty(t, errs)
}

func TestSerializeForwardsRawEntity(t *testing.T) {
	t.Parallel()

	frame, err := Serialize("echo", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"echo","entity":{"a":1}} `, string(frame))
}

func BenchmarkParse(b *testing.B) {
	frame, _ := Serialize("chat.message", map[string]string{"text": "benchmark"})
	buf := append(append(append([]byte(nil), frame...), frame...), frame...)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Parse(buf)
	}
}

func BenchmarkSerialize(b *testing.B) {
	entity := map[string]string{"text": "benchmark"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Serialize("chat.message", entity)
	}
}
