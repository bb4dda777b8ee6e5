package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/zordsman/zordnet"
)

// Delimiter separates serialized frames on the wire. Any JSON whitespace is
// accepted between frames when parsing.
const Delimiter = ' '

// Message is one parsed frame. The entity is kept as raw JSON; whoever
// handles the message owns decoding it. Messages are immutable once parsed.
type Message struct {
	Type   string
	Entity json.RawMessage
}

var nullEntity = json.RawMessage("null")

// Parse extracts all complete frames from buf and returns them together with
// the number of leading bytes consumed. Bytes past consumed belong to an
// incomplete trailing frame and must be retained by the caller until more
// data arrives.
//
// A frame only yields a Message if it is a JSON object with a string "type"
// field; an absent "entity" field becomes JSON null. Frames that are
// complete but unusable (non-object top level, missing or non-string type)
// are skipped, still consume their bytes, and are reported in errs.
//
// Partial-frame policy: all complete leading frames are extracted and only
// the incomplete tail is retained. (The alternative, extracting nothing
// until the whole buffer parses, starves a connection that keeps a frame
// half-sent and was rejected here.)
//
// Malformed input: a JSON syntax error makes the next frame boundary
// unrecoverable, so the remainder of the buffer is consumed and reported.
// Complete frames before the error are still returned. Parse never drops or
// duplicates bytes outside these two documented cases.
func Parse(buf []byte) (msgs []Message, consumed int, errs []error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if err == io.EOF {
			// Only trailing whitespace left; it carries no frame data.
			consumed = len(buf)
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// Incomplete trailing frame, wait for the rest.
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("malformed frame, dropping %d buffered bytes: %w", len(buf)-consumed, err))
			consumed = len(buf)
			break
		}
		consumed = int(dec.InputOffset())
		msg, err := decodeFrame(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, consumed, errs
}

// decodeFrame validates one complete top-level JSON value as a message.
func decodeFrame(raw json.RawMessage) (Message, error) {
	if raw[0] != '{' {
		return Message{}, fmt.Errorf("skipping non-object frame %.32q", raw)
	}
	var env struct {
		Type   json.RawMessage `json:"type"`
		Entity json.RawMessage `json:"entity"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("skipping undecodable frame: %w", err)
	}
	if env.Type == nil {
		return Message{}, errors.New("skipping frame without a type field")
	}
	var msgType string
	if err := json.Unmarshal(env.Type, &msgType); err != nil {
		return Message{}, fmt.Errorf("skipping frame with non-string type %.32q", env.Type)
	}
	if msgType == "" {
		return Message{}, errors.New("skipping frame with empty type")
	}
	entity := env.Entity
	if entity == nil {
		entity = nullEntity
	}
	return Message{Type: msgType, Entity: entity}, nil
}

// Serialize encodes a message as {"type": ..., "entity": ...} followed by
// the frame delimiter. The entity may be any JSON-encodable value, including
// a json.RawMessage to forward an entity untouched.
func Serialize(msgType string, entity any) ([]byte, error) {
	if msgType == "" {
		return nil, zordnet.ErrEmptyType
	}
	frame, err := json.Marshal(struct {
		Type   string `json:"type"`
		Entity any    `json:"entity"`
	}{msgType, entity})
	if err != nil {
		return nil, fmt.Errorf("encode %q entity: %w", msgType, err)
	}
	return append(frame, Delimiter), nil
}
