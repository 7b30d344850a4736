package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec selects how envelopes are framed on a connection.
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
)

var (
	ErrUnknownCodec = errors.New("unknown codec")
	ErrUnknownEvent = errors.New("unknown event type")
)

// ParseCodec maps a query value to a codec. Empty means JSON.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecJSON:
		return CodecJSON, nil
	case CodecMsgpack:
		return CodecMsgpack, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// Binary reports whether frames should be sent as binary websocket messages.
func (c Codec) Binary() bool {
	return c == CodecMsgpack
}

type outEnvelope struct {
	Type string `json:"type" msgpack:"type"`
	Data any    `json:"data" msgpack:"data"`
}

type jsonEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type msgpackEnvelope struct {
	Type string             `msgpack:"type"`
	Data msgpack.RawMessage `msgpack:"data"`
}

// Encode frames ev as {"type": kind, "data": payload}.
func Encode(c Codec, ev Event) ([]byte, error) {
	env := outEnvelope{Type: string(ev.Kind()), Data: ev}
	switch c {
	case CodecJSON, "":
		return json.Marshal(env)
	case CodecMsgpack:
		return msgpack.Marshal(env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, c)
	}
}

// Decode parses a frame produced by Encode.
func Decode(c Codec, b []byte) (Event, error) {
	kind, raw, err := split(c, b)
	if err != nil {
		return nil, err
	}

	target, ok := newEvent(EventKind(kind))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}
	if len(raw) > 0 {
		if err := unmarshal(c, raw, target); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", kind, err)
		}
	}
	return deref(target), nil
}

// DecodeType returns only the envelope type. Used for client -> server
// messages whose payload the server ignores.
func DecodeType(c Codec, b []byte) (string, error) {
	kind, _, err := split(c, b)
	return kind, err
}

// EncodeClientMessage frames a client -> server message with an empty payload.
func EncodeClientMessage(c Codec, kind string) ([]byte, error) {
	env := outEnvelope{Type: kind, Data: struct{}{}}
	switch c {
	case CodecJSON, "":
		return json.Marshal(env)
	case CodecMsgpack:
		return msgpack.Marshal(env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, c)
	}
}

func split(c Codec, b []byte) (string, []byte, error) {
	switch c {
	case CodecJSON, "":
		var env jsonEnvelope
		if err := json.Unmarshal(b, &env); err != nil {
			return "", nil, fmt.Errorf("decoding envelope: %w", err)
		}
		if string(env.Data) == "null" {
			return env.Type, nil, nil
		}
		return env.Type, env.Data, nil
	case CodecMsgpack:
		var env msgpackEnvelope
		if err := msgpack.Unmarshal(b, &env); err != nil {
			return "", nil, fmt.Errorf("decoding envelope: %w", err)
		}
		return env.Type, env.Data, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownCodec, c)
	}
}

func unmarshal(c Codec, raw []byte, v any) error {
	if c == CodecMsgpack {
		return msgpack.Unmarshal(raw, v)
	}
	return json.Unmarshal(raw, v)
}
