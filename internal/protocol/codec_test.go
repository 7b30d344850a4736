package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeJSONEnvelopeShape(t *testing.T) {
	b, err := Encode(CodecJSON, NewShot{X: 10, Y: 20, Username: "alice", Color: "#FF0000", Timestamp: 42})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["type"]) != `"newShot"` {
		t.Errorf("type = %s, want \"newShot\"", raw["type"])
	}

	var shot map[string]any
	if err := json.Unmarshal(raw["data"], &shot); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if shot["username"] != "alice" || shot["x"] != 10.0 {
		t.Errorf("unexpected payload: %v", shot)
	}
}

func TestDecodeEveryKind(t *testing.T) {
	events := []Event{
		ObjectPosition{X: 400, Y: 300},
		NewShot{X: 1, Y: 2, Username: "bob", Color: "#00FF00", Timestamp: 7},
		GameOver{Winner: "bob"},
		GameReset{},
		UserList{{Username: "bob", Color: "#00FF00"}},
	}

	for _, codec := range []Codec{CodecJSON, CodecMsgpack} {
		for _, ev := range events {
			t.Run(string(codec)+"/"+string(ev.Kind()), func(t *testing.T) {
				b, err := Encode(codec, ev)
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}
				got, err := Decode(codec, b)
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if got.Kind() != ev.Kind() {
					t.Fatalf("kind = %s, want %s", got.Kind(), ev.Kind())
				}
				if list, ok := ev.(UserList); ok {
					gotList := got.(UserList)
					if len(gotList) != len(list) || gotList[0] != list[0] {
						t.Errorf("roster = %+v, want %+v", gotList, list)
					}
					return
				}
				if got != ev {
					t.Errorf("decoded %+v, want %+v", got, ev)
				}
			})
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode(CodecJSON, []byte(`{"type":"explode","data":{}}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeTypeClientMessage(t *testing.T) {
	for _, codec := range []Codec{CodecJSON, CodecMsgpack} {
		b, err := EncodeClientMessage(codec, KindResetGame)
		if err != nil {
			t.Fatalf("EncodeClientMessage: %v", err)
		}
		kind, err := DecodeType(codec, b)
		if err != nil {
			t.Fatalf("DecodeType: %v", err)
		}
		if kind != KindResetGame {
			t.Errorf("%s: kind = %q, want %q", codec, kind, KindResetGame)
		}
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{"", CodecJSON, false},
		{"json", CodecJSON, false},
		{"msgpack", CodecMsgpack, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCodec(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCodec(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCodec(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSchemaCoversEveryKind(t *testing.T) {
	schemas := Schema()
	for _, kind := range Kinds() {
		s, ok := schemas[kind]
		if !ok || s == nil {
			t.Errorf("missing schema for %s", kind)
			continue
		}
		if s.Title != string(kind) {
			t.Errorf("schema title = %q, want %q", s.Title, kind)
		}
	}
}
