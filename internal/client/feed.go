package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"

	"fax-hunt/internal/protocol"
)

// Feed is a subscription to the realtime channel.
type Feed struct {
	conn  *websocket.Conn
	codec protocol.Codec
}

// Dial connects to a /ws endpoint, requesting codec frames.
func Dial(ctx context.Context, wsURL string, codec protocol.Codec) (*Feed, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parsing feed url: %w", err)
	}
	if codec == "" {
		codec = protocol.CodecJSON
	}
	q := u.Query()
	q.Set("codec", string(codec))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing feed: %w", err)
	}
	return &Feed{conn: conn, codec: codec}, nil
}

// Next blocks for the next event.
func (f *Feed) Next(ctx context.Context) (protocol.Event, error) {
	_, data, err := f.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(f.codec, data)
}

// RequestReset asks the server to reset an ended game. Servers ignore it
// unless client resets are enabled.
func (f *Feed) RequestReset(ctx context.Context) error {
	msg, err := protocol.EncodeClientMessage(f.codec, protocol.KindResetGame)
	if err != nil {
		return err
	}
	typ := websocket.MessageText
	if f.codec.Binary() {
		typ = websocket.MessageBinary
	}
	return f.conn.Write(ctx, typ, msg)
}

func (f *Feed) Close() error {
	return f.conn.Close(websocket.StatusNormalClosure, "")
}
