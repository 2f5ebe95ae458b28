package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/gangway/internal/protocol"
)

// SessionURL builds the WebSocket URL for a session against base, e.g.
// ws://127.0.0.1:8080.
func SessionURL(base, host string, cols, rows uint16) string {
	q := url.Values{}
	q.Set("host", host)
	q.Set("cols", fmt.Sprint(cols))
	q.Set("rows", fmt.Sprint(rows))
	return base + "/ws/session?" + q.Encode()
}

// Probe opens a short-lived connection purely to learn whether host will
// demand a password, without committing to a session. It closes the
// connection as soon as it knows; the gateway's normal teardown releases
// whatever backend the probe caused to exist.
func Probe(ctx context.Context, base, host string) (needsPassword bool, err error) {
	conn, _, err := websocket.Dial(ctx, SessionURL(base, host, 80, 24), nil)
	if err != nil {
		return false, fmt.Errorf("probe dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	for {
		typ, frame, err := conn.Read(ctx)
		if err != nil {
			return false, fmt.Errorf("probe read: %w", err)
		}
		if typ == websocket.MessageBinary {
			// Terminal output: the shell came up without a challenge.
			return false, nil
		}
		env, ok := protocol.DecodeControl(frame)
		if !ok {
			continue
		}
		switch env.Type {
		case protocol.TypePasswordRequired:
			return true, nil
		case protocol.TypeReady, protocol.TypeExit:
			return false, nil
		case protocol.TypeError:
			var msg protocol.ErrorMsg
			if jsonErr := json.Unmarshal(frame, &msg); jsonErr == nil && msg.Message != "" {
				return false, errors.New(msg.Message)
			}
			return false, errors.New("session failed")
		}
	}
}
