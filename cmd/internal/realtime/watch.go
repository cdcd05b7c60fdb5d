package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"aqualens/cmd/internal/auth/store"
)

// RemoteError is an error envelope sent by the relay.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("realtime: relay error %s: %s", e.Code, e.Message)
}

// WatchOptions configures Watch.
type WatchOptions struct {
	Namespace string
	TabID     string
	// Origin is sent as the Origin header; relays reject connections
	// without one unless configured otherwise.
	Origin string
	// OnReady runs once the relay acknowledged hello. Changes before this
	// point were not relayed, so callers typically re-read the store here.
	OnReady    func(sessionID string)
	HTTPClient *http.Client
}

// Watch connects to the relay at rawURL and calls fn for every storage
// change until ctx is done (returning nil) or the connection fails.
func Watch(ctx context.Context, rawURL string, opts WatchOptions, fn func(store.Event)) error {
	if opts.Namespace == "" {
		opts.Namespace = store.DefaultNamespace
	}

	hdr := http.Header{}
	if opts.Origin != "" {
		hdr.Set("Origin", opts.Origin)
	}

	conn, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPClient:   opts.HTTPClient,
		HTTPHeader:   hdr,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(maxFrameBytes)

	if conn.Subprotocol() != Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return fmt.Errorf("realtime: server did not select %s", Subprotocol)
	}

	hello, err := newEnvelope(TypeHello, HelloPayload{Namespace: opts.Namespace, TabID: opts.TabID}, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := writeEnvelope(ctx, conn, hello, wsDefaultWriteTimeout); err != nil {
		return fmt.Errorf("realtime: hello: %w", err)
	}

	ready := false
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "bye")
				return nil
			}
			return fmt.Errorf("realtime: read: %w", err)
		}

		switch env.Type {
		case TypeHelloAck:
			var p HelloAckPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("realtime: hello.ack: %w", err)
			}
			if !ready && opts.OnReady != nil {
				opts.OnReady(p.SessionID)
			}
			ready = true

		case TypeStorageChanged:
			var p StorageChangedPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("realtime: storage.changed: %w", err)
			}
			fn(p.Event())

		case TypeError:
			var p ErrorPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("realtime: error envelope: %w", err)
			}
			return &RemoteError{Code: p.Code, Message: p.Message}
		}
	}
}

// IsResync reports whether err means the relay dropped this tab so that it
// should reconnect and re-read the store.
func IsResync(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusTryAgainLater
}
