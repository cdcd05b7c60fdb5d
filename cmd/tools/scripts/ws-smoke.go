// Package main provides a CI-friendly WebSocket smoke test for the aqualens
// sync relay.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - repeated hello is refused without dropping the session
//   - unknown frame types are refused
//   - a hello for a foreign namespace is rejected and closed
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"aqualens/cmd/internal/realtime"
)

const maxReadBytes = 1 << 16

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/sync", "relay WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		ns      = flag.String("ns", "aqualens", "session store namespace served by the relay")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustHello(root, a, *ns, *timeout)

	if *verbose {
		fmt.Printf("connected: A=%s origin=%q\n", a.sessionID, *origin)
	}

	mustSend(root, a, realtime.TypeHello, realtime.HelloPayload{Namespace: *ns}, *timeout)
	mustAssertError(root, a, "already_joined", *timeout)

	mustSend(root, a, realtime.TypeStorageChanged, realtime.StorageChangedPayload{Namespace: *ns, Key: "user"}, *timeout)
	mustAssertError(root, a, "unsupported", *timeout)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)
	mustSend(root, b, realtime.TypeHello, realtime.HelloPayload{Namespace: *ns + "-smoke-foreign"}, *timeout)
	mustAssertError(root, b, "hello_failed", *timeout)
	mustAssertClosed(root, b, websocket.StatusPolicyViolation, *timeout)

	fmt.Printf("OK: session=%s ns=%s\n", a.sessionID, *ns)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{realtime.Subprotocol},
	})
	if err != nil {
		fatalf("%s dial: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != realtime.Subprotocol {
		closeWS(conn)
		fatalf("%s subprotocol mismatch: got=%q want=%q", name, got, realtime.Subprotocol)
	}
	return &smokeClient{name: name, conn: conn}
}

func mustHello(parent context.Context, c *smokeClient, ns string, stepTimeout time.Duration) {
	mustSend(parent, c, realtime.TypeHello, realtime.HelloPayload{Namespace: ns, TabID: "smoke-" + c.name}, stepTimeout)

	env := mustRead(parent, c, stepTimeout)
	if env.Type != realtime.TypeHelloAck {
		fatalf("%s hello: got type=%s want=%s (%s)", c.name, env.Type, realtime.TypeHelloAck, env.Payload)
	}
	var ack realtime.HelloAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		fatalf("%s hello.ack payload: %v", c.name, err)
	}
	if ack.SessionID == "" || ack.Namespace != ns {
		fatalf("%s hello.ack: session=%q ns=%q", c.name, ack.SessionID, ack.Namespace)
	}
	c.sessionID = ack.SessionID
}

func mustSend(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("%s marshal %s: %v", c.name, typ, err)
	}
	now := time.Now().UTC()
	id, err := realtime.NewEnvelopeID(now)
	if err != nil {
		fatalf("%s envelope id: %v", c.name, err)
	}
	frame, err := json.Marshal(realtime.Envelope{V: realtime.Version, Type: typ, ID: id, TS: now, Payload: raw})
	if err != nil {
		fatalf("%s marshal envelope: %v", c.name, err)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		fatalf("%s write %s: %v", c.name, typ, err)
	}
}

func mustRead(parent context.Context, c *smokeClient, stepTimeout time.Duration) realtime.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	if err != nil {
		fatalf("%s read: %v", c.name, err)
	}
	var env realtime.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		fatalf("%s decode: %v", c.name, err)
	}
	if err := env.Validate(); err != nil {
		fatalf("%s invalid envelope: %v", c.name, err)
	}
	return env
}

func mustAssertError(parent context.Context, c *smokeClient, code string, stepTimeout time.Duration) {
	env := mustRead(parent, c, stepTimeout)
	if env.Type != realtime.TypeError {
		fatalf("%s: got type=%s want=%s", c.name, env.Type, realtime.TypeError)
	}
	var p realtime.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("%s error payload: %v", c.name, err)
	}
	if p.Code != code {
		fatalf("%s: got error code=%q want=%q (%s)", c.name, p.Code, code, p.Message)
	}
}

func mustAssertClosed(parent context.Context, c *smokeClient, want websocket.StatusCode, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, _, err := c.conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != want {
		fatalf("%s: close status=%v want=%v (err=%v)", c.name, got, want, err)
	}
}

func closeWS(c *websocket.Conn) {
	_ = c.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
