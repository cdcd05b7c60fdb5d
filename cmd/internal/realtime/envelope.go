package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"aqualens/cmd/internal/auth/store"
)

// Protocol constants of the sync relay.
const (
	Subprotocol = "aqualens.sync.v1"
	Version     = 1

	TypeHello          = "hello"
	TypeHelloAck       = "hello.ack"
	TypeStorageChanged = "storage.changed"
	TypeError          = "error"
)

var allowedTypes = map[string]struct{}{
	TypeHello:          {},
	TypeHelloAck:       {},
	TypeStorageChanged: {},
	TypeError:          {},
}

// Envelope is one relay frame.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// HelloPayload opens a relay session for one tab.
type HelloPayload struct {
	Namespace string `json:"ns"`
	TabID     string `json:"tab_id,omitempty"`
}

type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	Namespace string `json:"ns"`
}

// StorageChangedPayload names a key another writer changed. Values are never
// relayed; receivers re-read the store.
type StorageChangedPayload struct {
	Namespace string `json:"ns"`
	Key       string `json:"key"`
	Writer    string `json:"writer"`
	Removed   bool   `json:"removed,omitempty"`
}

func (p StorageChangedPayload) Event() store.Event {
	return store.Event{Namespace: p.Namespace, Key: p.Key, Writer: p.Writer, Removed: p.Removed}
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEnvelope(typ string, payload any, ts time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	id, err := NewEnvelopeID(ts)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts, Payload: raw}, nil
}

func changedEnvelope(ev store.Event, ts time.Time) (Envelope, error) {
	return newEnvelope(TypeStorageChanged, StorageChangedPayload{
		Namespace: ev.Namespace,
		Key:       ev.Key,
		Writer:    ev.Writer,
		Removed:   ev.Removed,
	}, ts)
}
