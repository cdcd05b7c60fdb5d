package store

import (
	"context"
	"errors"
	"slices"

	"github.com/goccy/go-json"
)

// Well-known keys of the session pair.
const (
	KeyAccessToken = "access_token"
	KeyUser        = "user"

	DefaultNamespace = "aqualens"
)

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("store: backend closed")

// Event is a change written to a namespace by some tab.
type Event struct {
	Namespace string `json:"ns"`
	Key       string `json:"key"`
	Writer    string `json:"writer"`
	Removed   bool   `json:"removed,omitempty"`
}

func encodeEvent(ev Event) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEvent(payload string) (Event, error) {
	var ev Event
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}

// Backend is a storage origin: a string key/value namespace with change
// notifications. Save and Delete are atomic across all given keys and emit
// one Event per key after the write is visible.
type Backend interface {
	Namespace() string
	Load(ctx context.Context, keys ...string) (map[string]string, error)
	Save(ctx context.Context, writer string, kv map[string]string) error
	Delete(ctx context.Context, writer string, keys ...string) error
	// Subscribe delivers every Event of the namespace, including the
	// subscriber's own writes. fn must not block.
	Subscribe(ctx context.Context, fn func(Event)) (cancel func(), err error)
	Close() error
}

func sortedKeys(kv map[string]string) []string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
