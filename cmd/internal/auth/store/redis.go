package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps the pair under "<ns>:<key>" and publishes Events on
// "<ns>:changes". Pair writes run in MULTI/EXEC together with their PUBLISH.
type RedisBackend struct {
	rdb redis.UniversalClient
	ns  string
	log *slog.Logger
}

// NewRedisBackend wraps rdb. The client is owned by the caller unless Close is called.
func NewRedisBackend(rdb redis.UniversalClient, ns string, log *slog.Logger) (*RedisBackend, error) {
	if rdb == nil {
		return nil, fmt.Errorf("store: nil redis client")
	}
	if ns == "" {
		ns = DefaultNamespace
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisBackend{rdb: rdb, ns: ns, log: log}, nil
}

func (b *RedisBackend) Namespace() string { return b.ns }

func (b *RedisBackend) key(k string) string { return b.ns + ":" + k }

func (b *RedisBackend) channel() string { return b.ns + ":changes" }

func (b *RedisBackend) Load(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}

	vals, err := b.rdb.MGet(ctx, full...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (b *RedisBackend) Save(ctx context.Context, writer string, kv map[string]string) error {
	events, err := b.events(writer, false, sortedKeys(kv))
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range kv {
			pipe.Set(ctx, b.key(k), v, 0)
		}
		for _, ev := range events {
			pipe.Publish(ctx, b.channel(), ev)
		}
		return nil
	})
	return err
}

func (b *RedisBackend) Delete(ctx context.Context, writer string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	events, err := b.events(writer, true, keys)
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, full...)
		for _, ev := range events {
			pipe.Publish(ctx, b.channel(), ev)
		}
		return nil
	})
	return err
}

func (b *RedisBackend) events(writer string, removed bool, keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		p, err := encodeEvent(Event{Namespace: b.ns, Key: k, Writer: writer, Removed: removed})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Subscribe waits for the SUBSCRIBE confirmation before returning, so writes
// issued after Subscribe returns are always observed.
func (b *RedisBackend) Subscribe(ctx context.Context, fn func(Event)) (func(), error) {
	ps := b.rdb.Subscribe(ctx, b.channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				b.log.Warn("session.store.redis.event.undecodable", "ns", b.ns, "err", err)
				continue
			}
			fn(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error { return b.rdb.Close() }

// Ping checks connectivity (readiness probes).
func (b *RedisBackend) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }
