package store

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryOrigin is an in-process Backend. Several Stores built over the same
// MemoryOrigin behave like browser tabs sharing one origin.
type MemoryOrigin struct {
	ns string

	mu     sync.Mutex
	data   map[string]string
	subs   map[uint64]func(Event)
	nextID uint64
	fail   error
	closed bool
}

// NewMemoryOrigin returns an empty origin. An empty ns selects DefaultNamespace.
func NewMemoryOrigin(ns string) *MemoryOrigin {
	if ns == "" {
		ns = DefaultNamespace
	}
	return &MemoryOrigin{
		ns:   ns,
		data: make(map[string]string),
		subs: make(map[uint64]func(Event)),
	}
}

// FailWith makes every subsequent Load, Save and Delete return err (nil restores).
func (o *MemoryOrigin) FailWith(err error) {
	o.mu.Lock()
	o.fail = err
	o.mu.Unlock()
}

// Put writes raw values without emitting events, as a process that crashed
// mid-write would leave them.
func (o *MemoryOrigin) Put(kv map[string]string) {
	o.mu.Lock()
	maps.Copy(o.data, kv)
	o.mu.Unlock()
}

func (o *MemoryOrigin) Namespace() string { return o.ns }

func (o *MemoryOrigin) check() error {
	if o.closed {
		return ErrClosed
	}
	return o.fail
}

func (o *MemoryOrigin) Load(ctx context.Context, keys ...string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.check(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := o.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (o *MemoryOrigin) Save(ctx context.Context, writer string, kv map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	if err := o.check(); err != nil {
		o.mu.Unlock()
		return err
	}
	maps.Copy(o.data, kv)
	subs := o.subscribersLocked()
	o.mu.Unlock()

	for _, k := range slices.Sorted(maps.Keys(kv)) {
		o.emit(subs, Event{Namespace: o.ns, Key: k, Writer: writer})
	}
	return nil
}

func (o *MemoryOrigin) Delete(ctx context.Context, writer string, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	if err := o.check(); err != nil {
		o.mu.Unlock()
		return err
	}
	var removed []string
	for _, k := range keys {
		if _, ok := o.data[k]; ok {
			delete(o.data, k)
			removed = append(removed, k)
		}
	}
	subs := o.subscribersLocked()
	o.mu.Unlock()

	slices.Sort(removed)
	for _, k := range removed {
		o.emit(subs, Event{Namespace: o.ns, Key: k, Writer: writer, Removed: true})
	}
	return nil
}

func (o *MemoryOrigin) Subscribe(_ context.Context, fn func(Event)) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}, nil
}

func (o *MemoryOrigin) Close() error {
	o.mu.Lock()
	o.closed = true
	clear(o.subs)
	o.mu.Unlock()
	return nil
}

func (o *MemoryOrigin) subscribersLocked() []func(Event) {
	return slices.Collect(maps.Values(o.subs))
}

func (o *MemoryOrigin) emit(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
