package store

import "sync"

// mailbox hands keys from backend goroutines to one worker goroutine.
// Pending keys coalesce: a burst of writes to the same key yields one
// delivery, and no key is ever dropped.
type mailbox struct {
	mu      sync.Mutex
	pending []string
	queued  map[string]struct{}

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newMailbox(deliver func(key string)) *mailbox {
	m := &mailbox{
		queued: make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go m.run(deliver)
	return m
}

func (m *mailbox) post(key string) {
	m.mu.Lock()
	if _, ok := m.queued[key]; !ok {
		m.queued[key] = struct{}{}
		m.pending = append(m.pending, key)
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run(deliver func(key string)) {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		clear(m.queued)
		m.mu.Unlock()

		for _, k := range batch {
			select {
			case <-m.done:
				return
			default:
			}
			deliver(k)
		}
	}
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}
