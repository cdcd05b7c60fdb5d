package session

import "sync"

// listener delivers Sessions to one subscriber on its own goroutine, in
// transition order, without ever blocking the controller.
type listener struct {
	fn func(Session)

	mu    sync.Mutex
	queue []Session

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newListener(fn func(Session)) *listener {
	l := &listener{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *listener) push(s Session) {
	l.mu.Lock()
	l.queue = append(l.queue, s)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}

		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, s := range batch {
			select {
			case <-l.done:
				return
			default:
			}
			l.fn(s)
		}
	}
}

func (l *listener) stop() { l.once.Do(func() { close(l.done) }) }
