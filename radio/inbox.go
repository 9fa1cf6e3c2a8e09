package radio

import "sync"

// inbox is an unbounded FIFO of work for the session's owner goroutine.
// Pushing never blocks, so hardware callbacks may be delivered from
// within a backend request which the owner goroutine issued.
type inbox struct {
	queue  []func()
	signal chan struct{}
	closed bool

	mu sync.Mutex
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

// push appends work to the inbox. It returns false if the inbox is closed.
func (i *inbox) push(fn func()) bool {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return false
	}
	i.queue = append(i.queue, fn)
	i.mu.Unlock()

	select {
	case i.signal <- struct{}{}:
	default:
	}

	return true
}

// wait blocks until work is available, and returns all queued work.
// It returns false once the inbox is closed and drained.
func (i *inbox) wait() ([]func(), bool) {
	for {
		i.mu.Lock()
		if len(i.queue) > 0 {
			work := i.queue
			i.queue = nil
			i.mu.Unlock()

			return work, true
		}
		if i.closed {
			i.mu.Unlock()
			return nil, false
		}
		i.mu.Unlock()

		<-i.signal
	}
}

func (i *inbox) close() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	select {
	case i.signal <- struct{}{}:
	default:
	}
}
