package eventbus

import (
	"sync"

	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/puzpuzpuz/xsync/v3"
)

// Subscription describes a subscriber of the event stream.
type Subscription struct {
	// C delivers events in publish order. It is closed when the
	// subscription or the bus is closed.
	C <-chan bluetooth.Event

	id  int64
	bus *Bus

	in  chan bluetooth.Event
	out chan bluetooth.Event

	done     chan struct{}
	stopOnce sync.Once

	dropped *xsync.Counter
}

func newSubscription(bus *Bus, id int64, in chan bluetooth.Event) *Subscription {
	out := make(chan bluetooth.Event)

	return &Subscription{
		C:       out,
		id:      id,
		bus:     bus,
		in:      in,
		out:     out,
		done:    make(chan struct{}),
		dropped: xsync.NewCounter(),
	}
}

func closedSubscription() *Subscription {
	ch := make(chan bluetooth.Event)
	close(ch)

	s := &Subscription{C: ch, done: make(chan struct{}), dropped: xsync.NewCounter()}
	s.stop()

	return s
}

// Close unsubscribes from the event stream.
func (s *Subscription) Close() {
	if s.bus != nil {
		s.bus.unsubscribe(s)
	}

	s.stop()
}

// Dropped returns the number of lossy events which were dropped
// because the subscriber did not keep up.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Value()
}

// Listen invokes the handler for each event on a separate goroutine, until
// the subscription is closed. A panicking handler does not stop delivery.
func (s *Subscription) Listen(handler func(ev bluetooth.Event)) {
	go func() {
		for ev := range s.C {
			s.dispatch(handler, ev)
		}
	}()
}

func (s *Subscription) dispatch(handler func(ev bluetooth.Event), ev bluetooth.Event) {
	defer func() {
		if r := recover(); r != nil && s.bus != nil {
			s.bus.log.WithFields(map[string]any{
				"subscription": s.id,
				"event":        ev.EventID().String(),
				"panic":        r,
			}).Error("Event handler panicked")
		}
	}()

	handler(ev)
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// pump moves events from the inbound channel into a private queue and
// forwards them to the subscriber, so that the publisher never waits on
// the subscriber. The inbound channel is drained until it is closed.
func (s *Subscription) pump() {
	var queue eventQueue

	in := s.in
	out := s.out
	done := s.done

	for {
		if in == nil && (out == nil || queue.len() == 0) {
			if out != nil {
				close(out)
			}

			return
		}

		var send chan<- bluetooth.Event
		var next bluetooth.Event
		if out != nil && queue.len() > 0 {
			send = out
			next = queue.peek()
		}

		select {
		case ev, ok := <-in:
			if !ok {
				in = nil
				continue
			}

			if out == nil {
				continue
			}

			if queue.push(ev, s.bus.lossyQueueSize) {
				s.dropped.Inc()
			}

		case send <- next:
			queue.pop()

		case <-done:
			done = nil
			queue = eventQueue{}

			close(out)
			out = nil
		}
	}
}

// eventQueue is an unbounded FIFO of events, in which the number of
// lossy events is bounded.
type eventQueue struct {
	events []bluetooth.Event
	lossy  int
}

func (q *eventQueue) len() int {
	return len(q.events)
}

func (q *eventQueue) peek() bluetooth.Event {
	return q.events[0]
}

func (q *eventQueue) pop() {
	if q.events[0].EventID().Lossy() {
		q.lossy--
	}

	q.events[0] = nil
	q.events = q.events[1:]
}

// push appends an event. If the number of queued lossy events exceeds the
// limit, the oldest lossy event is dropped and true is returned.
func (q *eventQueue) push(ev bluetooth.Event, limit int) bool {
	q.events = append(q.events, ev)
	if !ev.EventID().Lossy() {
		return false
	}

	q.lossy++
	if limit <= 0 || q.lossy <= limit {
		return false
	}

	for i, queued := range q.events {
		if queued.EventID().Lossy() {
			q.events = append(q.events[:i], q.events[i+1:]...)
			q.lossy--

			return true
		}
	}

	return false
}
