package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/config"
	"github.com/cskr/pubsub/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// EventPublisher represents an interface that provides an event publisher.
type EventPublisher interface {
	// Publish publishes an event to the event stream.
	Publish(ev bluetooth.Event)
}

// EventSubscriber represents an interface that provides an event subscriber.
type EventSubscriber interface {
	// Subscribe subscribes to events from the event stream.
	// If no event identifiers are provided, all events are subscribed to.
	Subscribe(ids ...bluetooth.EventID) *Subscription
}

// EventHandler represents an interface that provides an event publisher and subscriber.
type EventHandler interface {
	EventPublisher
	EventSubscriber
}

// Bus is an ordered, multi-subscriber event stream.
// Events are delivered to each subscriber in publish order. A slow subscriber
// does not block publishing or delivery to other subscribers.
type Bus struct {
	ps *pubsub.PubSub[uint, bluetooth.Event]

	subscriptions *xsync.MapOf[int64, *Subscription]
	ids           atomic.Int64

	lossyQueueSize int
	log            logrus.FieldLogger

	closed atomic.Bool
	mu     sync.RWMutex
}

// Option configures a Bus.
type Option func(b *Bus, buffer *int)

// WithSubscriberBuffer sets the capacity of each subscriber's inbound channel.
func WithSubscriberBuffer(size int) Option {
	return func(_ *Bus, buffer *int) {
		if size > 0 {
			*buffer = size
		}
	}
}

// WithLossyQueueSize sets the number of queued lossy events per subscriber.
func WithLossyQueueSize(size int) Option {
	return func(b *Bus, _ *int) {
		if size > 0 {
			b.lossyQueueSize = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Bus, _ *int) {
		if log != nil {
			b.log = log
		}
	}
}

// New returns a new event bus, sized with the configuration defaults
// unless overridden by options.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscriptions:  xsync.NewMapOf[int64, *Subscription](),
		lossyQueueSize: config.DefaultLossyQueueSize,
		log:            logrus.StandardLogger(),
	}

	buffer := config.DefaultSubscriberBuffer
	for _, opt := range opts {
		opt(b, &buffer)
	}

	b.ps = pubsub.New[uint, bluetooth.Event](buffer)
	b.log = b.log.WithField("component", "eventbus")

	return b
}

// Publish publishes an event to all subscribers of its identifier.
func (b *Bus) Publish(ev bluetooth.Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed.Load() {
		return
	}

	b.ps.Pub(ev, ev.EventID().Value())
}

// Subscribe subscribes to events with the provided identifiers, or to all
// events if none are provided. Events published before subscribing are not replayed.
func (b *Bus) Subscribe(ids ...bluetooth.EventID) *Subscription {
	if len(ids) == 0 {
		ids = bluetooth.AllEvents()
	}

	topics := make([]uint, 0, len(ids))
	for _, id := range ids {
		topics = append(topics, id.Value())
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed.Load() {
		return closedSubscription()
	}

	s := newSubscription(b, b.ids.Add(1), b.ps.Sub(topics...))
	b.subscriptions.Store(s.id, s)

	go s.pump()

	return s
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	return b.subscriptions.Size()
}

// Close releases all subscriptions. Events published after Close are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Swap(true) {
		return
	}

	b.subscriptions.Range(func(_ int64, s *Subscription) bool {
		s.stop()
		return true
	})
	b.subscriptions.Clear()

	b.ps.Shutdown()
}

func (b *Bus) unsubscribe(s *Subscription) {
	if _, ok := b.subscriptions.LoadAndDelete(s.id); !ok {
		return
	}

	go func() {
		b.mu.RLock()
		defer b.mu.RUnlock()

		if !b.closed.Load() {
			b.ps.Unsub(s.in)
		}
	}()
}
