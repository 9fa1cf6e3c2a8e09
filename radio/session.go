package radio

import (
	"cmp"
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/attributes"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/config"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/bluetuith-org/api-ble/api/eventbus"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session owns the radio adapter and the state of every tracked peripheral.
// All operations and all backend callbacks are serialized onto a single
// owner goroutine, so that state is never accessed concurrently.
type Session struct {
	backend   bluetooth.Backend
	publisher eventbus.EventPublisher
	catalog   *attributes.Catalog
	prefixes  []string
	timeout   time.Duration
	now       func() time.Time
	log       logrus.FieldLogger

	inbox   *inbox
	stopped chan struct{}
	started atomic.Bool
	closed  atomic.Bool

	// Owned by the loop goroutine.
	adapterState bluetooth.AdapterState
	scanState    bluetooth.ScanState
	scanFilter   []uuid.UUID
	scanSeen     map[bluetooth.PeripheralID]struct{}
	peripherals  map[bluetooth.PeripheralID]*peripheral
}

// Option configures a Session.
type Option func(s *Session)

// WithCatalog sets the attribute catalog used to name and decode characteristics.
func WithCatalog(catalog *attributes.Catalog) Option {
	return func(s *Session) {
		if catalog != nil {
			s.catalog = catalog
		}
	}
}

// WithNamePrefixes sets the name allow-list for discovered peripherals.
// An empty list allows all peripherals.
func WithNamePrefixes(prefixes ...string) Option {
	return func(s *Session) {
		s.prefixes = slices.Clone(prefixes)
	}
}

// WithRequestTimeout sets how long an operation waits for the owner goroutine.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithClock sets the time source for record and value timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger of the session.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// New returns a new radio session which publishes events to the provided publisher.
func New(backend bluetooth.Backend, publisher eventbus.EventPublisher, opts ...Option) *Session {
	s := &Session{
		backend:   backend,
		publisher: publisher,
		catalog:   attributes.Default(),
		prefixes:  slices.Clone(config.DefaultNamePrefixes),
		timeout:   config.DefaultRequestTimeout,
		now:       time.Now,
		log:       logrus.StandardLogger(),

		inbox:   newInbox(),
		stopped: make(chan struct{}),

		adapterState: bluetooth.AdapterUnknown,
		scanState:    bluetooth.ScanStopped,
		scanSeen:     make(map[bluetooth.PeripheralID]struct{}),
		peripherals:  make(map[bluetooth.PeripheralID]*peripheral),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.WithField("component", "radio")

	return s
}

// Start starts the owner goroutine and attaches the session to the backend.
func (s *Session) Start() error {
	if s.closed.Load() {
		return fault.Wrap(errorkinds.ErrSessionNotExist,
			fctx.With(context.Background(), "error_at", "radio-start"),
			ftag.With(errorkinds.FailedPrecondition),
			fmsg.With("Cannot start a closed radio session"),
		)
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	go s.loop()

	if err := s.backend.Start(&handler{s}); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "backend-start"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot start the radio backend"),
		)
	}

	return nil
}

// Close stops the backend and the owner goroutine.
// Operations issued after Close return ErrSessionNotExist.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if s.started.Load() {
		err = s.backend.Stop()
	}

	s.inbox.close()
	if s.started.Load() {
		<-s.stopped
	}

	if err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "backend-stop"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot stop the radio backend"),
		)
	}

	return nil
}

// AdapterState returns the current adapter power state.
func (s *Session) AdapterState() bluetooth.AdapterState {
	state, err := call(s, "adapter-state", func() (bluetooth.AdapterState, error) {
		return s.adapterState, nil
	})
	if err != nil {
		return bluetooth.AdapterUnknown
	}

	return state
}

// ScanState returns the current scan state.
func (s *Session) ScanState() bluetooth.ScanState {
	state, err := call(s, "scan-state", func() (bluetooth.ScanState, error) {
		return s.scanState, nil
	})
	if err != nil {
		return bluetooth.ScanStopped
	}

	return state
}

// StartScan clears the discovery cache and starts discovering peripherals
// which advertise any of the provided services. Calling it while a scan is
// active replaces the filter.
func (s *Session) StartScan(filter ...uuid.UUID) error {
	return s.do("start-scan", func() error {
		return s.startScan(filter)
	})
}

// StopScan stops an active scan. ScanStateChanged(stopped) is published even
// if no scan was active.
func (s *Session) StopScan() {
	_ = s.do("stop-scan", func() error {
		s.stopScan()
		return nil
	})
}

// Connect connects to a tracked peripheral. The provided services are
// discovered once connected, or all services if none are provided.
// Any active scan is stopped first.
func (s *Session) Connect(id bluetooth.PeripheralID, services ...uuid.UUID) error {
	return s.do("connect", func() error {
		return s.connect(id, services)
	})
}

// Disconnect disconnects from a tracked peripheral, or cancels a pending
// connection attempt. Disconnecting an already disconnected peripheral does nothing.
func (s *Session) Disconnect(id bluetooth.PeripheralID) error {
	return s.do("disconnect", func() error {
		return s.disconnect(id)
	})
}

// ReadSignalStrength requests a signal strength measurement of a connected peripheral.
func (s *Session) ReadSignalStrength(id bluetooth.PeripheralID) error {
	return s.do("read-signal-strength", func() error {
		p, err := s.lookup(id, "Cannot read signal strength")
		if err != nil {
			return err
		}

		if p.record.State != bluetooth.StateConnected {
			return s.preconditionError(errorkinds.ErrInvalidState, id, "Peripheral is not connected")
		}

		if err := s.backend.ReadSignalStrength(id); err != nil {
			return fault.Wrap(err,
				fctx.With(context.Background(), "peripheral", id.String()),
				ftag.With(errorkinds.Kind(err)),
				fmsg.With("Cannot read signal strength"),
			)
		}

		return nil
	})
}

// KnownPeripherals looks up peripherals retained by the radio stack, and
// tracks them so that they can be connected to without scanning.
// No discovery events are published for them.
func (s *Session) KnownPeripherals(ids ...bluetooth.PeripheralID) []bluetooth.PeripheralRecord {
	records, _ := call(s, "known-peripherals", func() ([]bluetooth.PeripheralRecord, error) {
		var records []bluetooth.PeripheralRecord
		for _, adv := range s.backend.Retrieve(ids) {
			p := s.track(adv)
			records = append(records, p.record.Clone())
		}

		return records, nil
	})

	return records
}

// Peripherals returns a snapshot of all tracked peripherals, including
// those hidden by the name allow-list.
func (s *Session) Peripherals() []bluetooth.PeripheralRecord {
	records, _ := call(s, "peripherals", func() ([]bluetooth.PeripheralRecord, error) {
		records := make([]bluetooth.PeripheralRecord, 0, len(s.peripherals))
		for _, p := range s.peripherals {
			records = append(records, p.record.Clone())
		}

		return records, nil
	})

	slices.SortFunc(records, func(a, b bluetooth.PeripheralRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return records
}

// Peripheral returns a snapshot of a tracked peripheral.
func (s *Session) Peripheral(id bluetooth.PeripheralID) (bluetooth.PeripheralRecord, bool) {
	record, err := call(s, "peripheral", func() (bluetooth.PeripheralRecord, error) {
		p, ok := s.peripherals[id]
		if !ok {
			return bluetooth.PeripheralRecord{}, errorkinds.ErrNotFound
		}

		return p.record.Clone(), nil
	})

	return record, err == nil
}

// loop drains the inbox until the session is closed.
func (s *Session) loop() {
	defer close(s.stopped)

	for {
		work, ok := s.inbox.wait()
		if !ok {
			return
		}

		for _, fn := range work {
			fn()
		}
	}
}

// do runs fn on the owner goroutine and waits for its error.
func (s *Session) do(op string, fn func() error) error {
	_, err := call(s, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})

	return err
}

type result[T any] struct {
	value T
	err   error
}

// call runs fn on the owner goroutine and waits for its result.
func call[T any](s *Session, op string, fn func() (T, error)) (T, error) {
	var zero T

	if !s.started.Load() || s.closed.Load() {
		return zero, s.sessionError(op)
	}

	reply := make(chan result[T], 1)
	if !s.inbox.push(func() {
		v, err := fn()
		reply <- result[T]{v, err}
	}) {
		return zero, s.sessionError(op)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return r.value, r.err

	case <-s.stopped:
		select {
		case r := <-reply:
			return r.value, r.err
		default:
		}

		return zero, s.sessionError(op)

	case <-timer.C:
		return zero, fault.Wrap(errorkinds.ErrMethodTimeout,
			fctx.With(context.Background(), "operation", op),
			ftag.With(errorkinds.Timeout),
			fmsg.With("Radio session did not respond in time"),
		)
	}
}

// post queues fn on the owner goroutine without waiting.
func (s *Session) post(fn func()) {
	if !s.inbox.push(fn) {
		s.log.Debug("Dropped backend callback after session close")
	}
}

func (s *Session) publish(ev bluetooth.Event) {
	s.publisher.Publish(ev)
}

func (s *Session) sessionError(op string) error {
	return fault.Wrap(errorkinds.ErrSessionNotExist,
		fctx.With(context.Background(), "operation", op),
		ftag.With(errorkinds.FailedPrecondition),
		fmsg.With("Radio session is not running"),
	)
}

func (s *Session) preconditionError(err error, id bluetooth.PeripheralID, msg string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "peripheral", id.String()),
		ftag.With(errorkinds.Kind(err)),
		fmsg.With(msg),
	)
}
