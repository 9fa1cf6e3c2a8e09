// Package manager provides the session facade, which composes the radio
// session, the event bus and the peripheral store.
package manager

import (
	"context"
	"sync"
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
	sstore "github.com/bluetuith-org/api-ble/api/helpers/sessionstore"
	"github.com/bluetuith-org/api-ble/radio"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager is the session facade. It is constructed by the composition root
// and passed to every consumer.
type Manager struct {
	cfg config.Configuration

	bus   *eventbus.Bus
	radio *radio.Session

	store    sstore.SessionStore
	storeSub *eventbus.Subscription

	scanTimer *time.Timer
	scanGen   uint64
	scanMu    sync.Mutex

	started atomic.Bool
	closed  atomic.Bool

	log logrus.FieldLogger
}

var _ bluetooth.Session = (*Manager)(nil)

type options struct {
	catalog *attributes.Catalog
	clock   func() time.Time
	log     logrus.FieldLogger
}

// Option configures a Manager.
type Option func(o *options)

// WithCatalog sets the attribute catalog used to name and decode characteristics.
func WithCatalog(catalog *attributes.Catalog) Option {
	return func(o *options) {
		o.catalog = catalog
	}
}

// WithClock sets the time source of the radio session.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger of the manager and its components.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// New returns a new session facade for the provided backend.
func New(cfg config.Configuration, backend bluetooth.Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, fault.Wrap(errorkinds.ErrMethodCall,
			fctx.With(context.Background(), "error_at", "manager-new"),
			ftag.With(ftag.InvalidArgument),
			fmsg.With("No radio backend was provided"),
		)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	bus := eventbus.New(
		eventbus.WithSubscriberBuffer(cfg.SubscriberBuffer),
		eventbus.WithLossyQueueSize(cfg.LossyQueueSize),
		eventbus.WithLogger(o.log),
	)

	m := &Manager{
		cfg: cfg,
		bus: bus,
		radio: radio.New(backend, bus,
			radio.WithCatalog(o.catalog),
			radio.WithNamePrefixes(cfg.NamePrefixes...),
			radio.WithRequestTimeout(cfg.RequestTimeout),
			radio.WithClock(o.clock),
			radio.WithLogger(o.log),
		),
		store: sstore.NewSessionStore(),
		log:   o.log.WithField("component", "manager"),
	}

	return m, nil
}

// Start attaches the radio backend, and starts tracking published events.
func (m *Manager) Start() error {
	if m.closed.Load() {
		return fault.Wrap(errorkinds.ErrSessionNotExist,
			fctx.With(context.Background(), "error_at", "manager-start"),
			ftag.With(errorkinds.FailedPrecondition),
			fmsg.With("Cannot start a closed session"),
		)
	}
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	m.storeSub = m.bus.Subscribe()
	m.storeSub.Listen(m.store.Apply)

	if err := m.radio.Start(); err != nil {
		m.Close()
		return err
	}

	m.log.Info("Session started")

	return nil
}

// Close stops the radio backend, and releases all subscriptions.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.cancelScanTimer()

	err := m.radio.Close()

	m.bus.Close()

	m.log.Info("Session closed")

	return err
}

// Subscribe returns a subscription to the provided events, or to all events if none are provided.
func (m *Manager) Subscribe(ids ...bluetooth.EventID) *eventbus.Subscription {
	return m.bus.Subscribe(ids...)
}

// AdapterState returns the current adapter power state.
func (m *Manager) AdapterState() bluetooth.AdapterState {
	return m.radio.AdapterState()
}

// ScanState returns the current scan state.
func (m *Manager) ScanState() bluetooth.ScanState {
	return m.radio.ScanState()
}

// StartScan starts discovering peripherals which advertise any of the provided
// services. The configured scan timeout applies.
func (m *Manager) StartScan(filter ...uuid.UUID) error {
	return m.StartScanFor(m.cfg.ScanTimeout, filter...)
}

// StartScanFor starts a scan which is stopped after the provided duration.
// A zero duration scans until StopScan is called.
func (m *Manager) StartScanFor(timeout time.Duration, filter ...uuid.UUID) error {
	if timeout < 0 {
		return fault.Wrap(errorkinds.ErrMethodCall,
			fctx.With(context.Background(), "timeout", timeout.String()),
			ftag.With(ftag.InvalidArgument),
			fmsg.With("Scan timeout cannot be negative"),
		)
	}

	m.cancelScanTimer()

	if err := m.radio.StartScan(filter...); err != nil {
		return err
	}

	if timeout > 0 {
		m.armScanTimer(timeout)
	}

	return nil
}

// StopScan stops discovering peripherals, and cancels any pending scan timeout.
func (m *Manager) StopScan() {
	m.cancelScanTimer()
	m.radio.StopScan()
}

// Connect connects to a known peripheral.
func (m *Manager) Connect(id bluetooth.PeripheralID, services ...uuid.UUID) error {
	m.cancelScanTimer()

	return m.radio.Connect(id, services...)
}

// Disconnect disconnects from a peripheral.
func (m *Manager) Disconnect(id bluetooth.PeripheralID) error {
	return m.radio.Disconnect(id)
}

// ReadSignalStrength requests a signal strength measurement of a connected peripheral.
func (m *Manager) ReadSignalStrength(id bluetooth.PeripheralID) error {
	return m.radio.ReadSignalStrength(id)
}

// KnownPeripherals looks up peripherals retained by the radio stack, and
// adds them to the store.
func (m *Manager) KnownPeripherals(ids ...bluetooth.PeripheralID) []bluetooth.PeripheralRecord {
	records := m.radio.KnownPeripherals(ids...)
	for _, record := range records {
		m.store.AddPeripheral(record)
	}

	return records
}

// Peripherals returns a snapshot of all stored peripherals, sorted by identifier.
func (m *Manager) Peripherals() []bluetooth.PeripheralRecord {
	return m.store.Peripherals()
}

// Peripheral returns a snapshot of a stored peripheral.
func (m *Manager) Peripheral(id bluetooth.PeripheralID) (bluetooth.PeripheralRecord, bool) {
	return m.store.Peripheral(id)
}

// Value returns the latest value of a characteristic.
func (m *Manager) Value(id bluetooth.PeripheralID, characteristic uuid.UUID) (bluetooth.CharacteristicValueChanged, bool) {
	return m.store.Value(id, characteristic)
}

func (m *Manager) armScanTimer(timeout time.Duration) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	m.scanGen++
	gen := m.scanGen

	m.scanTimer = time.AfterFunc(timeout, func() {
		m.scanMu.Lock()
		if gen != m.scanGen {
			m.scanMu.Unlock()
			return
		}
		m.scanTimer = nil
		m.scanMu.Unlock()

		m.log.WithField("timeout", timeout).Debug("Scan timeout elapsed")
		m.radio.StopScan()
	})
}

func (m *Manager) cancelScanTimer() {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	m.scanGen++
	if m.scanTimer != nil {
		m.scanTimer.Stop()
		m.scanTimer = nil
	}
}
