// Package simulator provides an in-memory radio backend. Requests are
// answered synchronously through the handler, and test hooks inject
// adapter, advertisement, notification and link events.
package simulator

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CharacteristicSpec describes a simulated characteristic.
type CharacteristicSpec struct {
	ID     uuid.UUID
	Read   bool
	Notify bool
	Value  []byte
}

// ServiceSpec describes a simulated service.
type ServiceSpec struct {
	ID              uuid.UUID
	Primary         bool
	Characteristics []CharacteristicSpec
}

// PeripheralSpec describes a simulated peripheral.
type PeripheralSpec struct {
	ID         bluetooth.PeripheralID
	Name       string
	RSSI       int
	Advertised []uuid.UUID
	Services   []ServiceSpec

	// Retained peripherals are returned by Retrieve.
	Retained bool

	// HoldConnect keeps connection requests pending until CompleteConnect is called.
	HoldConnect bool

	FailConnect   error
	FailDiscovery error
}

// Call records a request issued to the backend.
type Call struct {
	Method         string
	Peripheral     bluetooth.PeripheralID
	Service        uuid.UUID
	Characteristic uuid.UUID
	Enable         bool
	Filter         []uuid.UUID
}

type simPeripheral struct {
	spec      PeripheralSpec
	connected bool
	pending   bool
	notifying map[uuid.UUID]bool
}

// Backend is a simulated radio.
type Backend struct {
	handler  bluetooth.Handler
	state    bluetooth.AdapterState
	scanning bool

	peripherals map[bluetooth.PeripheralID]*simPeripheral
	calls       []Call

	log logrus.FieldLogger

	mu sync.Mutex
}

// Option configures a simulated Backend.
type Option func(b *Backend)

// WithAdapterState sets the adapter state which is reported on Start.
func WithAdapterState(state bluetooth.AdapterState) Option {
	return func(b *Backend) {
		b.state = state
	}
}

// WithPeripherals adds simulated peripherals.
func WithPeripherals(specs ...PeripheralSpec) Option {
	return func(b *Backend) {
		for _, spec := range specs {
			b.peripherals[spec.ID] = newSimPeripheral(spec)
		}
	}
}

// WithLogger sets the logger of the backend.
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// New returns a simulated backend, with a powered on adapter by default.
func New(opts ...Option) *Backend {
	b := &Backend{
		state:       bluetooth.AdapterPoweredOn,
		peripherals: make(map[bluetooth.PeripheralID]*simPeripheral),
		log:         logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(b)
	}

	b.log = b.log.WithField("component", "simulator")

	return b
}

func newSimPeripheral(spec PeripheralSpec) *simPeripheral {
	return &simPeripheral{
		spec:      spec,
		notifying: make(map[uuid.UUID]bool),
	}
}

// Start attaches the handler and reports the adapter state.
func (b *Backend) Start(h bluetooth.Handler) error {
	b.mu.Lock()
	b.handler = h
	state := b.state
	b.record(Call{Method: "Start"})
	b.mu.Unlock()

	h.AdapterStateChanged(state)

	return nil
}

// Stop detaches the handler.
func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(Call{Method: "Stop"})
	b.handler = nil
	b.scanning = false

	return nil
}

// StartScan advertises every simulated peripheral.
func (b *Backend) StartScan(filter []uuid.UUID) error {
	b.mu.Lock()
	b.record(Call{Method: "StartScan", Filter: slices.Clone(filter)})
	if b.state != bluetooth.AdapterPoweredOn {
		b.mu.Unlock()
		return fault.Wrap(errorkinds.ErrAdapterNotReady,
			fctx.With(context.Background(), "adapter_state", b.state.String()),
			ftag.With(errorkinds.FailedPrecondition),
			fmsg.With("Simulated adapter is not powered on"),
		)
	}

	b.scanning = true
	h := b.handler
	advs := b.advertisements()
	b.mu.Unlock()

	if h == nil {
		return nil
	}

	for _, adv := range advs {
		h.PeripheralDiscovered(adv)
	}

	return nil
}

// StopScan stops the simulated scan.
func (b *Backend) StopScan() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(Call{Method: "StopScan"})
	b.scanning = false

	return nil
}

// Connect connects to a simulated peripheral, or fails if the peripheral
// is configured to fail.
func (b *Backend) Connect(id bluetooth.PeripheralID) error {
	b.mu.Lock()
	b.record(Call{Method: "Connect", Peripheral: id})

	p, err := b.peripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	h := b.handler
	failure := p.spec.FailConnect
	switch {
	case failure != nil:
		p.connected, p.pending = false, false

	case p.spec.HoldConnect:
		p.pending = true
		b.mu.Unlock()

		return nil

	default:
		p.connected, p.pending = true, false
	}
	b.mu.Unlock()

	if h == nil {
		return nil
	}

	if failure != nil {
		h.PeripheralConnectFailed(id, failure)
	} else {
		h.PeripheralConnected(id)
	}

	return nil
}

// Disconnect disconnects a simulated peripheral, or cancels a pending connection.
func (b *Backend) Disconnect(id bluetooth.PeripheralID) error {
	b.mu.Lock()
	b.record(Call{Method: "Disconnect", Peripheral: id})

	p, err := b.peripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	p.connected, p.pending = false, false
	clear(p.notifying)
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h.PeripheralDisconnected(id, nil)
	}

	return nil
}

// DiscoverServices reports the services of a connected peripheral.
func (b *Backend) DiscoverServices(id bluetooth.PeripheralID, filter []uuid.UUID) error {
	b.mu.Lock()
	b.record(Call{Method: "DiscoverServices", Peripheral: id, Filter: slices.Clone(filter)})

	p, err := b.connectedPeripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	h := b.handler
	failure := p.spec.FailDiscovery

	var services []bluetooth.DiscoveredService
	for _, s := range p.spec.Services {
		if len(filter) > 0 && !slices.Contains(filter, s.ID) {
			continue
		}

		services = append(services, bluetooth.DiscoveredService{ID: s.ID, IsPrimary: s.Primary})
	}
	b.mu.Unlock()

	if h == nil {
		return nil
	}

	if failure != nil {
		h.ServicesDiscovered(id, nil, failure)
	} else {
		h.ServicesDiscovered(id, services, nil)
	}

	return nil
}

// DiscoverCharacteristics reports the characteristics of a service.
func (b *Backend) DiscoverCharacteristics(id bluetooth.PeripheralID, service uuid.UUID) error {
	b.mu.Lock()
	b.record(Call{Method: "DiscoverCharacteristics", Peripheral: id, Service: service})

	p, err := b.connectedPeripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	s, ok := p.service(service)
	if !ok {
		b.mu.Unlock()
		return attributeError(id, service, "Simulated service does not exist")
	}

	characteristics := make([]bluetooth.DiscoveredCharacteristic, 0, len(s.Characteristics))
	for _, c := range s.Characteristics {
		characteristics = append(characteristics, bluetooth.DiscoveredCharacteristic{
			ID:             c.ID,
			SupportsRead:   c.Read,
			SupportsNotify: c.Notify,
		})
	}
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h.CharacteristicsDiscovered(id, service, characteristics, nil)
	}

	return nil
}

// ReadCharacteristic reports the current value of a characteristic.
func (b *Backend) ReadCharacteristic(id bluetooth.PeripheralID, service, characteristic uuid.UUID) error {
	b.mu.Lock()
	b.record(Call{Method: "ReadCharacteristic", Peripheral: id, Service: service, Characteristic: characteristic})

	p, err := b.connectedPeripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	c, ok := p.characteristic(characteristic)
	if !ok {
		b.mu.Unlock()
		return attributeError(id, characteristic, "Simulated characteristic does not exist")
	}

	value := slices.Clone(c.Value)
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h.CharacteristicValueUpdated(id, characteristic, value)
	}

	return nil
}

// SetNotify enables or disables notifications of a characteristic.
func (b *Backend) SetNotify(id bluetooth.PeripheralID, service, characteristic uuid.UUID, enable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(Call{Method: "SetNotify", Peripheral: id, Service: service, Characteristic: characteristic, Enable: enable})

	p, err := b.connectedPeripheral(id)
	if err != nil {
		return err
	}

	if _, ok := p.characteristic(characteristic); !ok {
		return attributeError(id, characteristic, "Simulated characteristic does not exist")
	}

	p.notifying[characteristic] = enable

	return nil
}

// ReadSignalStrength reports the signal strength of a connected peripheral.
func (b *Backend) ReadSignalStrength(id bluetooth.PeripheralID) error {
	b.mu.Lock()
	b.record(Call{Method: "ReadSignalStrength", Peripheral: id})

	p, err := b.connectedPeripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	rssi := p.spec.RSSI
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h.SignalStrengthRead(id, rssi)
	}

	return nil
}

// Retrieve returns the retained peripherals among the provided identifiers.
func (b *Backend) Retrieve(ids []bluetooth.PeripheralID) []bluetooth.Advertisement {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(Call{Method: "Retrieve"})

	var advs []bluetooth.Advertisement
	for _, id := range ids {
		p, ok := b.peripherals[id]
		if !ok || !p.spec.Retained {
			continue
		}

		advs = append(advs, p.advertisement())
	}

	return advs
}

// Add adds a simulated peripheral, replacing any peripheral with the same identifier.
func (b *Backend) Add(spec PeripheralSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.peripherals[spec.ID] = newSimPeripheral(spec)
}

// SetAdapterState changes the adapter state. Losing power stops any scan.
func (b *Backend) SetAdapterState(state bluetooth.AdapterState) {
	b.mu.Lock()
	b.state = state
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h.AdapterStateChanged(state)
	}
}

// Advertise reports a discovery of a simulated peripheral, if a scan is active.
func (b *Backend) Advertise(id bluetooth.PeripheralID) error {
	b.mu.Lock()
	p, err := b.peripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	h := b.handler
	scanning := b.scanning
	adv := p.advertisement()
	b.mu.Unlock()

	if h != nil && scanning {
		h.PeripheralDiscovered(adv)
	}

	return nil
}

// Notify reports a characteristic value notification. The characteristic
// must have notifications enabled.
func (b *Backend) Notify(id bluetooth.PeripheralID, characteristic uuid.UUID, value []byte) error {
	b.mu.Lock()
	p, err := b.connectedPeripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	if !p.notifying[characteristic] {
		b.mu.Unlock()
		return fault.Wrap(errorkinds.ErrInvalidState,
			fctx.With(context.Background(), "peripheral", id.String(), "characteristic", characteristic.String()),
			ftag.With(errorkinds.FailedPrecondition),
			fmsg.With("Notifications are not enabled"),
		)
	}

	h := b.handler
	value = slices.Clone(value)
	b.mu.Unlock()

	if h != nil {
		h.CharacteristicValueUpdated(id, characteristic, value)
	}

	return nil
}

// CompleteConnect completes a held connection request.
func (b *Backend) CompleteConnect(id bluetooth.PeripheralID) error {
	b.mu.Lock()
	p, err := b.peripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	if !p.pending {
		b.mu.Unlock()
		return fault.Wrap(errorkinds.ErrInvalidState,
			fctx.With(context.Background(), "peripheral", id.String()),
			ftag.With(errorkinds.FailedPrecondition),
			fmsg.With("No connection request is pending"),
		)
	}

	p.connected, p.pending = true, false
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h.PeripheralConnected(id)
	}

	return nil
}

// DropLink disconnects a peripheral as if the link was lost.
func (b *Backend) DropLink(id bluetooth.PeripheralID, reason error) error {
	b.mu.Lock()
	p, err := b.peripheral(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	p.connected, p.pending = false, false
	clear(p.notifying)
	h := b.handler
	b.mu.Unlock()

	if h != nil {
		h.PeripheralDisconnected(id, reason)
	}

	return nil
}

// SetRSSI changes the signal strength of a peripheral.
func (b *Backend) SetRSSI(id bluetooth.PeripheralID, rssi int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.peripheral(id)
	if err != nil {
		return err
	}

	p.spec.RSSI = rssi

	return nil
}

// FailConnect makes further connection requests to a peripheral fail.
// A nil reason clears the failure.
func (b *Backend) FailConnect(id bluetooth.PeripheralID, reason error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.peripheral(id)
	if err != nil {
		return err
	}

	p.spec.FailConnect = reason

	return nil
}

// Notifying reports whether notifications are enabled for a characteristic.
func (b *Backend) Notifying(id bluetooth.PeripheralID, characteristic uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.peripherals[id]

	return ok && p.notifying[characteristic]
}

// Calls returns the recorded requests.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.calls)
}

// CallsTo returns the recorded requests of a method.
func (b *Backend) CallsTo(method string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()

	var calls []Call
	for _, c := range b.calls {
		if c.Method == method {
			calls = append(calls, c)
		}
	}

	return calls
}

func (b *Backend) record(c Call) {
	b.calls = append(b.calls, c)
	b.log.WithField("peripheral", c.Peripheral).Trace(c.Method)
}

func (b *Backend) advertisements() []bluetooth.Advertisement {
	advs := make([]bluetooth.Advertisement, 0, len(b.peripherals))
	for _, p := range b.peripherals {
		advs = append(advs, p.advertisement())
	}

	slices.SortFunc(advs, func(a, b bluetooth.Advertisement) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return advs
}

func (b *Backend) peripheral(id bluetooth.PeripheralID) (*simPeripheral, error) {
	p, ok := b.peripherals[id]
	if !ok {
		return nil, fault.Wrap(errorkinds.ErrNotFound,
			fctx.With(context.Background(), "peripheral", id.String()),
			ftag.With(ftag.NotFound),
			fmsg.With("Simulated peripheral does not exist"),
		)
	}

	return p, nil
}

func (b *Backend) connectedPeripheral(id bluetooth.PeripheralID) (*simPeripheral, error) {
	p, err := b.peripheral(id)
	if err != nil {
		return nil, err
	}

	if !p.connected {
		return nil, fault.Wrap(errorkinds.ErrInvalidState,
			fctx.With(context.Background(), "peripheral", id.String()),
			ftag.With(errorkinds.FailedPrecondition),
			fmsg.With("Simulated peripheral is not connected"),
		)
	}

	return p, nil
}

func (p *simPeripheral) advertisement() bluetooth.Advertisement {
	return bluetooth.Advertisement{
		ID:       p.spec.ID,
		Name:     p.spec.Name,
		RSSI:     p.spec.RSSI,
		Services: slices.Clone(p.spec.Advertised),
	}
}

func (p *simPeripheral) service(id uuid.UUID) (ServiceSpec, bool) {
	for _, s := range p.spec.Services {
		if s.ID == id {
			return s, true
		}
	}

	return ServiceSpec{}, false
}

func (p *simPeripheral) characteristic(id uuid.UUID) (CharacteristicSpec, bool) {
	for _, s := range p.spec.Services {
		for _, c := range s.Characteristics {
			if c.ID == id {
				return c, true
			}
		}
	}

	return CharacteristicSpec{}, false
}

func attributeError(id bluetooth.PeripheralID, attribute uuid.UUID, msg string) error {
	return fault.Wrap(errorkinds.ErrNotFound,
		fctx.With(context.Background(), "peripheral", id.String(), "attribute", attribute.String()),
		ftag.With(ftag.NotFound),
		fmsg.With(msg),
	)
}
