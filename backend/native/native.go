//go:build linux || darwin || windows

package native

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	tinybt "tinygo.org/x/bluetooth"
)

// maxValueSize is the largest attribute value defined by the ATT protocol.
const maxValueSize = 512

// Backend drives the platform's Bluetooth stack. Blocking stack calls are
// issued on their own goroutines, and results are reported through the handler.
type Backend struct {
	adapter *tinybt.Adapter

	handler bluetooth.Handler
	hmu     sync.RWMutex

	power *powerWatcher

	scanning atomic.Bool
	scanID   atomic.Uint64
	filter   atomic.Pointer[[]uuid.UUID]

	// Advertisements seen during scans, keyed by peripheral identifier.
	seen *xsync.MapOf[bluetooth.PeripheralID, seenPeripheral]

	// Connections which are pending or established.
	links *xsync.MapOf[bluetooth.PeripheralID, *link]

	log logrus.FieldLogger
}

type seenPeripheral struct {
	address tinybt.Address
	adv     bluetooth.Advertisement
}

type link struct {
	device    *tinybt.Device
	cancelled bool

	services        map[uuid.UUID]*tinybt.DeviceService
	characteristics map[attributeKey]*tinybt.DeviceCharacteristic

	mu sync.Mutex
}

// attributeKey identifies a characteristic within its service, since
// the same characteristic UUID may appear in more than one service.
type attributeKey struct {
	service, characteristic uuid.UUID
}

// New returns a backend for the default adapter of the platform.
func New(opts ...Option) (bluetooth.Backend, error) {
	o := newOptions(opts)

	return &Backend{
		adapter: tinybt.DefaultAdapter,
		seen:    xsync.NewMapOf[bluetooth.PeripheralID, seenPeripheral](),
		links:   xsync.NewMapOf[bluetooth.PeripheralID, *link](),
		log:     o.log,
	}, nil
}

// Start enables the adapter and reports its state.
func (b *Backend) Start(h bluetooth.Handler) error {
	b.hmu.Lock()
	b.handler = h
	b.hmu.Unlock()

	if err := b.adapter.Enable(); err != nil {
		b.log.WithError(err).Warn("Cannot enable the Bluetooth adapter")
		h.AdapterStateChanged(bluetooth.AdapterUnsupported)

		return nil
	}

	b.adapter.SetConnectHandler(func(device tinybt.Device, connected bool) {
		if connected {
			return
		}

		id := bluetooth.PeripheralID(device.Address.String())
		if _, ok := b.links.LoadAndDelete(id); ok {
			b.emit(func(h bluetooth.Handler) { h.PeripheralDisconnected(id, nil) })
		}
	})

	state := bluetooth.AdapterPoweredOn

	power, powered, err := watchPower(b.log, b.powerChanged)
	switch {
	case err != nil:
		b.log.WithError(err).Debug("Adapter power state is not observable")

	case power != nil:
		b.power = power
		state = powered
	}

	h.AdapterStateChanged(state)

	return nil
}

// Stop stops scanning, drops all connections and detaches the handler.
func (b *Backend) Stop() error {
	b.hmu.Lock()
	b.handler = nil
	b.hmu.Unlock()

	if b.scanning.Load() {
		if err := b.adapter.StopScan(); err != nil {
			b.log.WithError(err).Debug("Cannot stop scan")
		}
	}

	b.links.Range(func(id bluetooth.PeripheralID, l *link) bool {
		b.links.Delete(id)
		l.close(b.log.WithField("peripheral", id))

		return true
	})

	if b.power != nil {
		b.power.Close()
		b.power = nil
	}

	return nil
}

// StartScan starts a scan on its own goroutine.
func (b *Backend) StartScan(filter []uuid.UUID) error {
	filter = slices.Clone(filter)
	b.filter.Store(&filter)

	if !b.scanning.CompareAndSwap(false, true) {
		return nil
	}

	scan := b.scanID.Add(1)
	go func() {
		defer func() {
			if b.scanID.Load() == scan {
				b.scanning.Store(false)
			}
		}()

		if err := b.adapter.Scan(b.scanResult); err != nil {
			b.log.WithError(err).Error("Scan stopped with an error")
		}
	}()

	return nil
}

// StopScan stops an ongoing scan.
func (b *Backend) StopScan() error {
	if !b.scanning.Load() {
		return nil
	}

	if err := b.adapter.StopScan(); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "native-stop-scan"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot stop scan"),
		)
	}

	return nil
}

func (b *Backend) scanResult(_ *tinybt.Adapter, result tinybt.ScanResult) {
	var filter []uuid.UUID
	if f := b.filter.Load(); f != nil {
		filter = *f
	}

	var services []uuid.UUID
	for _, service := range filter {
		if result.HasServiceUUID(toStackUUID(service)) {
			services = append(services, service)
		}
	}
	if len(filter) > 0 && len(services) == 0 {
		return
	}

	adv := bluetooth.Advertisement{
		ID:       bluetooth.PeripheralID(result.Address.String()),
		Name:     result.LocalName(),
		RSSI:     int(result.RSSI),
		Services: services,
	}
	b.seen.Store(adv.ID, seenPeripheral{address: result.Address, adv: adv})

	b.emit(func(h bluetooth.Handler) { h.PeripheralDiscovered(adv) })
}

// Connect connects to a peripheral on its own goroutine.
func (b *Backend) Connect(id bluetooth.PeripheralID) error {
	address, err := b.address(id)
	if err != nil {
		return err
	}

	l := &link{}
	if _, loaded := b.links.LoadOrStore(id, l); loaded {
		return fault.Wrap(errorkinds.ErrInvalidState,
			fctx.With(context.Background(), "peripheral", id.String()),
			ftag.With(errorkinds.FailedPrecondition),
			fmsg.With("A connection to the peripheral already exists"),
		)
	}

	go func() {
		device, err := b.adapter.Connect(address, tinybt.ConnectionParams{})

		l.mu.Lock()
		cancelled := l.cancelled
		if err == nil {
			l.device = &device
		}
		l.mu.Unlock()

		switch {
		case cancelled:
			if err == nil {
				l.close(b.log.WithField("peripheral", id))
			}

		case err != nil:
			b.links.Delete(id)
			b.emit(func(h bluetooth.Handler) { h.PeripheralConnectFailed(id, err) })

		default:
			b.emit(func(h bluetooth.Handler) { h.PeripheralConnected(id) })
		}
	}()

	return nil
}

// Disconnect drops a connection, or cancels a pending connection.
func (b *Backend) Disconnect(id bluetooth.PeripheralID) error {
	l, ok := b.links.LoadAndDelete(id)
	if !ok {
		return notConnected(id)
	}

	go func() {
		l.close(b.log.WithField("peripheral", id))
		b.emit(func(h bluetooth.Handler) { h.PeripheralDisconnected(id, nil) })
	}()

	return nil
}

// DiscoverServices discovers services on its own goroutine.
func (b *Backend) DiscoverServices(id bluetooth.PeripheralID, filter []uuid.UUID) error {
	l, device, err := b.connected(id)
	if err != nil {
		return err
	}

	var uuids []tinybt.UUID
	for _, service := range filter {
		uuids = append(uuids, toStackUUID(service))
	}

	go func() {
		services, err := device.DiscoverServices(uuids)
		if err != nil {
			b.emit(func(h bluetooth.Handler) { h.ServicesDiscovered(id, nil, err) })
			return
		}

		discovered := make([]bluetooth.DiscoveredService, 0, len(services))

		l.mu.Lock()
		l.services = make(map[uuid.UUID]*tinybt.DeviceService, len(services))
		for i := range services {
			serviceID, err := fromStackUUID(services[i].UUID())
			if err != nil {
				continue
			}

			l.services[serviceID] = &services[i]
			discovered = append(discovered, bluetooth.DiscoveredService{ID: serviceID, IsPrimary: true})
		}
		l.mu.Unlock()

		b.emit(func(h bluetooth.Handler) { h.ServicesDiscovered(id, discovered, nil) })
	}()

	return nil
}

// DiscoverCharacteristics discovers characteristics on its own goroutine.
// The stack does not report characteristic properties, so every
// characteristic is reported as readable and notifiable.
func (b *Backend) DiscoverCharacteristics(id bluetooth.PeripheralID, service uuid.UUID) error {
	l, _, err := b.connected(id)
	if err != nil {
		return err
	}

	l.mu.Lock()
	s, ok := l.services[service]
	l.mu.Unlock()
	if !ok {
		return attributeError(id, service, "Service was not discovered")
	}

	go func() {
		chars, err := s.DiscoverCharacteristics(nil)
		if err != nil {
			b.emit(func(h bluetooth.Handler) { h.CharacteristicsDiscovered(id, service, nil, err) })
			return
		}

		discovered := make([]bluetooth.DiscoveredCharacteristic, 0, len(chars))

		l.mu.Lock()
		for i := range chars {
			charID, err := fromStackUUID(chars[i].UUID())
			if err != nil {
				continue
			}

			l.storeCharacteristic(service, charID, &chars[i])
			discovered = append(discovered, bluetooth.DiscoveredCharacteristic{
				ID:             charID,
				SupportsRead:   true,
				SupportsNotify: true,
			})
		}
		l.mu.Unlock()

		b.emit(func(h bluetooth.Handler) { h.CharacteristicsDiscovered(id, service, discovered, nil) })
	}()

	return nil
}

// ReadCharacteristic reads a value on its own goroutine.
func (b *Backend) ReadCharacteristic(id bluetooth.PeripheralID, service, characteristic uuid.UUID) error {
	c, err := b.characteristic(id, service, characteristic)
	if err != nil {
		return err
	}

	go func() {
		buf := make([]byte, maxValueSize)

		n, err := c.Read(buf)
		if err != nil {
			b.log.WithError(err).WithFields(logrus.Fields{
				"peripheral":     id,
				"characteristic": characteristic,
			}).Debug("Cannot read characteristic")

			return
		}

		value := buf[:n]
		b.emit(func(h bluetooth.Handler) { h.CharacteristicValueUpdated(id, characteristic, value) })
	}()

	return nil
}

// SetNotify enables or disables value notifications on its own goroutine.
func (b *Backend) SetNotify(id bluetooth.PeripheralID, service, characteristic uuid.UUID, enable bool) error {
	c, err := b.characteristic(id, service, characteristic)
	if err != nil {
		return err
	}

	var callback func([]byte)
	if enable {
		callback = func(buf []byte) {
			value := slices.Clone(buf)
			b.emit(func(h bluetooth.Handler) { h.CharacteristicValueUpdated(id, characteristic, value) })
		}
	}

	go func() {
		if err := c.EnableNotifications(callback); err != nil {
			b.log.WithError(err).WithFields(logrus.Fields{
				"peripheral":     id,
				"characteristic": characteristic,
				"enable":         enable,
			}).Debug("Cannot change notification state")
		}
	}()

	return nil
}

// ReadSignalStrength is not supported by the platform stacks for connected peripherals.
func (b *Backend) ReadSignalStrength(id bluetooth.PeripheralID) error {
	return fault.Wrap(errorkinds.ErrNotSupported,
		fctx.With(context.Background(), "peripheral", id.String()),
		ftag.With(errorkinds.Unsupported),
		fmsg.With("Signal strength of connected peripherals cannot be measured"),
	)
}

// Retrieve returns the last advertisements of peripherals seen during scans.
func (b *Backend) Retrieve(ids []bluetooth.PeripheralID) []bluetooth.Advertisement {
	advs := make([]bluetooth.Advertisement, 0, len(ids))
	for _, id := range ids {
		if p, ok := b.seen.Load(id); ok {
			advs = append(advs, p.adv)
		}
	}

	return advs
}

func (b *Backend) powerChanged(state bluetooth.AdapterState) {
	if state.Unavailable() {
		b.scanID.Add(1)
		if b.scanning.Swap(false) {
			if err := b.adapter.StopScan(); err != nil {
				b.log.WithError(err).Debug("Cannot stop scan after adapter loss")
			}
		}
	}

	b.emit(func(h bluetooth.Handler) { h.AdapterStateChanged(state) })
}

func (b *Backend) emit(fn func(h bluetooth.Handler)) {
	b.hmu.RLock()
	h := b.handler
	b.hmu.RUnlock()

	if h != nil {
		fn(h)
	}
}

func (b *Backend) address(id bluetooth.PeripheralID) (tinybt.Address, error) {
	if p, ok := b.seen.Load(id); ok {
		return p.address, nil
	}

	return tinybt.Address{}, fault.Wrap(errorkinds.ErrNotFound,
		fctx.With(context.Background(), "peripheral", id.String()),
		ftag.With(ftag.NotFound),
		fmsg.With("Peripheral was not seen during a scan"),
	)
}

func (b *Backend) connected(id bluetooth.PeripheralID) (*link, *tinybt.Device, error) {
	l, ok := b.links.Load(id)
	if !ok {
		return nil, nil, notConnected(id)
	}

	l.mu.Lock()
	device := l.device
	l.mu.Unlock()

	if device == nil {
		return nil, nil, notConnected(id)
	}

	return l, device, nil
}

func (b *Backend) characteristic(id bluetooth.PeripheralID, service, characteristic uuid.UUID) (*tinybt.DeviceCharacteristic, error) {
	l, _, err := b.connected(id)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	c, ok := l.lookupCharacteristic(service, characteristic)
	l.mu.Unlock()
	if !ok {
		return nil, attributeError(id, characteristic, "Characteristic was not discovered in service "+service.String())
	}

	return c, nil
}

// storeCharacteristic must be called with l.mu held.
func (l *link) storeCharacteristic(service, characteristic uuid.UUID, c *tinybt.DeviceCharacteristic) {
	if l.characteristics == nil {
		l.characteristics = make(map[attributeKey]*tinybt.DeviceCharacteristic)
	}

	l.characteristics[attributeKey{service, characteristic}] = c
}

// lookupCharacteristic must be called with l.mu held.
func (l *link) lookupCharacteristic(service, characteristic uuid.UUID) (*tinybt.DeviceCharacteristic, bool) {
	c, ok := l.characteristics[attributeKey{service, characteristic}]

	return c, ok
}

func (l *link) close(log logrus.FieldLogger) {
	l.mu.Lock()
	l.cancelled = true
	device := l.device
	l.device = nil
	l.mu.Unlock()

	if device == nil {
		return
	}

	if err := device.Disconnect(); err != nil {
		log.WithError(err).Debug("Cannot disconnect peripheral")
	}
}

func notConnected(id bluetooth.PeripheralID) error {
	return fault.Wrap(errorkinds.ErrInvalidState,
		fctx.With(context.Background(), "peripheral", id.String()),
		ftag.With(errorkinds.FailedPrecondition),
		fmsg.With("Peripheral is not connected"),
	)
}

func attributeError(id bluetooth.PeripheralID, attribute uuid.UUID, msg string) error {
	return fault.Wrap(errorkinds.ErrNotFound,
		fctx.With(context.Background(), "peripheral", id.String(), "attribute", attribute.String()),
		ftag.With(ftag.NotFound),
		fmsg.With(msg),
	)
}
