package bluetooth

import "github.com/google/uuid"

// Backend describes a radio stack which performs hardware requests.
// All requests are non-blocking. Their results are reported through the
// Handler which was passed to Start, possibly before the request returns.
type Backend interface {
	// Start attaches the handler and reports the initial adapter state.
	Start(h Handler) error

	// Stop detaches the handler and releases the radio stack.
	Stop() error

	// StartScan starts discovering peripherals which advertise any of the
	// provided services. An empty filter discovers all peripherals.
	StartScan(filter []uuid.UUID) error

	// StopScan stops discovering peripherals.
	StopScan() error

	// Connect issues a connection request to a peripheral.
	Connect(id PeripheralID) error

	// Disconnect issues a disconnection request, or cancels a pending connection request.
	Disconnect(id PeripheralID) error

	// DiscoverServices discovers the provided services of a connected peripheral.
	// An empty filter discovers all services.
	DiscoverServices(id PeripheralID, filter []uuid.UUID) error

	// DiscoverCharacteristics discovers all characteristics of a service.
	DiscoverCharacteristics(id PeripheralID, service uuid.UUID) error

	// ReadCharacteristic issues a single read of a characteristic value.
	ReadCharacteristic(id PeripheralID, service, characteristic uuid.UUID) error

	// SetNotify enables or disables value notifications for a characteristic.
	SetNotify(id PeripheralID, service, characteristic uuid.UUID, enable bool) error

	// ReadSignalStrength issues a signal strength measurement of a connected peripheral.
	ReadSignalStrength(id PeripheralID) error

	// Retrieve looks up peripherals retained by the radio stack.
	// Unknown identifiers are skipped.
	Retrieve(ids []PeripheralID) []Advertisement
}

// Handler describes the callbacks invoked by a Backend.
type Handler interface {
	AdapterStateChanged(state AdapterState)
	PeripheralDiscovered(adv Advertisement)

	PeripheralConnected(id PeripheralID)
	PeripheralConnectFailed(id PeripheralID, reason error)
	PeripheralDisconnected(id PeripheralID, reason error)

	// ServicesDiscovered reports the services of a peripheral. A non-nil error
	// describes a failed discovery request.
	ServicesDiscovered(id PeripheralID, services []DiscoveredService, err error)

	// CharacteristicsDiscovered reports the characteristics of a service. A non-nil
	// error describes a failed discovery request.
	CharacteristicsDiscovered(id PeripheralID, service uuid.UUID, characteristics []DiscoveredCharacteristic, err error)

	CharacteristicValueUpdated(id PeripheralID, characteristic uuid.UUID, value []byte)
	SignalStrengthRead(id PeripheralID, rssi int)
}
