package bluetooth

import (
	"time"

	"github.com/google/uuid"
)

// Session describes a peripheral session manager.
type Session interface {
	// Start attempts to initialize the session with the radio backend.
	Start() error

	// Close releases all subscriptions and stops the radio backend.
	Close() error

	// AdapterState returns the current adapter power state.
	AdapterState() AdapterState

	// ScanState returns the current scan state.
	ScanState() ScanState

	// StartScan starts discovering peripherals which advertise any of the provided services.
	StartScan(filter ...uuid.UUID) error

	// StartScanFor starts a scan which is stopped after the provided duration.
	StartScanFor(timeout time.Duration, filter ...uuid.UUID) error

	// StopScan stops discovering peripherals.
	StopScan()

	// Connect connects to a known peripheral, and discovers the provided services,
	// or all services if none are provided.
	Connect(id PeripheralID, services ...uuid.UUID) error

	// Disconnect disconnects from a peripheral.
	Disconnect(id PeripheralID) error

	// ReadSignalStrength requests a signal strength measurement of a connected peripheral.
	ReadSignalStrength(id PeripheralID) error

	// KnownPeripherals looks up peripherals retained by the radio stack.
	KnownPeripherals(ids ...PeripheralID) []PeripheralRecord

	// Peripherals returns a snapshot of all tracked peripherals.
	Peripherals() []PeripheralRecord

	// Peripheral returns a snapshot of a tracked peripheral.
	Peripheral(id PeripheralID) (PeripheralRecord, bool)
}
