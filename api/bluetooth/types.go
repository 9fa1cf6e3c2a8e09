package bluetooth

import (
	"time"

	"github.com/google/uuid"
)

// PeripheralID describes a stable peripheral identifier.
// Depending on the platform, this is either a MAC address or a UUID
// assigned by the operating system's Bluetooth stack.
type PeripheralID string

// String converts a PeripheralID to a string.
func (p PeripheralID) String() string {
	return string(p)
}

const (
	// UnnamedPeripheral is the name assigned to peripherals which do not advertise a name.
	UnnamedPeripheral = "Unnamed Peripheral"

	// UnknownSignalStrength denotes a signal strength which has not been measured yet.
	UnknownSignalStrength = -128
)

// AdapterState describes the power state of the local radio adapter.
type AdapterState string

const (
	AdapterUnknown      AdapterState = "unknown"
	AdapterResetting    AdapterState = "resetting"
	AdapterUnsupported  AdapterState = "unsupported"
	AdapterUnauthorized AdapterState = "unauthorized"
	AdapterPoweredOff   AdapterState = "powered_off"
	AdapterPoweredOn    AdapterState = "powered_on"
)

// String converts an AdapterState to a string.
func (a AdapterState) String() string {
	return string(a)
}

// Unavailable reports whether the adapter cannot scan in this state,
// and any ongoing scan must be considered stopped.
func (a AdapterState) Unavailable() bool {
	switch a {
	case AdapterPoweredOff, AdapterUnsupported, AdapterUnauthorized:
		return true
	}

	return false
}

// ScanState describes whether the adapter is discovering peripherals.
type ScanState string

const (
	ScanStopped  ScanState = "stopped"
	ScanScanning ScanState = "scanning"
)

// String converts a ScanState to a string.
func (s ScanState) String() string {
	return string(s)
}

// ConnectionState describes the connection state of a peripheral.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "disconnected"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
	StateFailed        ConnectionState = "failed"
)

// String converts a ConnectionState to a string.
func (c ConnectionState) String() string {
	return string(c)
}

// ServiceRecord describes a service exposed by a connected peripheral.
type ServiceRecord struct {
	ID           uuid.UUID    `json:"service_id"`
	Name         string       `json:"name"`
	IsPrimary    bool         `json:"is_primary"`
	PeripheralID PeripheralID `json:"peripheral_id"`
}

// CharacteristicRecord describes a characteristic within a service.
type CharacteristicRecord struct {
	ID             uuid.UUID    `json:"characteristic_id"`
	Name           string       `json:"name"`
	ServiceID      uuid.UUID    `json:"service_id"`
	PeripheralID   PeripheralID `json:"peripheral_id"`
	SupportsRead   bool         `json:"supports_read"`
	SupportsNotify bool         `json:"supports_notify"`
}

// PeripheralRecord holds the tracked state of a peripheral.
type PeripheralRecord struct {
	ID            PeripheralID    `json:"peripheral_id"`
	Name          string          `json:"name"`
	State         ConnectionState `json:"state"`
	FailureReason string          `json:"failure_reason,omitempty"`
	RSSI          int             `json:"rssi"`

	Services        []ServiceRecord        `json:"services,omitempty"`
	Characteristics []CharacteristicRecord `json:"characteristics,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// NewPeripheralRecord returns a disconnected record with an unknown signal strength.
func NewPeripheralRecord(id PeripheralID, name string) PeripheralRecord {
	if name == "" {
		name = UnnamedPeripheral
	}

	return PeripheralRecord{
		ID:          id,
		Name:        name,
		State:       StateDisconnected,
		RSSI:        UnknownSignalStrength,
		LastUpdated: time.Now(),
	}
}

// Clone returns a copy of the record which shares no memory with the original.
func (p PeripheralRecord) Clone() PeripheralRecord {
	if p.Services != nil {
		p.Services = append([]ServiceRecord(nil), p.Services...)
	}
	if p.Characteristics != nil {
		p.Characteristics = append([]CharacteristicRecord(nil), p.Characteristics...)
	}

	return p
}

// Service returns the service record with the provided identifier.
func (p PeripheralRecord) Service(id uuid.UUID) (ServiceRecord, bool) {
	for _, s := range p.Services {
		if s.ID == id {
			return s, true
		}
	}

	return ServiceRecord{}, false
}

// Characteristic returns the first characteristic record with the provided identifier.
func (p PeripheralRecord) Characteristic(id uuid.UUID) (CharacteristicRecord, bool) {
	for _, c := range p.Characteristics {
		if c.ID == id {
			return c, true
		}
	}

	return CharacteristicRecord{}, false
}

// Advertisement describes a peripheral as reported by the radio stack,
// either by a discovery callback or by a retained-peripheral lookup.
type Advertisement struct {
	ID       PeripheralID
	Name     string
	RSSI     int
	Services []uuid.UUID
}

// DiscoveredService describes a service reported by the radio stack.
type DiscoveredService struct {
	ID        uuid.UUID
	IsPrimary bool
}

// DiscoveredCharacteristic describes a characteristic reported by the radio stack.
type DiscoveredCharacteristic struct {
	ID             uuid.UUID
	SupportsRead   bool
	SupportsNotify bool
}
