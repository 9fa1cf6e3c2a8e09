package bluetooth

import (
	"time"

	"github.com/google/uuid"
)

// EventID describes the type of a domain event.
type EventID uint

const (
	EventNone EventID = iota
	EventAdapterStateChanged
	EventScanStateChanged
	EventPeripheralDiscovered
	EventPeripheralConnected
	EventPeripheralDisconnected
	EventConnectionStateChanged
	EventServiceDiscovered
	EventCharacteristicsDiscovered
	EventCharacteristicValueChanged
	EventSignalStrengthUpdated
)

var eventNames = map[EventID]string{
	EventAdapterStateChanged:        "adapter_state_changed",
	EventScanStateChanged:           "scan_state_changed",
	EventPeripheralDiscovered:       "peripheral_discovered",
	EventPeripheralConnected:        "peripheral_connected",
	EventPeripheralDisconnected:     "peripheral_disconnected",
	EventConnectionStateChanged:     "connection_state_changed",
	EventServiceDiscovered:          "service_discovered",
	EventCharacteristicsDiscovered:  "characteristics_discovered",
	EventCharacteristicValueChanged: "characteristic_value_changed",
	EventSignalStrengthUpdated:      "signal_strength_updated",
}

// AllEvents returns every event identifier.
func AllEvents() []EventID {
	ids := make([]EventID, 0, len(eventNames))
	for id := EventAdapterStateChanged; id <= EventSignalStrengthUpdated; id++ {
		ids = append(ids, id)
	}

	return ids
}

// Value returns the numeric value of the event identifier.
func (e EventID) Value() uint {
	return uint(e)
}

// String returns the wire name of the event identifier.
func (e EventID) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}

	return "none"
}

// Lossy reports whether events with this identifier may be dropped or
// coalesced under load. State transition events are never lossy.
func (e EventID) Lossy() bool {
	return e == EventSignalStrengthUpdated || e == EventCharacteristicValueChanged
}

// ParseEventID returns the event identifier for a wire name.
func ParseEventID(name string) EventID {
	for id, n := range eventNames {
		if n == name {
			return id
		}
	}

	return EventNone
}

// Event describes a domain event.
// Events are immutable snapshots once published.
type Event interface {
	EventID() EventID

	// Peripheral returns the peripheral the event belongs to, or an empty
	// identifier for adapter-wide events.
	Peripheral() PeripheralID
}

// AdapterStateChanged is published when the adapter power state changes.
type AdapterStateChanged struct {
	State AdapterState `json:"state"`
}

// ScanStateChanged is published when a scan starts or stops.
type ScanStateChanged struct {
	State ScanState `json:"state"`
}

// PeripheralDiscovered is published when a peripheral with a recognized name is discovered.
type PeripheralDiscovered struct {
	Record PeripheralRecord `json:"peripheral"`
	RSSI   int              `json:"rssi"`
}

// PeripheralConnected is published when a peripheral connects.
type PeripheralConnected struct {
	Record PeripheralRecord `json:"peripheral"`
}

// PeripheralDisconnected is published when a peripheral disconnects,
// or when a connection attempt is abandoned.
type PeripheralDisconnected struct {
	Record PeripheralRecord `json:"peripheral"`
	Reason string           `json:"reason,omitempty"`
}

// ConnectionStateChanged is published on every connection state transition.
type ConnectionStateChanged struct {
	PeripheralID PeripheralID    `json:"peripheral_id"`
	From         ConnectionState `json:"from"`
	To           ConnectionState `json:"to"`
	Reason       string          `json:"reason,omitempty"`
}

// ServiceDiscovered is published for each discovered service.
type ServiceDiscovered struct {
	Service ServiceRecord `json:"service"`
}

// CharacteristicsDiscovered is published once per service, with all of its characteristics.
type CharacteristicsDiscovered struct {
	PeripheralID    PeripheralID           `json:"peripheral_id"`
	ServiceID       uuid.UUID              `json:"service_id"`
	Characteristics []CharacteristicRecord `json:"characteristics"`
}

// CharacteristicValueChanged is published when a characteristic value is read or notified.
type CharacteristicValueChanged struct {
	PeripheralID     PeripheralID        `json:"peripheral_id"`
	CharacteristicID uuid.UUID           `json:"characteristic_id"`
	Name             string              `json:"name"`
	Value            CharacteristicValue `json:"value"`
	Timestamp        time.Time           `json:"timestamp"`
}

// SignalStrengthUpdated is published when a signal strength measurement is received.
type SignalStrengthUpdated struct {
	PeripheralID PeripheralID `json:"peripheral_id"`
	RSSI         int          `json:"rssi"`
}

func (AdapterStateChanged) EventID() EventID        { return EventAdapterStateChanged }
func (ScanStateChanged) EventID() EventID           { return EventScanStateChanged }
func (PeripheralDiscovered) EventID() EventID       { return EventPeripheralDiscovered }
func (PeripheralConnected) EventID() EventID        { return EventPeripheralConnected }
func (PeripheralDisconnected) EventID() EventID     { return EventPeripheralDisconnected }
func (ConnectionStateChanged) EventID() EventID     { return EventConnectionStateChanged }
func (ServiceDiscovered) EventID() EventID          { return EventServiceDiscovered }
func (CharacteristicsDiscovered) EventID() EventID  { return EventCharacteristicsDiscovered }
func (CharacteristicValueChanged) EventID() EventID { return EventCharacteristicValueChanged }
func (SignalStrengthUpdated) EventID() EventID      { return EventSignalStrengthUpdated }

func (AdapterStateChanged) Peripheral() PeripheralID          { return "" }
func (ScanStateChanged) Peripheral() PeripheralID             { return "" }
func (e PeripheralDiscovered) Peripheral() PeripheralID       { return e.Record.ID }
func (e PeripheralConnected) Peripheral() PeripheralID        { return e.Record.ID }
func (e PeripheralDisconnected) Peripheral() PeripheralID     { return e.Record.ID }
func (e ConnectionStateChanged) Peripheral() PeripheralID     { return e.PeripheralID }
func (e ServiceDiscovered) Peripheral() PeripheralID          { return e.Service.PeripheralID }
func (e CharacteristicsDiscovered) Peripheral() PeripheralID  { return e.PeripheralID }
func (e CharacteristicValueChanged) Peripheral() PeripheralID { return e.PeripheralID }
func (e SignalStrengthUpdated) Peripheral() PeripheralID      { return e.PeripheralID }
