// Package sessionstore holds snapshots of peripheral records which are
// built from published events, and can be read from any goroutine.
package sessionstore

import (
	"cmp"
	"slices"

	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// SessionStore describes a concurrent store of peripheral records.
type SessionStore struct {
	peripherals *xsync.MapOf[bluetooth.PeripheralID, bluetooth.PeripheralRecord]
	values      *xsync.MapOf[valueKey, bluetooth.CharacteristicValueChanged]
}

type valueKey struct {
	peripheral     bluetooth.PeripheralID
	characteristic uuid.UUID
}

// NewSessionStore returns a new, empty session store.
func NewSessionStore() SessionStore {
	return SessionStore{
		peripherals: xsync.NewMapOf[bluetooth.PeripheralID, bluetooth.PeripheralRecord](),
		values:      xsync.NewMapOf[valueKey, bluetooth.CharacteristicValueChanged](),
	}
}

// AddPeripheral adds or replaces a peripheral record.
func (s SessionStore) AddPeripheral(record bluetooth.PeripheralRecord) {
	s.peripherals.Store(record.ID, record.Clone())
}

// Peripheral returns a snapshot of a stored peripheral record.
func (s SessionStore) Peripheral(id bluetooth.PeripheralID) (bluetooth.PeripheralRecord, bool) {
	record, ok := s.peripherals.Load(id)
	if !ok {
		return bluetooth.PeripheralRecord{}, false
	}

	return record.Clone(), true
}

// Peripherals returns snapshots of all stored peripheral records, sorted by identifier.
func (s SessionStore) Peripherals() []bluetooth.PeripheralRecord {
	records := make([]bluetooth.PeripheralRecord, 0, s.peripherals.Size())
	s.peripherals.Range(func(_ bluetooth.PeripheralID, record bluetooth.PeripheralRecord) bool {
		records = append(records, record.Clone())
		return true
	})

	slices.SortFunc(records, func(a, b bluetooth.PeripheralRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return records
}

// Value returns the latest value of a characteristic.
func (s SessionStore) Value(id bluetooth.PeripheralID, characteristic uuid.UUID) (bluetooth.CharacteristicValueChanged, bool) {
	return s.values.Load(valueKey{id, characteristic})
}

// Apply updates the store from a published event.
func (s SessionStore) Apply(ev bluetooth.Event) {
	switch ev := ev.(type) {
	case bluetooth.PeripheralDiscovered:
		s.merge(ev.Record, func(stored *bluetooth.PeripheralRecord) {
			stored.Name = ev.Record.Name
			stored.RSSI = ev.RSSI
			stored.LastUpdated = ev.Record.LastUpdated
		})

	case bluetooth.PeripheralConnected:
		s.AddPeripheral(ev.Record)
		s.clearValues(ev.Record.ID)

	case bluetooth.PeripheralDisconnected:
		s.AddPeripheral(ev.Record)

	case bluetooth.ConnectionStateChanged:
		s.update(ev.PeripheralID, func(stored *bluetooth.PeripheralRecord) {
			stored.State = ev.To
			stored.FailureReason = ""
			if ev.To == bluetooth.StateFailed {
				stored.FailureReason = ev.Reason
			}
		})

	case bluetooth.ServiceDiscovered:
		s.update(ev.Service.PeripheralID, func(stored *bluetooth.PeripheralRecord) {
			if _, ok := stored.Service(ev.Service.ID); !ok {
				stored.Services = append(stored.Services, ev.Service)
			}
		})

	case bluetooth.CharacteristicsDiscovered:
		s.update(ev.PeripheralID, func(stored *bluetooth.PeripheralRecord) {
			stored.Characteristics = slices.DeleteFunc(stored.Characteristics, func(c bluetooth.CharacteristicRecord) bool {
				return c.ServiceID == ev.ServiceID
			})
			stored.Characteristics = append(stored.Characteristics, ev.Characteristics...)
		})

	case bluetooth.SignalStrengthUpdated:
		s.update(ev.PeripheralID, func(stored *bluetooth.PeripheralRecord) {
			stored.RSSI = ev.RSSI
		})

	case bluetooth.CharacteristicValueChanged:
		s.values.Store(valueKey{ev.PeripheralID, ev.CharacteristicID}, ev)
	}
}

// merge stores a record if it is not present, or applies fn to the stored record.
func (s SessionStore) merge(record bluetooth.PeripheralRecord, fn func(stored *bluetooth.PeripheralRecord)) {
	s.peripherals.Compute(record.ID, func(stored bluetooth.PeripheralRecord, loaded bool) (bluetooth.PeripheralRecord, bool) {
		if !loaded {
			return record.Clone(), false
		}

		stored = stored.Clone()
		fn(&stored)

		return stored, false
	})
}

// update applies fn to a stored record. Unknown peripherals are ignored.
func (s SessionStore) update(id bluetooth.PeripheralID, fn func(stored *bluetooth.PeripheralRecord)) {
	s.peripherals.Compute(id, func(stored bluetooth.PeripheralRecord, loaded bool) (bluetooth.PeripheralRecord, bool) {
		if !loaded {
			return stored, true
		}

		stored = stored.Clone()
		fn(&stored)

		return stored, false
	})
}

func (s SessionStore) clearValues(id bluetooth.PeripheralID) {
	s.values.Range(func(key valueKey, _ bluetooth.CharacteristicValueChanged) bool {
		if key.peripheral == id {
			s.values.Delete(key)
		}

		return true
	})
}
