package sessionstore

import (
	"testing"
	"time"

	"github.com/bluetuith-org/api-ble/api/attributes"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
)

func TestApplyBuildsRecords(t *testing.T) {
	store := NewSessionStore()

	record := bluetooth.NewPeripheralRecord("P1", "Movesense 1")
	store.Apply(bluetooth.PeripheralDiscovered{Record: record, RSSI: -70})
	store.Apply(bluetooth.PeripheralDiscovered{Record: record, RSSI: -65})
	store.Apply(bluetooth.ConnectionStateChanged{PeripheralID: "P1", From: bluetooth.StateDisconnected, To: bluetooth.StateConnecting})

	record.State = bluetooth.StateConnected
	store.Apply(bluetooth.PeripheralConnected{Record: record})

	service := bluetooth.ServiceRecord{ID: attributes.ServiceBattery, PeripheralID: "P1"}
	store.Apply(bluetooth.ServiceDiscovered{Service: service})
	store.Apply(bluetooth.ServiceDiscovered{Service: service})
	store.Apply(bluetooth.CharacteristicsDiscovered{
		PeripheralID: "P1",
		ServiceID:    attributes.ServiceBattery,
		Characteristics: []bluetooth.CharacteristicRecord{
			{ID: attributes.CharacteristicBatteryLevel, ServiceID: attributes.ServiceBattery, PeripheralID: "P1"},
		},
	})
	store.Apply(bluetooth.SignalStrengthUpdated{PeripheralID: "P1", RSSI: -50})

	got, ok := store.Peripheral("P1")
	if !ok {
		t.Fatal("peripheral is not stored")
	}
	if got.State != bluetooth.StateConnected {
		t.Errorf("state = %v, want connected", got.State)
	}
	if got.RSSI != -50 {
		t.Errorf("rssi = %d, want -50", got.RSSI)
	}
	if len(got.Services) != 1 || len(got.Characteristics) != 1 {
		t.Errorf("record has %d services and %d characteristics, want 1 and 1",
			len(got.Services), len(got.Characteristics))
	}
}

func TestApplyIgnoresUnknownPeripherals(t *testing.T) {
	store := NewSessionStore()

	store.Apply(bluetooth.SignalStrengthUpdated{PeripheralID: "P1", RSSI: -50})
	store.Apply(bluetooth.ConnectionStateChanged{PeripheralID: "P1", To: bluetooth.StateConnecting})

	if _, ok := store.Peripheral("P1"); ok {
		t.Errorf("unknown peripheral was stored")
	}
}

func TestDisconnectedPeripheralsStay(t *testing.T) {
	store := NewSessionStore()

	record := bluetooth.NewPeripheralRecord("P1", "Thingy")
	record.State = bluetooth.StateConnected
	store.Apply(bluetooth.PeripheralConnected{Record: record})

	record.State = bluetooth.StateDisconnected
	store.Apply(bluetooth.PeripheralDisconnected{Record: record, Reason: "timeout"})

	got, ok := store.Peripheral("P1")
	if !ok || got.State != bluetooth.StateDisconnected {
		t.Fatalf("record = %+v, %v, want disconnected record", got, ok)
	}
}

func TestValuesAreClearedOnConnect(t *testing.T) {
	store := NewSessionStore()

	store.Apply(bluetooth.CharacteristicValueChanged{
		PeripheralID:     "P1",
		CharacteristicID: attributes.CharacteristicBatteryLevel,
		Value:            bluetooth.IntegerValue(90),
		Timestamp:        time.Now(),
	})

	if v, ok := store.Value("P1", attributes.CharacteristicBatteryLevel); !ok || !v.Value.Equal(bluetooth.IntegerValue(90)) {
		t.Fatalf("value = %+v, %v", v, ok)
	}

	store.Apply(bluetooth.PeripheralConnected{Record: bluetooth.NewPeripheralRecord("P1", "")})
	if _, ok := store.Value("P1", attributes.CharacteristicBatteryLevel); ok {
		t.Errorf("value survived a new connection")
	}
}

func TestPeripheralsAreSorted(t *testing.T) {
	store := NewSessionStore()
	for _, id := range []bluetooth.PeripheralID{"C", "A", "B"} {
		store.AddPeripheral(bluetooth.NewPeripheralRecord(id, ""))
	}

	records := store.Peripherals()
	for i, want := range []bluetooth.PeripheralID{"A", "B", "C"} {
		if records[i].ID != want {
			t.Fatalf("record %d = %q, want %q", i, records[i].ID, want)
		}
	}
}

func TestSnapshotsAreIndependent(t *testing.T) {
	store := NewSessionStore()

	record := bluetooth.NewPeripheralRecord("P1", "")
	record.Services = []bluetooth.ServiceRecord{{ID: attributes.ServiceBattery}}
	store.AddPeripheral(record)

	got, _ := store.Peripheral("P1")
	got.Services[0].Name = "changed"

	again, _ := store.Peripheral("P1")
	if again.Services[0].Name == "changed" {
		t.Errorf("snapshot shares memory with the store")
	}
}
