package manager

import (
	"errors"
	"testing"
	"time"

	"github.com/bluetuith-org/api-ble/api/attributes"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/commands"
	"github.com/bluetuith-org/api-ble/api/config"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/bluetuith-org/api-ble/api/eventbus"
	"github.com/bluetuith-org/api-ble/backend/simulator"
)

const (
	waitTimeout = 2 * time.Second

	sensorID bluetooth.PeripheralID = "D0:00:00:00:00:01"
)

func pressureSensor() simulator.PeripheralSpec {
	return simulator.PeripheralSpec{
		ID:       sensorID,
		Name:     "PressureSensor 3",
		RSSI:     -58,
		Retained: true,
		Services: []simulator.ServiceSpec{{
			ID:      attributes.ServiceEnvironmentSensing,
			Primary: true,
			Characteristics: []simulator.CharacteristicSpec{
				// 101325.0 Pa
				{ID: attributes.CharacteristicPressure, Read: true, Value: []byte{0x02, 0x76, 0x0F, 0x00}},
			},
		}},
	}
}

func newTestManager(t *testing.T, specs ...simulator.PeripheralSpec) (*Manager, *simulator.Backend, *eventbus.Subscription) {
	t.Helper()

	sim := simulator.New(simulator.WithPeripherals(specs...))

	m, err := New(config.New(), sim)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	sub := m.Subscribe()
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	waitFor(t, sub, bluetooth.EventAdapterStateChanged)

	return m, sim, sub
}

// waitFor skips events until one with the provided identifier is received.
func waitFor(t *testing.T, sub *eventbus.Subscription, id bluetooth.EventID) bluetooth.Event {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatal("subscription closed unexpectedly")
			}
			if ev.EventID() == id {
				return ev
			}

		case <-deadline:
			t.Fatalf("timed out waiting for %v", id)
		}
	}
}

// eventually polls cond until it holds.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal(msg)
}

func TestNewValidates(t *testing.T) {
	if _, err := New(config.New(), nil); err == nil {
		t.Errorf("new without backend succeeded")
	}

	cfg := config.New()
	cfg.SubscriberBuffer = 0
	if _, err := New(cfg, simulator.New()); err == nil {
		t.Errorf("new with invalid configuration succeeded")
	}
}

func TestStoreTracksSession(t *testing.T) {
	m, _, sub := newTestManager(t, pressureSensor())

	if err := m.StartScan(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, sub, bluetooth.EventPeripheralDiscovered)

	if err := m.Connect(sensorID); err != nil {
		t.Fatal(err)
	}
	value := waitFor(t, sub, bluetooth.EventCharacteristicValueChanged).(bluetooth.CharacteristicValueChanged)
	if !value.Value.Equal(bluetooth.FloatValue(101325)) {
		t.Errorf("pressure = %v, want 101325", value.Value)
	}

	eventually(t, func() bool {
		record, ok := m.Peripheral(sensorID)
		return ok && record.State == bluetooth.StateConnected && len(record.Characteristics) == 1
	}, "store did not track the connected peripheral")

	eventually(t, func() bool {
		_, ok := m.Value(sensorID, attributes.CharacteristicPressure)
		return ok
	}, "store did not track the pressure value")

	if err := m.Disconnect(sensorID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, sub, bluetooth.EventPeripheralDisconnected)

	eventually(t, func() bool {
		records := m.Peripherals()
		return len(records) == 1 && records[0].State == bluetooth.StateDisconnected
	}, "store dropped the disconnected peripheral")
}

func TestScanTimeoutStopsScan(t *testing.T) {
	m, sim, sub := newTestManager(t, pressureSensor())

	if err := m.StartScanFor(20*time.Millisecond, attributes.ServiceEnvironmentSensing); err != nil {
		t.Fatal(err)
	}

	started := waitFor(t, sub, bluetooth.EventScanStateChanged).(bluetooth.ScanStateChanged)
	if started.State != bluetooth.ScanScanning {
		t.Fatalf("scan state = %v, want scanning", started.State)
	}

	stopped := waitFor(t, sub, bluetooth.EventScanStateChanged).(bluetooth.ScanStateChanged)
	if stopped.State != bluetooth.ScanStopped {
		t.Fatalf("scan state = %v, want stopped", stopped.State)
	}

	if calls := sim.CallsTo("StopScan"); len(calls) != 1 {
		t.Errorf("backend received %d stop requests, want 1", len(calls))
	}
}

func TestStopScanCancelsTimeout(t *testing.T) {
	m, sim, sub := newTestManager(t)

	if err := m.StartScanFor(30 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	waitFor(t, sub, bluetooth.EventScanStateChanged)

	m.StopScan()
	waitFor(t, sub, bluetooth.EventScanStateChanged)

	time.Sleep(100 * time.Millisecond)
	if calls := sim.CallsTo("StopScan"); len(calls) != 1 {
		t.Errorf("backend received %d stop requests, want 1", len(calls))
	}
	if state := m.ScanState(); state != bluetooth.ScanStopped {
		t.Errorf("scan state = %v, want stopped", state)
	}
}

func TestExecute(t *testing.T) {
	m, _, sub := newTestManager(t, pressureSensor())

	if _, err := m.Execute(commands.StartScan{Services: nil}); err != nil {
		t.Fatalf("start scan: %v", err)
	}
	waitFor(t, sub, bluetooth.EventPeripheralDiscovered)

	if _, err := m.Execute(commands.StopScan{}); err != nil {
		t.Fatalf("stop scan: %v", err)
	}

	data, err := m.Execute(commands.KnownPeripherals{PeripheralIDs: []bluetooth.PeripheralID{sensorID}})
	if err != nil {
		t.Fatalf("known peripherals: %v", err)
	}
	if records, ok := data.([]bluetooth.PeripheralRecord); !ok || len(records) != 1 {
		t.Fatalf("known peripherals = %#v", data)
	}

	if _, err := m.Execute(commands.Connect{PeripheralID: sensorID}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, sub, bluetooth.EventPeripheralConnected)

	if _, err := m.Execute(commands.ReadSignalStrength{PeripheralID: sensorID}); err != nil {
		t.Fatalf("read signal strength: %v", err)
	}
	waitFor(t, sub, bluetooth.EventSignalStrengthUpdated)

	if _, err := m.Execute(commands.Disconnect{PeripheralID: sensorID}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitFor(t, sub, bluetooth.EventPeripheralDisconnected)

	if _, err := m.Execute(nil); !errors.Is(err, errorkinds.ErrInvalidCommand) {
		t.Errorf("execute nil error = %v, want ErrInvalidCommand", err)
	}
}

func TestHandleReportsErrors(t *testing.T) {
	m, _, _ := newTestManager(t)

	resp := m.Handle(commands.Request{ID: 9, Command: commands.Connect{PeripheralID: "X"}})
	if resp.Status != commands.StatusError || resp.RequestID != 9 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Error == nil || resp.Error.Name != "not_found" {
		t.Errorf("response error = %+v, want not_found", resp.Error)
	}

	resp = m.Handle(commands.Request{ID: 10, Command: commands.StopScan{}})
	if resp.Status != commands.StatusOK {
		t.Errorf("response = %+v, want ok", resp)
	}
}

func TestKnownPeripheralsAreStored(t *testing.T) {
	m, _, _ := newTestManager(t, pressureSensor())

	records := m.KnownPeripherals(sensorID, "missing")
	if len(records) != 1 {
		t.Fatalf("known peripherals = %+v", records)
	}

	if _, ok := m.Peripheral(sensorID); !ok {
		t.Errorf("known peripheral is not stored")
	}
}

func TestCloseReleasesSubscriptions(t *testing.T) {
	m, _, sub := newTestManager(t)

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				if err := m.Connect(sensorID); !errors.Is(err, errorkinds.ErrSessionNotExist) {
					t.Errorf("connect error = %v, want ErrSessionNotExist", err)
				}
				return
			}

		case <-deadline:
			t.Fatal("subscription was not closed")
		}
	}
}
