package radio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bluetuith-org/api-ble/api/attributes"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/bluetuith-org/api-ble/api/eventbus"
	"github.com/bluetuith-org/api-ble/backend/simulator"
	"github.com/google/uuid"
)

const (
	waitTimeout = 2 * time.Second

	monitorID bluetooth.PeripheralID = "C4:7F:51:00:00:01"
	speakerID bluetooth.PeripheralID = "C4:7F:51:00:00:02"
)

var markerID bluetooth.PeripheralID = "marker"

type testSession struct {
	*Session

	sim *simulator.Backend
	bus *eventbus.Bus
	sub *eventbus.Subscription
}

func heartRateMonitor() simulator.PeripheralSpec {
	return simulator.PeripheralSpec{
		ID:   monitorID,
		Name: "NordicHRM 52",
		RSSI: -60,
		Services: []simulator.ServiceSpec{
			{
				ID:      attributes.ServiceHeartRate,
				Primary: true,
				Characteristics: []simulator.CharacteristicSpec{
					{ID: attributes.CharacteristicHeartRate, Notify: true},
				},
			},
			{
				ID:      attributes.ServiceBattery,
				Primary: true,
				Characteristics: []simulator.CharacteristicSpec{
					{ID: attributes.CharacteristicBatteryLevel, Read: true, Notify: true, Value: []byte{0x64}},
				},
			},
		},
	}
}

func speaker() simulator.PeripheralSpec {
	return simulator.PeripheralSpec{
		ID:   speakerID,
		Name: "Kitchen Speaker",
		RSSI: -70,
	}
}

func newTestSession(t *testing.T, simOpts []simulator.Option, opts ...Option) *testSession {
	t.Helper()

	bus := eventbus.New()
	sim := simulator.New(simOpts...)
	sub := bus.Subscribe()

	s := New(sim, bus, opts...)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
		bus.Close()
	})

	ts := &testSession{Session: s, sim: sim, bus: bus, sub: sub}
	ts.expect(t, bluetooth.EventAdapterStateChanged)

	return ts
}

func (ts *testSession) next(t *testing.T) bluetooth.Event {
	t.Helper()

	select {
	case ev, ok := <-ts.sub.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev

	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}

	return nil
}

// expect asserts that exactly the provided events are published next, in order.
func (ts *testSession) expect(t *testing.T, ids ...bluetooth.EventID) []bluetooth.Event {
	t.Helper()

	events := make([]bluetooth.Event, 0, len(ids))
	for i, id := range ids {
		ev := ts.next(t)
		if ev.EventID() != id {
			t.Fatalf("event %d is %v (%+v), want %v", i, ev.EventID(), ev, id)
		}

		events = append(events, ev)
	}

	return events
}

// expectQuiet asserts that no event is published by any pending work.
func (ts *testSession) expectQuiet(t *testing.T) {
	t.Helper()

	for range 3 {
		ts.ScanState()
	}
	ts.bus.Publish(bluetooth.SignalStrengthUpdated{PeripheralID: markerID})

	if ev := ts.next(t); ev.Peripheral() != markerID {
		t.Fatalf("unexpected event %v (%+v)", ev.EventID(), ev)
	}
}

func (ts *testSession) scan(t *testing.T) {
	t.Helper()

	if err := ts.StartScan(); err != nil {
		t.Fatalf("start scan: %v", err)
	}
	ts.expect(t, bluetooth.EventScanStateChanged)
}

// connectMonitor scans, connects to the heart rate monitor and waits until
// discovery and the initial battery read complete.
func (ts *testSession) connectMonitor(t *testing.T) {
	t.Helper()

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	if err := ts.Connect(monitorID); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ts.expect(t,
		bluetooth.EventScanStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralConnected,
		bluetooth.EventServiceDiscovered,
		bluetooth.EventServiceDiscovered,
		bluetooth.EventCharacteristicsDiscovered,
		bluetooth.EventCharacteristicsDiscovered,
		bluetooth.EventCharacteristicValueChanged,
	)
}

func TestStartScanRequiresPoweredAdapter(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithAdapterState(bluetooth.AdapterPoweredOff),
	})

	err := ts.StartScan()
	if !errors.Is(err, errorkinds.ErrAdapterNotReady) {
		t.Fatalf("start scan error = %v, want ErrAdapterNotReady", err)
	}
	if !errorkinds.IsPrecondition(err) {
		t.Errorf("start scan error is not a precondition error")
	}

	ts.expectQuiet(t)
	if calls := ts.sim.CallsTo("StartScan"); len(calls) != 0 {
		t.Errorf("backend received %d scan requests, want 0", len(calls))
	}
}

func TestDiscoveryPreservesOrderAndIdentity(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	for i := range 10 {
		if err := ts.sim.SetRSSI(monitorID, -40-i); err != nil {
			t.Fatal(err)
		}
		if err := ts.sim.Advertise(monitorID); err != nil {
			t.Fatal(err)
		}
	}

	for i := range 10 {
		ev := ts.expect(t, bluetooth.EventPeripheralDiscovered)[0].(bluetooth.PeripheralDiscovered)
		if ev.Record.ID != monitorID {
			t.Fatalf("discovery %d has id %q, want %q", i, ev.Record.ID, monitorID)
		}
		if ev.RSSI != -40-i {
			t.Fatalf("discovery %d has rssi %d, want %d", i, ev.RSSI, -40-i)
		}
	}

	records := ts.Peripherals()
	if len(records) != 1 || records[0].ID != monitorID {
		t.Fatalf("tracked peripherals = %+v, want only %q", records, monitorID)
	}
	if records[0].RSSI != -49 {
		t.Errorf("tracked rssi = %d, want -49", records[0].RSSI)
	}
}

func TestDiscoveryFiltersNamesAtEmission(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor(), speaker()),
	})

	ts.scan(t)
	ev := ts.expect(t, bluetooth.EventPeripheralDiscovered)[0].(bluetooth.PeripheralDiscovered)
	if ev.Record.ID != monitorID {
		t.Fatalf("discovered %q, want %q", ev.Record.ID, monitorID)
	}
	ts.expectQuiet(t)

	if _, ok := ts.Peripheral(speakerID); !ok {
		t.Fatalf("peripheral with unrecognized name is not tracked")
	}
	if err := ts.Connect(speakerID); err != nil {
		t.Fatalf("connect to hidden peripheral: %v", err)
	}
}

func TestDiscoveryWithoutPrefixesAllowsAll(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor(), speaker()),
	}, WithNamePrefixes())

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered, bluetooth.EventPeripheralDiscovered)
}

func TestDiscoveryHonoursServiceFilter(t *testing.T) {
	monitor := heartRateMonitor()
	monitor.Advertised = []uuid.UUID{attributes.ServiceHeartRate}

	thingy := simulator.PeripheralSpec{
		ID:         "C4:7F:51:00:00:03",
		Name:       "Thingy 91",
		Advertised: []uuid.UUID{attributes.ServiceEnvironmentSensing},
	}

	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(monitor, thingy),
	})

	if err := ts.StartScan(attributes.ServiceHeartRate); err != nil {
		t.Fatal(err)
	}

	ts.expect(t, bluetooth.EventScanStateChanged)
	ev := ts.expect(t, bluetooth.EventPeripheralDiscovered)[0].(bluetooth.PeripheralDiscovered)
	if ev.Record.ID != monitorID {
		t.Fatalf("discovered %q, want %q", ev.Record.ID, monitorID)
	}
	ts.expectQuiet(t)
}

func TestDiscoveryIgnoredWhenNotScanning(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	(&handler{ts.Session}).PeripheralDiscovered(bluetooth.Advertisement{ID: monitorID, Name: "NordicHRM 52"})
	ts.expectQuiet(t)

	if _, ok := ts.Peripheral(monitorID); ok {
		t.Errorf("peripheral discovered outside of a scan is tracked")
	}
}

func TestStopScanIsIdempotent(t *testing.T) {
	ts := newTestSession(t, nil)

	ts.StopScan()
	ev := ts.expect(t, bluetooth.EventScanStateChanged)[0].(bluetooth.ScanStateChanged)
	if ev.State != bluetooth.ScanStopped {
		t.Fatalf("scan state = %v, want stopped", ev.State)
	}
	ts.expectQuiet(t)

	if calls := ts.sim.CallsTo("StopScan"); len(calls) != 0 {
		t.Errorf("backend received %d stop requests, want 0", len(calls))
	}
}

func TestAdapterPowerLossStopsScan(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	ts.sim.SetAdapterState(bluetooth.AdapterPoweredOff)
	events := ts.expect(t, bluetooth.EventAdapterStateChanged, bluetooth.EventScanStateChanged)
	if state := events[1].(bluetooth.ScanStateChanged).State; state != bluetooth.ScanStopped {
		t.Fatalf("scan state = %v, want stopped", state)
	}

	if calls := ts.sim.CallsTo("StopScan"); len(calls) != 1 {
		t.Errorf("backend received %d stop requests, want 1", len(calls))
	}
	if err := ts.sim.Advertise(monitorID); err != nil {
		t.Fatal(err)
	}
	(&handler{ts.Session}).PeripheralDiscovered(bluetooth.Advertisement{ID: monitorID, Name: "NordicHRM 52"})
	ts.expectQuiet(t)

	ts.sim.SetAdapterState(bluetooth.AdapterPoweredOn)
	ts.expect(t, bluetooth.EventAdapterStateChanged)
	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)
}

func TestConnectUnknownPeripheral(t *testing.T) {
	ts := newTestSession(t, nil)

	err := ts.Connect("X")
	if !errors.Is(err, errorkinds.ErrNotFound) {
		t.Fatalf("connect error = %v, want ErrNotFound", err)
	}
	if !errorkinds.IsPrecondition(err) {
		t.Errorf("connect error is not a precondition error")
	}

	ts.expectQuiet(t)
}

func TestConnectLifecycle(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	var transitions []bluetooth.ConnectionState
	states := ts.bus.Subscribe(bluetooth.EventConnectionStateChanged)

	ts.connectMonitor(t)

	if err := ts.sim.Notify(monitorID, attributes.CharacteristicHeartRate, []byte{0x00, 0x4B}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	value := ts.expect(t, bluetooth.EventCharacteristicValueChanged)[0].(bluetooth.CharacteristicValueChanged)
	if !value.Value.Equal(bluetooth.IntegerValue(75)) {
		t.Errorf("heart rate = %v, want 75", value.Value)
	}
	if value.Name != "Heart Rate Measurement" {
		t.Errorf("characteristic name = %q", value.Name)
	}

	if err := ts.Disconnect(monitorID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	ts.expect(t,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralDisconnected,
	)

	for range 4 {
		select {
		case ev := <-states.C:
			transitions = append(transitions, ev.(bluetooth.ConnectionStateChanged).To)
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for state changes")
		}
	}

	want := []bluetooth.ConnectionState{
		bluetooth.StateConnecting,
		bluetooth.StateConnected,
		bluetooth.StateDisconnecting,
		bluetooth.StateDisconnected,
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}

	record, _ := ts.Peripheral(monitorID)
	if record.State != bluetooth.StateDisconnected {
		t.Errorf("state = %v, want disconnected", record.State)
	}
	if len(record.Services) != 2 || len(record.Characteristics) != 2 {
		t.Errorf("record has %d services and %d characteristics, want 2 and 2",
			len(record.Services), len(record.Characteristics))
	}
}

func TestDiscoveryReadsAndSubscribes(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.connectMonitor(t)

	reads := ts.sim.CallsTo("ReadCharacteristic")
	if len(reads) != 1 || reads[0].Characteristic != attributes.CharacteristicBatteryLevel {
		t.Errorf("read requests = %+v, want only battery level", reads)
	}

	if !ts.sim.Notifying(monitorID, attributes.CharacteristicHeartRate) {
		t.Errorf("heart rate notifications are not enabled")
	}
	if !ts.sim.Notifying(monitorID, attributes.CharacteristicBatteryLevel) {
		t.Errorf("battery notifications are not enabled")
	}
}

func TestReconnectClearsAttributes(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.connectMonitor(t)

	if err := ts.Disconnect(monitorID); err != nil {
		t.Fatal(err)
	}
	ts.expect(t,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralDisconnected,
	)

	batteryOnly := heartRateMonitor()
	batteryOnly.Services = batteryOnly.Services[1:]
	ts.sim.Add(batteryOnly)

	if err := ts.Connect(monitorID); err != nil {
		t.Fatal(err)
	}

	events := ts.expect(t,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralConnected,
		bluetooth.EventServiceDiscovered,
		bluetooth.EventCharacteristicsDiscovered,
		bluetooth.EventCharacteristicValueChanged,
	)

	connected := events[2].(bluetooth.PeripheralConnected)
	if len(connected.Record.Services) != 0 || len(connected.Record.Characteristics) != 0 {
		t.Fatalf("reconnected record carries stale attributes: %+v", connected.Record)
	}

	record, _ := ts.Peripheral(monitorID)
	if len(record.Services) != 1 || record.Services[0].ID != attributes.ServiceBattery {
		t.Fatalf("services = %+v, want only battery", record.Services)
	}
	if len(record.Characteristics) != 1 || record.Characteristics[0].ID != attributes.CharacteristicBatteryLevel {
		t.Fatalf("characteristics = %+v, want only battery level", record.Characteristics)
	}
}

func TestConnectFailure(t *testing.T) {
	reason := errors.New("connection timed out")

	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	if err := ts.sim.FailConnect(monitorID, reason); err != nil {
		t.Fatal(err)
	}
	if err := ts.Connect(monitorID); err != nil {
		t.Fatalf("connect: %v", err)
	}

	events := ts.expect(t,
		bluetooth.EventScanStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralDisconnected,
	)

	failed := events[2].(bluetooth.ConnectionStateChanged)
	if failed.To != bluetooth.StateFailed || failed.Reason != reason.Error() {
		t.Errorf("transition = %+v, want failed with reason", failed)
	}
	if settled := events[3].(bluetooth.ConnectionStateChanged); settled.From != bluetooth.StateFailed || settled.To != bluetooth.StateDisconnected {
		t.Errorf("transition = %+v, want failed to disconnected", settled)
	}
	if ev := events[4].(bluetooth.PeripheralDisconnected); ev.Reason != reason.Error() {
		t.Errorf("disconnect reason = %q, want %q", ev.Reason, reason.Error())
	}

	if err := ts.sim.FailConnect(monitorID, nil); err != nil {
		t.Fatal(err)
	}
	if err := ts.Connect(monitorID); err != nil {
		t.Fatalf("retry connect: %v", err)
	}
	ts.expect(t,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralConnected,
	)
}

func TestConnectRequiresDisconnectedState(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.connectMonitor(t)

	err := ts.Connect(monitorID)
	if !errors.Is(err, errorkinds.ErrInvalidState) {
		t.Fatalf("connect error = %v, want ErrInvalidState", err)
	}
	ts.expectQuiet(t)
}

func TestDisconnectWhileConnecting(t *testing.T) {
	monitor := heartRateMonitor()
	monitor.HoldConnect = true

	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(monitor),
	})

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	if err := ts.Connect(monitorID); err != nil {
		t.Fatal(err)
	}
	ts.expect(t, bluetooth.EventScanStateChanged, bluetooth.EventConnectionStateChanged)

	if err := ts.Disconnect(monitorID); err != nil {
		t.Fatal(err)
	}
	events := ts.expect(t,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralDisconnected,
	)

	if ev := events[0].(bluetooth.ConnectionStateChanged); ev.From != bluetooth.StateConnecting || ev.To != bluetooth.StateDisconnecting {
		t.Errorf("transition = %+v, want connecting to disconnecting", ev)
	}
}

func TestLinkDropWhileConnecting(t *testing.T) {
	monitor := heartRateMonitor()
	monitor.HoldConnect = true

	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(monitor),
	})

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	if err := ts.Connect(monitorID); err != nil {
		t.Fatal(err)
	}
	ts.expect(t, bluetooth.EventScanStateChanged, bluetooth.EventConnectionStateChanged)

	if err := ts.sim.DropLink(monitorID, errors.New("supervision timeout")); err != nil {
		t.Fatal(err)
	}
	events := ts.expect(t,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralDisconnected,
	)

	failed := events[0].(bluetooth.ConnectionStateChanged)
	if failed.From != bluetooth.StateConnecting || failed.To != bluetooth.StateFailed {
		t.Errorf("transition = %+v, want connecting to failed", failed)
	}
	if failed.Reason != "supervision timeout" {
		t.Errorf("failure reason = %q, want supervision timeout", failed.Reason)
	}

	if ev := events[1].(bluetooth.ConnectionStateChanged); ev.From != bluetooth.StateFailed || ev.To != bluetooth.StateDisconnected {
		t.Errorf("transition = %+v, want failed to disconnected", ev)
	}
	if ev := events[2].(bluetooth.PeripheralDisconnected); ev.Reason != "supervision timeout" {
		t.Errorf("disconnect reason = %q, want supervision timeout", ev.Reason)
	}

	record, _ := ts.Peripheral(monitorID)
	if record.State != bluetooth.StateDisconnected {
		t.Errorf("state = %v, want disconnected", record.State)
	}
}

func TestStaleConnectionCallbackIsDropped(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	(&handler{ts.Session}).PeripheralConnected(monitorID)
	ts.expectQuiet(t)

	record, _ := ts.Peripheral(monitorID)
	if record.State != bluetooth.StateDisconnected {
		t.Errorf("state = %v, want disconnected", record.State)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	if err := ts.Disconnect(monitorID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	ts.expectQuiet(t)

	if err := ts.Disconnect("X"); !errors.Is(err, errorkinds.ErrNotFound) {
		t.Errorf("disconnect error = %v, want ErrNotFound", err)
	}
}

func TestServiceDiscoveryFailure(t *testing.T) {
	reason := errors.New("gatt error")

	monitor := heartRateMonitor()
	monitor.FailDiscovery = reason

	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(monitor),
	})

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	if err := ts.Connect(monitorID); err != nil {
		t.Fatal(err)
	}

	events := ts.expect(t,
		bluetooth.EventScanStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralConnected,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralDisconnected,
	)

	if ev := events[4].(bluetooth.ConnectionStateChanged); ev.To != bluetooth.StateFailed || ev.Reason != reason.Error() {
		t.Errorf("transition = %+v, want failed", ev)
	}
	if calls := ts.sim.CallsTo("Disconnect"); len(calls) != 1 {
		t.Errorf("backend received %d disconnect requests, want 1", len(calls))
	}
}

func TestLinkLossDropsLateValues(t *testing.T) {
	reason := errors.New("link supervision timeout")

	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.connectMonitor(t)

	if err := ts.sim.DropLink(monitorID, reason); err != nil {
		t.Fatal(err)
	}
	events := ts.expect(t, bluetooth.EventConnectionStateChanged, bluetooth.EventPeripheralDisconnected)
	if ev := events[1].(bluetooth.PeripheralDisconnected); ev.Reason != reason.Error() {
		t.Errorf("disconnect reason = %q, want %q", ev.Reason, reason.Error())
	}

	(&handler{ts.Session}).CharacteristicValueUpdated(monitorID, attributes.CharacteristicHeartRate, []byte{0x00, 0x4B})
	ts.expectQuiet(t)
}

func TestUndecodableValueIsDropped(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.connectMonitor(t)

	if err := ts.sim.Notify(monitorID, attributes.CharacteristicHeartRate, []byte{0x01, 0x4B}); err != nil {
		t.Fatal(err)
	}
	ts.expectQuiet(t)

	if err := ts.sim.Notify(monitorID, attributes.CharacteristicHeartRate, []byte{0x01, 0x2C, 0x01}); err != nil {
		t.Fatal(err)
	}
	value := ts.expect(t, bluetooth.EventCharacteristicValueChanged)[0].(bluetooth.CharacteristicValueChanged)
	if !value.Value.Equal(bluetooth.IntegerValue(300)) {
		t.Errorf("heart rate = %v, want 300", value.Value)
	}
}

func TestValueTimestampsAreMonotonic(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		now = now.Add(-time.Second)
		return now
	}

	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	}, WithClock(clock))

	ts.connectMonitor(t)

	var last time.Time
	for i := range 3 {
		if err := ts.sim.Notify(monitorID, attributes.CharacteristicHeartRate, []byte{0x00, byte(60 + i)}); err != nil {
			t.Fatal(err)
		}

		value := ts.expect(t, bluetooth.EventCharacteristicValueChanged)[0].(bluetooth.CharacteristicValueChanged)
		if value.Timestamp.Before(last) {
			t.Fatalf("timestamp %v is before previous %v", value.Timestamp, last)
		}
		last = value.Timestamp
	}
}

func TestKnownPeripherals(t *testing.T) {
	monitor := heartRateMonitor()
	monitor.Retained = true

	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(monitor, speaker()),
	})

	records := ts.KnownPeripherals(monitorID, speakerID, "missing")
	if len(records) != 1 || records[0].ID != monitorID {
		t.Fatalf("known peripherals = %+v, want only %q", records, monitorID)
	}
	if records[0].State != bluetooth.StateDisconnected {
		t.Errorf("state = %v, want disconnected", records[0].State)
	}
	ts.expectQuiet(t)

	if err := ts.Connect(monitorID); err != nil {
		t.Fatalf("connect to retained peripheral: %v", err)
	}
	ts.expect(t,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralConnected,
	)
}

func TestReadSignalStrength(t *testing.T) {
	ts := newTestSession(t, []simulator.Option{
		simulator.WithPeripherals(heartRateMonitor()),
	})

	ts.scan(t)
	ts.expect(t, bluetooth.EventPeripheralDiscovered)

	if err := ts.ReadSignalStrength(monitorID); !errors.Is(err, errorkinds.ErrInvalidState) {
		t.Fatalf("read error = %v, want ErrInvalidState", err)
	}

	if err := ts.Connect(monitorID); err != nil {
		t.Fatal(err)
	}
	ts.expect(t,
		bluetooth.EventScanStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventConnectionStateChanged,
		bluetooth.EventPeripheralConnected,
		bluetooth.EventServiceDiscovered,
		bluetooth.EventServiceDiscovered,
		bluetooth.EventCharacteristicsDiscovered,
		bluetooth.EventCharacteristicsDiscovered,
		bluetooth.EventCharacteristicValueChanged,
	)

	if err := ts.sim.SetRSSI(monitorID, -42); err != nil {
		t.Fatal(err)
	}
	if err := ts.ReadSignalStrength(monitorID); err != nil {
		t.Fatalf("read signal strength: %v", err)
	}

	ev := ts.expect(t, bluetooth.EventSignalStrengthUpdated)[0].(bluetooth.SignalStrengthUpdated)
	if ev.RSSI != -42 {
		t.Errorf("rssi = %d, want -42", ev.RSSI)
	}
}

func TestClosedSessionRejectsOperations(t *testing.T) {
	ts := newTestSession(t, nil)

	if err := ts.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := ts.StartScan(); !errors.Is(err, errorkinds.ErrSessionNotExist) {
		t.Errorf("start scan error = %v, want ErrSessionNotExist", err)
	}
	if err := ts.Connect(monitorID); !errors.Is(err, errorkinds.ErrSessionNotExist) {
		t.Errorf("connect error = %v, want ErrSessionNotExist", err)
	}
	if state := ts.AdapterState(); state != bluetooth.AdapterUnknown {
		t.Errorf("adapter state = %v, want unknown", state)
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to bluetooth.ConnectionState
		allowed  bool
	}{
		{bluetooth.StateDisconnected, bluetooth.StateConnecting, true},
		{bluetooth.StateDisconnected, bluetooth.StateConnected, false},
		{bluetooth.StateConnecting, bluetooth.StateConnected, true},
		{bluetooth.StateConnecting, bluetooth.StateFailed, true},
		{bluetooth.StateConnecting, bluetooth.StateDisconnected, false},
		{bluetooth.StateConnected, bluetooth.StateConnecting, false},
		{bluetooth.StateConnected, bluetooth.StateFailed, true},
		{bluetooth.StateFailed, bluetooth.StateConnecting, false},
		{bluetooth.StateFailed, bluetooth.StateDisconnected, true},
		{bluetooth.StateDisconnecting, bluetooth.StateConnected, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.allowed {
			t.Errorf("canTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}
