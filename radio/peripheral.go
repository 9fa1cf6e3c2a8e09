package radio

import (
	"context"
	"slices"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// signalHistorySize is the number of signal strength samples kept per peripheral.
const signalHistorySize = 16

// peripheral holds the record of a tracked peripheral, and the transient
// data of its current connection.
type peripheral struct {
	record bluetooth.PeripheralRecord

	serviceFilter []uuid.UUID
	signalHistory []int

	// Characteristics with a pending notification subscription.
	pendingNotify map[uuid.UUID]struct{}

	// Last published value timestamp, per characteristic.
	lastValue map[uuid.UUID]time.Time
}

// transitions lists the allowed connection state transitions.
var transitions = map[bluetooth.ConnectionState][]bluetooth.ConnectionState{
	bluetooth.StateDisconnected: {
		bluetooth.StateConnecting,
	},
	bluetooth.StateConnecting: {
		bluetooth.StateConnected,
		bluetooth.StateFailed,
		bluetooth.StateDisconnecting,
	},
	bluetooth.StateConnected: {
		bluetooth.StateDisconnecting,
		bluetooth.StateFailed,
		bluetooth.StateDisconnected,
	},
	bluetooth.StateDisconnecting: {
		bluetooth.StateDisconnected,
	},
	bluetooth.StateFailed: {
		bluetooth.StateDisconnected,
	},
}

// canTransition reports whether a peripheral may move between the provided states.
func canTransition(from, to bluetooth.ConnectionState) bool {
	return slices.Contains(transitions[from], to)
}

func newPeripheral(id bluetooth.PeripheralID, name string, now time.Time) *peripheral {
	p := &peripheral{
		record:        bluetooth.NewPeripheralRecord(id, name),
		pendingNotify: make(map[uuid.UUID]struct{}),
		lastValue:     make(map[uuid.UUID]time.Time),
	}
	p.record.LastUpdated = now

	return p
}

func (p *peripheral) fields() logrus.Fields {
	return logrus.Fields{
		"peripheral": p.record.ID,
		"state":      p.record.State,
	}
}

// setSignalStrength records a signal strength sample.
func (p *peripheral) setSignalStrength(rssi int) {
	p.record.RSSI = rssi

	p.signalHistory = append(p.signalHistory, rssi)
	if len(p.signalHistory) > signalHistorySize {
		p.signalHistory = slices.Delete(p.signalHistory, 0, len(p.signalHistory)-signalHistorySize)
	}
}

// resetConnection clears all data which belongs to a single connection.
func (p *peripheral) resetConnection() {
	p.record.Services = nil
	p.record.Characteristics = nil
	clear(p.pendingNotify)
	clear(p.lastValue)
}

// resetTransient drops the caches which only live while connected.
func (p *peripheral) resetTransient() {
	p.signalHistory = nil
	clear(p.pendingNotify)
	clear(p.lastValue)
}

// valueTimestamp returns a timestamp for a characteristic value which
// is never earlier than the previous timestamp of that characteristic.
func (p *peripheral) valueTimestamp(characteristic uuid.UUID, now time.Time) time.Time {
	if last, ok := p.lastValue[characteristic]; ok && now.Before(last) {
		now = last
	}
	p.lastValue[characteristic] = now

	return now
}

// lookup returns a tracked peripheral.
func (s *Session) lookup(id bluetooth.PeripheralID, msg string) (*peripheral, error) {
	p, ok := s.peripherals[id]
	if !ok {
		s.log.WithField("peripheral", id).Warn(msg + ": peripheral is not tracked")
		return nil, s.preconditionError(errorkinds.ErrNotFound, id, msg)
	}

	return p, nil
}

// track adds or updates a peripheral from an advertisement.
// A peripheral keeps its identity for the lifetime of the session.
func (s *Session) track(adv bluetooth.Advertisement) *peripheral {
	now := s.now()

	p, ok := s.peripherals[adv.ID]
	if !ok {
		p = newPeripheral(adv.ID, adv.Name, now)
		s.peripherals[adv.ID] = p
	} else if adv.Name != "" && adv.Name != p.record.Name {
		p.record.Name = adv.Name
	}

	if adv.RSSI != bluetooth.UnknownSignalStrength && adv.RSSI != 0 {
		p.setSignalStrength(adv.RSSI)
	}
	p.record.LastUpdated = now

	return p
}

// transition moves a peripheral to a new connection state, and publishes
// ConnectionStateChanged. Disallowed transitions are logged and ignored.
func (s *Session) transition(p *peripheral, to bluetooth.ConnectionState, reason error) bool {
	from := p.record.State
	if !canTransition(from, to) {
		s.log.WithFields(p.fields()).WithField("to", to).Warn("Refused connection state transition")
		return false
	}

	var why string
	if reason != nil {
		why = reason.Error()
	}

	p.record.State = to
	p.record.FailureReason = ""
	if to == bluetooth.StateFailed {
		p.record.FailureReason = why
	}
	p.record.LastUpdated = s.now()

	s.log.WithFields(p.fields()).WithField("from", from).Debug("Connection state changed")
	s.publish(bluetooth.ConnectionStateChanged{
		PeripheralID: p.record.ID,
		From:         from,
		To:           to,
		Reason:       why,
	})

	return true
}

func (s *Session) connect(id bluetooth.PeripheralID, services []uuid.UUID) error {
	p, err := s.lookup(id, "Cannot connect to peripheral")
	if err != nil {
		return err
	}

	if p.record.State != bluetooth.StateDisconnected {
		s.log.WithFields(p.fields()).Warn("Cannot connect to peripheral in the current state")
		return s.preconditionError(errorkinds.ErrInvalidState, id, "Peripheral is not disconnected")
	}

	if s.scanState == bluetooth.ScanScanning {
		s.stopScan()
	}

	p.serviceFilter = slices.Clone(services)
	s.transition(p, bluetooth.StateConnecting, nil)

	if err := s.backend.Connect(id); err != nil {
		s.log.WithFields(p.fields()).WithError(err).Error("Connection request failed")
		s.connectFailed(p, err)
	}

	return nil
}

func (s *Session) disconnect(id bluetooth.PeripheralID) error {
	p, err := s.lookup(id, "Cannot disconnect from peripheral")
	if err != nil {
		return err
	}

	switch p.record.State {
	case bluetooth.StateDisconnected, bluetooth.StateDisconnecting, bluetooth.StateFailed:
		return nil
	}

	s.transition(p, bluetooth.StateDisconnecting, nil)

	if err := s.backend.Disconnect(id); err != nil {
		s.log.WithFields(p.fields()).WithError(err).Error("Disconnection request failed")
		s.disconnected(p, fault.Wrap(err,
			fctx.With(context.Background(), "peripheral", id.String()),
			ftag.With(ftag.Internal),
			fmsg.With("Disconnection request failed"),
		))
	}

	return nil
}

// connected handles a completed connection.
func (s *Session) connected(p *peripheral) {
	p.resetConnection()
	if !s.transition(p, bluetooth.StateConnected, nil) {
		return
	}

	s.publish(bluetooth.PeripheralConnected{Record: p.record.Clone()})

	if err := s.backend.DiscoverServices(p.record.ID, p.serviceFilter); err != nil {
		s.discoveryFailed(p, err)
	}
}

// connectFailed moves a connecting peripheral to failed, and then settles it to disconnected.
func (s *Session) connectFailed(p *peripheral, reason error) {
	if reason == nil {
		reason = fault.New("connection attempt failed")
	}

	if s.transition(p, bluetooth.StateFailed, reason) {
		s.disconnected(p, reason)
	}
}

// discoveryFailed moves a connected peripheral to failed and tears down the link.
func (s *Session) discoveryFailed(p *peripheral, reason error) {
	s.log.WithFields(p.fields()).WithError(reason).Error("Service discovery failed")

	if !s.transition(p, bluetooth.StateFailed, reason) {
		return
	}

	if err := s.backend.Disconnect(p.record.ID); err != nil {
		s.log.WithFields(p.fields()).WithError(err).Error("Disconnection request failed")
		s.disconnected(p, reason)
	}
}

// disconnected settles a peripheral to disconnected, and publishes
// PeripheralDisconnected. The record stays tracked.
func (s *Session) disconnected(p *peripheral, reason error) {
	if p.record.State == bluetooth.StateDisconnected {
		return
	}

	failure := p.record.FailureReason
	if !s.transition(p, bluetooth.StateDisconnected, reason) {
		return
	}

	p.resetTransient()

	why := failure
	if reason != nil {
		why = reason.Error()
	}
	s.publish(bluetooth.PeripheralDisconnected{
		Record: p.record.Clone(),
		Reason: why,
	})
}
