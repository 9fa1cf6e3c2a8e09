package radio

import (
	"slices"

	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/google/uuid"
)

// handler receives backend callbacks and queues them onto the owner goroutine.
// None of its methods block.
type handler struct {
	s *Session
}

func (h *handler) AdapterStateChanged(state bluetooth.AdapterState) {
	h.s.post(func() { h.s.adapterStateChanged(state) })
}

func (h *handler) PeripheralDiscovered(adv bluetooth.Advertisement) {
	adv.Services = slices.Clone(adv.Services)
	h.s.post(func() { h.s.peripheralDiscovered(adv) })
}

func (h *handler) PeripheralConnected(id bluetooth.PeripheralID) {
	h.withPeripheral(id, "connected", func(p *peripheral) {
		if p.record.State != bluetooth.StateConnecting {
			h.s.log.WithFields(p.fields()).Debug("Dropped stale connection callback")
			return
		}

		h.s.connected(p)
	})
}

func (h *handler) PeripheralConnectFailed(id bluetooth.PeripheralID, reason error) {
	h.withPeripheral(id, "connect-failed", func(p *peripheral) {
		if p.record.State != bluetooth.StateConnecting {
			h.s.log.WithFields(p.fields()).Debug("Dropped stale connection failure")
			return
		}

		h.s.log.WithFields(p.fields()).WithError(reason).Error("Connection attempt failed")
		h.s.connectFailed(p, reason)
	})
}

func (h *handler) PeripheralDisconnected(id bluetooth.PeripheralID, reason error) {
	h.withPeripheral(id, "disconnected", func(p *peripheral) {
		if p.record.State == bluetooth.StateConnecting {
			h.s.log.WithFields(p.fields()).WithError(reason).Error("Link lost while connecting")
			h.s.connectFailed(p, reason)

			return
		}

		if reason != nil {
			h.s.log.WithFields(p.fields()).WithError(reason).Info("Peripheral disconnected")
		}

		h.s.disconnected(p, reason)
	})
}

func (h *handler) ServicesDiscovered(id bluetooth.PeripheralID, services []bluetooth.DiscoveredService, err error) {
	services = slices.Clone(services)
	h.withPeripheral(id, "services-discovered", func(p *peripheral) {
		h.s.servicesDiscovered(p, services, err)
	})
}

func (h *handler) CharacteristicsDiscovered(
	id bluetooth.PeripheralID,
	service uuid.UUID,
	characteristics []bluetooth.DiscoveredCharacteristic,
	err error,
) {
	characteristics = slices.Clone(characteristics)
	h.withPeripheral(id, "characteristics-discovered", func(p *peripheral) {
		h.s.characteristicsDiscovered(p, service, characteristics, err)
	})
}

func (h *handler) CharacteristicValueUpdated(id bluetooth.PeripheralID, characteristic uuid.UUID, value []byte) {
	value = slices.Clone(value)
	h.withPeripheral(id, "value-updated", func(p *peripheral) {
		h.s.valueUpdated(p, characteristic, value)
	})
}

func (h *handler) SignalStrengthRead(id bluetooth.PeripheralID, rssi int) {
	h.withPeripheral(id, "signal-strength-read", func(p *peripheral) {
		h.s.signalStrengthRead(p, rssi)
	})
}

// withPeripheral queues fn for a tracked peripheral. Callbacks for
// untracked peripherals are dropped.
func (h *handler) withPeripheral(id bluetooth.PeripheralID, callback string, fn func(p *peripheral)) {
	h.s.post(func() {
		p, ok := h.s.peripherals[id]
		if !ok {
			h.s.log.WithField("peripheral", id).WithField("callback", callback).Debug("Dropped callback for an untracked peripheral")
			return
		}

		fn(p)
	})
}
