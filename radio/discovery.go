package radio

import (
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/google/uuid"
)

func (s *Session) servicesDiscovered(p *peripheral, services []bluetooth.DiscoveredService, err error) {
	if p.record.State != bluetooth.StateConnected {
		s.log.WithFields(p.fields()).Debug("Dropped stale service discovery")
		return
	}

	if err != nil {
		s.discoveryFailed(p, err)
		return
	}

	id := p.record.ID
	for _, discovered := range services {
		if _, ok := p.record.Service(discovered.ID); ok {
			continue
		}

		service := bluetooth.ServiceRecord{
			ID:           discovered.ID,
			Name:         s.catalog.Name(discovered.ID),
			IsPrimary:    discovered.IsPrimary,
			PeripheralID: id,
		}
		p.record.Services = append(p.record.Services, service)
		s.publish(bluetooth.ServiceDiscovered{Service: service})

		if err := s.backend.DiscoverCharacteristics(id, service.ID); err != nil {
			s.log.WithFields(p.fields()).WithField("service", service.ID).WithError(err).Error("Characteristic discovery request failed")
		}
	}

	p.record.LastUpdated = s.now()
}

func (s *Session) characteristicsDiscovered(
	p *peripheral,
	serviceID uuid.UUID,
	characteristics []bluetooth.DiscoveredCharacteristic,
	err error,
) {
	if p.record.State != bluetooth.StateConnected {
		s.log.WithFields(p.fields()).Debug("Dropped stale characteristic discovery")
		return
	}

	log := s.log.WithFields(p.fields()).WithField("service", serviceID)

	if err != nil {
		log.WithError(err).Error("Characteristic discovery failed")
		return
	}

	if _, ok := p.record.Service(serviceID); !ok {
		log.Debug("Dropped characteristics of an unknown service")
		return
	}

	id := p.record.ID
	batch := make([]bluetooth.CharacteristicRecord, 0, len(characteristics))
	for _, discovered := range characteristics {
		batch = append(batch, bluetooth.CharacteristicRecord{
			ID:             discovered.ID,
			Name:           s.catalog.Name(discovered.ID),
			ServiceID:      serviceID,
			PeripheralID:   id,
			SupportsRead:   discovered.SupportsRead,
			SupportsNotify: discovered.SupportsNotify,
		})
	}

	kept := p.record.Characteristics[:0]
	for _, c := range p.record.Characteristics {
		if c.ServiceID != serviceID {
			kept = append(kept, c)
		}
	}
	p.record.Characteristics = append(kept, batch...)
	p.record.LastUpdated = s.now()

	s.publish(bluetooth.CharacteristicsDiscovered{
		PeripheralID:    id,
		ServiceID:       serviceID,
		Characteristics: append([]bluetooth.CharacteristicRecord(nil), batch...),
	})

	for _, c := range batch {
		clog := log.WithField("characteristic", c.ID)

		if c.SupportsRead {
			if err := s.backend.ReadCharacteristic(id, serviceID, c.ID); err != nil {
				clog.WithError(err).Error("Read request failed")
			}
		}

		if c.SupportsNotify {
			p.pendingNotify[c.ID] = struct{}{}
			if err := s.backend.SetNotify(id, serviceID, c.ID, true); err != nil {
				delete(p.pendingNotify, c.ID)
				clog.WithError(err).Error("Notification request failed")
			}
		}
	}
}

func (s *Session) valueUpdated(p *peripheral, characteristic uuid.UUID, raw []byte) {
	log := s.log.WithFields(p.fields()).WithField("characteristic", characteristic)

	if p.record.State != bluetooth.StateConnected {
		log.Debug("Dropped stale characteristic value")
		return
	}

	value, err := s.catalog.Decode(characteristic, raw)
	if err != nil {
		log.WithError(err).Warn("Dropped undecodable characteristic value")
		return
	}

	delete(p.pendingNotify, characteristic)

	now := s.now()
	p.record.LastUpdated = now

	s.publish(bluetooth.CharacteristicValueChanged{
		PeripheralID:     p.record.ID,
		CharacteristicID: characteristic,
		Name:             s.catalog.Name(characteristic),
		Value:            value,
		Timestamp:        p.valueTimestamp(characteristic, now),
	})
}

func (s *Session) signalStrengthRead(p *peripheral, rssi int) {
	p.setSignalStrength(rssi)
	p.record.LastUpdated = s.now()

	s.publish(bluetooth.SignalStrengthUpdated{
		PeripheralID: p.record.ID,
		RSSI:         rssi,
	})
}
