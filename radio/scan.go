package radio

import (
	"context"
	"slices"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/google/uuid"
)

func (s *Session) startScan(filter []uuid.UUID) error {
	if s.adapterState != bluetooth.AdapterPoweredOn {
		s.log.WithField("adapter", s.adapterState).Warn("Cannot start scan, adapter is not powered on")

		return fault.Wrap(errorkinds.ErrAdapterNotReady,
			fctx.With(context.Background(), "adapter_state", s.adapterState.String()),
			ftag.With(errorkinds.FailedPrecondition),
			fmsg.With("Cannot start scan"),
		)
	}

	if err := s.backend.StartScan(filter); err != nil {
		s.log.WithError(err).Error("Scan request failed")

		return fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "start-scan"),
			ftag.With(errorkinds.Kind(err)),
			fmsg.With("Cannot start scan"),
		)
	}

	clear(s.scanSeen)
	s.scanFilter = slices.Clone(filter)
	s.scanState = bluetooth.ScanScanning
	s.publish(bluetooth.ScanStateChanged{State: bluetooth.ScanScanning})

	return nil
}

func (s *Session) stopScan() {
	if s.scanState == bluetooth.ScanScanning {
		if err := s.backend.StopScan(); err != nil {
			s.log.WithError(err).Error("Stop scan request failed")
		}
	}

	s.scanStopped()
}

// scanStopped marks the scan as stopped without issuing a hardware request.
func (s *Session) scanStopped() {
	s.scanState = bluetooth.ScanStopped
	s.scanFilter = nil
	s.publish(bluetooth.ScanStateChanged{State: bluetooth.ScanStopped})
}

func (s *Session) adapterStateChanged(state bluetooth.AdapterState) {
	if state == s.adapterState {
		return
	}

	s.log.WithField("adapter", state).Info("Adapter state changed")

	s.adapterState = state
	s.publish(bluetooth.AdapterStateChanged{State: state})

	if state.Unavailable() && s.scanState == bluetooth.ScanScanning {
		s.log.Warn("Adapter became unavailable, scan stopped")

		// The stack may keep its discovery session alive across power loss.
		if err := s.backend.StopScan(); err != nil {
			s.log.WithError(err).Debug("Stop scan request failed on adapter loss")
		}
		s.scanStopped()
	}
}

func (s *Session) peripheralDiscovered(adv bluetooth.Advertisement) {
	if s.scanState != bluetooth.ScanScanning {
		s.log.WithField("peripheral", adv.ID).Debug("Dropped discovery outside of a scan")
		return
	}

	if !s.matchesFilter(adv.Services) {
		return
	}

	p := s.track(adv)
	allowed := s.allowed(p.record.Name)

	if _, seen := s.scanSeen[adv.ID]; !seen {
		s.scanSeen[adv.ID] = struct{}{}
		s.log.WithFields(p.fields()).WithField("name", p.record.Name).WithField("allowed", allowed).Debug("Discovered peripheral")
	}

	if !allowed {
		return
	}

	s.publish(bluetooth.PeripheralDiscovered{
		Record: p.record.Clone(),
		RSSI:   p.record.RSSI,
	})
}

// matchesFilter reports whether advertised services intersect the scan filter.
// Advertisements without services are not filtered.
func (s *Session) matchesFilter(advertised []uuid.UUID) bool {
	if len(s.scanFilter) == 0 || len(advertised) == 0 {
		return true
	}

	for _, id := range advertised {
		if slices.Contains(s.scanFilter, id) {
			return true
		}
	}

	return false
}

// allowed reports whether a peripheral name matches the name allow-list.
func (s *Session) allowed(name string) bool {
	if len(s.prefixes) == 0 {
		return true
	}

	if name == "" || name == bluetooth.UnnamedPeripheral {
		return false
	}

	for _, prefix := range s.prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}
