package bluetooth

import (
	"context"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/bluetuith-org/api-ble/api/helpers/serde"
	"github.com/ugorji/go/codec"
)

// WireEvent describes the envelope of an event sent to external consumers.
type WireEvent struct {
	EventID string `json:"event_id"`
	Event   any    `json:"event"`
}

type rawWireEvent struct {
	EventID string    `json:"event_id"`
	Event   codec.Raw `json:"event"`
}

// MarshalEvent encodes an event into its wire envelope.
func MarshalEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errorkinds.ErrMethodCall
	}

	return serde.MarshalJson(WireEvent{
		EventID: ev.EventID().String(),
		Event:   ev,
	})
}

// UnmarshalEvent decodes a wire envelope into its concrete event type.
func UnmarshalEvent(data []byte) (Event, error) {
	var raw rawWireEvent
	if err := serde.UnmarshalJson(data, &raw); err != nil {
		return nil, fault.Wrap(err,
			ftag.With(ftag.InvalidArgument),
			fmsg.With("Cannot decode event envelope"),
		)
	}

	var ev Event
	var err error

	switch id := ParseEventID(raw.EventID); id {
	case EventAdapterStateChanged:
		ev, err = unmarshalInto[AdapterStateChanged](raw.Event)

	case EventScanStateChanged:
		ev, err = unmarshalInto[ScanStateChanged](raw.Event)

	case EventPeripheralDiscovered:
		ev, err = unmarshalInto[PeripheralDiscovered](raw.Event)

	case EventPeripheralConnected:
		ev, err = unmarshalInto[PeripheralConnected](raw.Event)

	case EventPeripheralDisconnected:
		ev, err = unmarshalInto[PeripheralDisconnected](raw.Event)

	case EventConnectionStateChanged:
		ev, err = unmarshalInto[ConnectionStateChanged](raw.Event)

	case EventServiceDiscovered:
		ev, err = unmarshalInto[ServiceDiscovered](raw.Event)

	case EventCharacteristicsDiscovered:
		ev, err = unmarshalInto[CharacteristicsDiscovered](raw.Event)

	case EventCharacteristicValueChanged:
		ev, err = unmarshalInto[CharacteristicValueChanged](raw.Event)

	case EventSignalStrengthUpdated:
		ev, err = unmarshalInto[SignalStrengthUpdated](raw.Event)

	default:
		return nil, fault.Wrap(errorkinds.ErrMethodCall,
			fctx.With(context.Background(), "event_id", raw.EventID),
			ftag.With(ftag.InvalidArgument),
			fmsg.With("Unknown event identifier"),
		)
	}

	if err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "event_id", raw.EventID),
			ftag.With(ftag.InvalidArgument),
			fmsg.With("Cannot decode event"),
		)
	}

	return ev, nil
}

// MarshalValue encodes a characteristic value.
func MarshalValue(v CharacteristicValue) ([]byte, error) {
	return serde.MarshalJson(v)
}

// UnmarshalValue decodes a characteristic value.
func UnmarshalValue(data []byte) (CharacteristicValue, error) {
	var v CharacteristicValue
	if err := serde.UnmarshalJson(data, &v); err != nil {
		return v, fault.Wrap(err, ftag.With(ftag.InvalidArgument), fmsg.With("Cannot decode characteristic value"))
	}

	return v, nil
}

func unmarshalInto[T Event](data []byte) (Event, error) {
	var ev T
	if err := serde.UnmarshalJson(data, &ev); err != nil {
		return nil, err
	}

	return ev, nil
}
