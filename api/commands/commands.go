// Package commands describes the closed set of remote commands accepted by
// a session, and their wire format.
package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/attributes"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/bluetuith-org/api-ble/api/helpers/serde"
	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
)

// Command is one of StartScan, StopScan, Connect, Disconnect,
// KnownPeripherals or ReadSignalStrength.
type Command interface {
	Name() Name
	command()
}

// StartScan starts discovering peripherals which advertise any of the
// provided services. A non-zero timeout stops the scan after it elapses.
type StartScan struct {
	Services []uuid.UUID
	Timeout  time.Duration
}

// StopScan stops discovering peripherals.
type StopScan struct{}

// Connect connects to a peripheral, and discovers the provided services.
type Connect struct {
	PeripheralID bluetooth.PeripheralID
	Services     []uuid.UUID
}

// Disconnect disconnects from a peripheral.
type Disconnect struct {
	PeripheralID bluetooth.PeripheralID
}

// KnownPeripherals looks up peripherals retained by the radio stack.
type KnownPeripherals struct {
	PeripheralIDs []bluetooth.PeripheralID
}

// ReadSignalStrength requests a signal strength measurement.
type ReadSignalStrength struct {
	PeripheralID bluetooth.PeripheralID
}

func (StartScan) Name() Name          { return NameStartScan }
func (StopScan) Name() Name           { return NameStopScan }
func (Connect) Name() Name            { return NameConnect }
func (Disconnect) Name() Name         { return NameDisconnect }
func (KnownPeripherals) Name() Name   { return NameKnownPeripherals }
func (ReadSignalStrength) Name() Name { return NameReadSignalStrength }

func (StartScan) command()          {}
func (StopScan) command()           {}
func (Connect) command()            {}
func (Disconnect) command()         {}
func (KnownPeripherals) command()   {}
func (ReadSignalStrength) command() {}

// Request holds a parsed command with its request identifier.
type Request struct {
	ID      RequestID
	Command Command
}

type payload struct {
	Command    Name      `json:"command"`
	RequestID  RequestID `json:"request_id,omitempty"`
	Parameters codec.Raw `json:"parameters,omitempty"`
}

// Parse decodes a command payload of the form
// {"command":"<name>","parameters":{...}}.
func Parse(data []byte) (Command, error) {
	req, err := ParseRequest(data)
	if err != nil {
		return nil, err
	}

	return req.Command, nil
}

// ParseRequest decodes a command payload, along with its optional request identifier.
func ParseRequest(data []byte) (Request, error) {
	var p payload
	if err := serde.UnmarshalJson(data, &p); err != nil {
		return Request{}, invalid(err, "", "Cannot decode command payload")
	}

	cmd, err := p.decode()
	if err != nil {
		return Request{ID: p.RequestID}, err
	}

	return Request{ID: p.RequestID, Command: cmd}, nil
}

func (p payload) decode() (Command, error) {
	switch p.Command {
	case NameStartScan:
		var params scanParameters
		if err := p.parameters(&params, false); err != nil {
			return nil, err
		}
		if params.TimeoutMs < 0 {
			return nil, invalid(errorkinds.ErrInvalidCommand, p.Command, "Scan timeout cannot be negative")
		}

		services, err := attributes.ParseAll(params.Services)
		if err != nil {
			return nil, invalid(err, p.Command, "Invalid service identifier")
		}

		return StartScan{
			Services: services,
			Timeout:  time.Duration(params.TimeoutMs) * time.Millisecond,
		}, nil

	case NameStopScan:
		return StopScan{}, nil

	case NameConnect:
		var params peripheralParameters
		if err := p.peripheral(&params); err != nil {
			return nil, err
		}

		services, err := attributes.ParseAll(params.Services)
		if err != nil {
			return nil, invalid(err, p.Command, "Invalid service identifier")
		}

		return Connect{
			PeripheralID: bluetooth.PeripheralID(params.PeripheralID),
			Services:     services,
		}, nil

	case NameDisconnect:
		var params peripheralParameters
		if err := p.peripheral(&params); err != nil {
			return nil, err
		}

		return Disconnect{PeripheralID: bluetooth.PeripheralID(params.PeripheralID)}, nil

	case NameReadSignalStrength:
		var params peripheralParameters
		if err := p.peripheral(&params); err != nil {
			return nil, err
		}

		return ReadSignalStrength{PeripheralID: bluetooth.PeripheralID(params.PeripheralID)}, nil

	case NameKnownPeripherals:
		var params knownParameters
		if err := p.parameters(&params, true); err != nil {
			return nil, err
		}
		if len(params.PeripheralIDs) == 0 {
			return nil, invalid(errorkinds.ErrInvalidCommand, p.Command, "No peripheral identifiers were provided")
		}

		ids := make([]bluetooth.PeripheralID, 0, len(params.PeripheralIDs))
		for _, id := range params.PeripheralIDs {
			ids = append(ids, bluetooth.PeripheralID(id))
		}

		return KnownPeripherals{PeripheralIDs: ids}, nil
	}

	return nil, invalid(errorkinds.ErrInvalidCommand, p.Command, "Unknown command")
}

func (p payload) parameters(v any, required bool) error {
	if len(p.Parameters) == 0 {
		if required {
			return invalid(errorkinds.ErrInvalidCommand, p.Command, "Command parameters are missing")
		}

		return nil
	}

	if err := serde.UnmarshalJson(p.Parameters, v); err != nil {
		return invalid(err, p.Command, "Cannot decode command parameters")
	}

	return nil
}

func (p payload) peripheral(params *peripheralParameters) error {
	if err := p.parameters(params, true); err != nil {
		return err
	}

	if params.PeripheralID == "" {
		return invalid(errorkinds.ErrInvalidCommand, p.Command, "Peripheral identifier is missing")
	}

	return nil
}

// Marshal encodes a request into its wire payload.
func (r Request) Marshal() ([]byte, error) {
	var params any

	switch c := r.Command.(type) {
	case StartScan:
		params = scanParameters{
			Services:  serviceStrings(c.Services),
			TimeoutMs: c.Timeout.Milliseconds(),
		}

	case StopScan:

	case Connect:
		params = peripheralParameters{
			PeripheralID: c.PeripheralID.String(),
			Services:     serviceStrings(c.Services),
		}

	case Disconnect:
		params = peripheralParameters{PeripheralID: c.PeripheralID.String()}

	case ReadSignalStrength:
		params = peripheralParameters{PeripheralID: c.PeripheralID.String()}

	case KnownPeripherals:
		ids := make([]string, 0, len(c.PeripheralIDs))
		for _, id := range c.PeripheralIDs {
			ids = append(ids, id.String())
		}
		params = knownParameters{PeripheralIDs: ids}

	default:
		return nil, invalid(errorkinds.ErrInvalidCommand, "", "Unknown command")
	}

	p := payload{Command: r.Command.Name(), RequestID: r.ID}
	if params != nil {
		raw, err := serde.MarshalJson(params)
		if err != nil {
			return nil, err
		}

		p.Parameters = raw
	}

	return serde.MarshalJson(p)
}

func serviceStrings(ids []uuid.UUID) []string {
	if len(ids) == 0 {
		return nil
	}

	services := make([]string, 0, len(ids))
	for _, id := range ids {
		services = append(services, id.String())
	}

	return slices.Clip(services)
}

// invalid wraps err so that it always matches ErrInvalidCommand.
func invalid(err error, name Name, msg string) error {
	if !errors.Is(err, errorkinds.ErrInvalidCommand) {
		err = fmt.Errorf("%w: %w", errorkinds.ErrInvalidCommand, err)
	}

	return fault.Wrap(err,
		fctx.With(context.Background(), "command", name.String()),
		ftag.With(ftag.InvalidArgument),
		fmsg.With(msg),
	)
}
