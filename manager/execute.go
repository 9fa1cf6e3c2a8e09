package manager

import (
	"context"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/commands"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
)

// Execute runs a parsed command. Only KnownPeripherals returns data.
func (m *Manager) Execute(cmd commands.Command) (any, error) {
	switch c := cmd.(type) {
	case commands.StartScan:
		if c.Timeout > 0 {
			return nil, m.StartScanFor(c.Timeout, c.Services...)
		}

		return nil, m.StartScan(c.Services...)

	case commands.StopScan:
		m.StopScan()
		return nil, nil

	case commands.Connect:
		return nil, m.Connect(c.PeripheralID, c.Services...)

	case commands.Disconnect:
		return nil, m.Disconnect(c.PeripheralID)

	case commands.KnownPeripherals:
		return m.KnownPeripherals(c.PeripheralIDs...), nil

	case commands.ReadSignalStrength:
		return nil, m.ReadSignalStrength(c.PeripheralID)
	}

	return nil, fault.Wrap(errorkinds.ErrInvalidCommand,
		fctx.With(context.Background(), "error_at", "execute"),
		ftag.With(ftag.InvalidArgument),
		fmsg.With("Unknown command"),
	)
}

// Handle runs a parsed request, and returns its response.
func (m *Manager) Handle(req commands.Request) commands.Response {
	log := m.log.WithField("request_id", req.ID)
	if req.Command != nil {
		log = log.WithField("command", req.Command.Name())
	}

	data, err := m.Execute(req.Command)
	if err != nil {
		if errorkinds.IsPrecondition(err) {
			log.WithError(err).Warn("Command was rejected")
		} else {
			log.WithError(err).Error("Command failed")
		}

		return commands.Failed(req, err)
	}

	log.Debug("Command executed")

	return commands.OK(req, data)
}
