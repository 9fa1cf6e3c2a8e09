// Package platform selects the radio backend for the running platform.
package platform

import (
	"context"
	"runtime"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/config"
	"github.com/bluetuith-org/api-ble/backend/native"
	"github.com/bluetuith-org/api-ble/backend/simulator"
	"github.com/sirupsen/logrus"
)

type BluetoothStack string

const (
	BluezStack              BluetoothStack = "BlueZ (DBus)"
	CoreBluetoothStack      BluetoothStack = "CoreBluetooth"
	MicrosoftBluetoothStack BluetoothStack = "Microsoft"
	SimulatedStack          BluetoothStack = "Simulated"
	NoStack                 BluetoothStack = "None"
)

// PlatformInfo describes platform-specific information.
type PlatformInfo struct {
	OS    string         `json:"os,omitempty"`
	Stack BluetoothStack `json:"bluetooth_stack,omitempty"`
}

// NewPlatformInfo returns a new PlatformInfo.
func NewPlatformInfo(stack BluetoothStack) PlatformInfo {
	return PlatformInfo{
		OS:    runtime.GOOS + " (" + runtime.GOARCH + ")",
		Stack: stack,
	}
}

// String converts a BluetoothStack to a string.
func (b BluetoothStack) String() string {
	return string(b)
}

// Backend returns the radio backend named by the configuration.
func Backend(cfg config.Configuration, log logrus.FieldLogger) (bluetooth.Backend, PlatformInfo, error) {
	switch cfg.Backend {
	case config.BackendSimulated:
		specs := simulator.Demo()
		if cfg.SimulatorFile != "" {
			var err error
			if specs, err = simulator.LoadPeripherals(cfg.SimulatorFile); err != nil {
				return nil, PlatformInfo{}, err
			}
		}

		backend := simulator.New(
			simulator.WithPeripherals(specs...),
			simulator.WithLogger(log),
		)

		return backend, NewPlatformInfo(SimulatedStack), nil

	case config.BackendNative:
		backend, err := native.New(native.WithLogger(log))
		if err != nil {
			return nil, NewPlatformInfo(NoStack), err
		}

		return backend, NewPlatformInfo(nativeStack), nil
	}

	return nil, PlatformInfo{}, fault.Wrap(fault.New("unknown backend"),
		fctx.With(context.Background(), "backend", cfg.Backend),
		ftag.With(ftag.InvalidArgument),
		fmsg.With("Unknown radio backend"),
	)
}
