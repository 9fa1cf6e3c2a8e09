//go:build !linux

package native

import (
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/sirupsen/logrus"
)

type powerWatcher struct{}

// watchPower is a no-op, since the adapter power state is not observable
// outside of BlueZ.
func watchPower(logrus.FieldLogger, func(bluetooth.AdapterState)) (*powerWatcher, bluetooth.AdapterState, error) {
	return nil, bluetooth.AdapterPoweredOn, nil
}

func (w *powerWatcher) Close() {}
