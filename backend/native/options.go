// Package native provides a radio backend for the platform's Bluetooth
// stack: BlueZ on Linux, CoreBluetooth on macOS and WinRT on Windows.
package native

import "github.com/sirupsen/logrus"

// Option configures a native Backend.
type Option func(o *options)

type options struct {
	log logrus.FieldLogger
}

// WithLogger sets the logger of the backend.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func newOptions(opts []Option) options {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	o.log = o.log.WithField("component", "native")

	return o
}
