//go:build linux

package native

import (
	"context"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	dbusBluezName         = "org.bluez"
	dbusBluezAdapterIface = "org.bluez.Adapter1"
	dbusObjectManager     = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	dbusPropertiesIface   = "org.freedesktop.DBus.Properties"
	dbusPropertiesChanged = dbusPropertiesIface + ".PropertiesChanged"
)

// powerWatcher follows the Powered property of the BlueZ adapter.
type powerWatcher struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	done    chan struct{}
}

// watchPower reports the current power state of the adapter, and invokes
// fn whenever it changes.
func watchPower(log logrus.FieldLogger, fn func(bluetooth.AdapterState)) (*powerWatcher, bluetooth.AdapterState, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, bluetooth.AdapterUnknown, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "dbus-connect"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot connect to the system bus"),
		)
	}

	path, powered, err := findAdapter(conn)
	if err != nil {
		conn.Close()
		return nil, bluetooth.AdapterUnknown, err
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(dbusPropertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return nil, bluetooth.AdapterUnknown, fault.Wrap(err,
			fctx.With(context.Background(), "adapter", string(path)),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot watch adapter properties"),
		)
	}

	w := &powerWatcher{
		conn:    conn,
		signals: make(chan *dbus.Signal, 16),
		done:    make(chan struct{}),
	}
	conn.Signal(w.signals)

	go w.run(log.WithField("adapter", path), fn)

	return w, powerState(powered), nil
}

func (w *powerWatcher) run(log logrus.FieldLogger, fn func(bluetooth.AdapterState)) {
	defer close(w.done)

	for sig := range w.signals {
		if sig.Name != dbusPropertiesChanged || len(sig.Body) < 2 {
			continue
		}

		if iface, ok := sig.Body[0].(string); !ok || iface != dbusBluezAdapterIface {
			continue
		}

		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}

		if v, ok := changed["Powered"]; ok {
			if powered, ok := v.Value().(bool); ok {
				log.WithField("powered", powered).Debug("Adapter power changed")
				fn(powerState(powered))
			}
		}
	}
}

// Close stops watching the adapter.
func (w *powerWatcher) Close() {
	w.conn.RemoveSignal(w.signals)
	w.conn.Close()
	close(w.signals)
	<-w.done
}

func findAdapter(conn *dbus.Conn) (dbus.ObjectPath, bool, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := conn.Object(dbusBluezName, "/").Call(dbusObjectManager, 0).Store(&objects); err != nil {
		return "", false, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "dbus-managed-objects"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot list BlueZ objects"),
		)
	}

	for path, ifaces := range objects {
		props, ok := ifaces[dbusBluezAdapterIface]
		if !ok {
			continue
		}

		powered, _ := props["Powered"].Value().(bool)

		return path, powered, nil
	}

	return "", false, fault.Wrap(errorkinds.ErrAdapterNotReady,
		fctx.With(context.Background(), "error_at", "dbus-find-adapter"),
		ftag.With(ftag.NotFound),
		fmsg.With("No BlueZ adapter was found"),
	)
}

func powerState(powered bool) bluetooth.AdapterState {
	if powered {
		return bluetooth.AdapterPoweredOn
	}

	return bluetooth.AdapterPoweredOff
}
