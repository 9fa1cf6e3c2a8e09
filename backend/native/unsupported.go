//go:build !linux && !darwin && !windows

package native

import (
	"context"
	"runtime"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
)

// New reports that no native radio stack exists on this platform.
func New(_ ...Option) (bluetooth.Backend, error) {
	return nil, fault.Wrap(errorkinds.ErrNotSupported,
		fctx.With(context.Background(), "os", runtime.GOOS),
		ftag.With(errorkinds.Unsupported),
		fmsg.With("No native Bluetooth stack is available on this platform"),
	)
}
