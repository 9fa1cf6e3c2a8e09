//go:build linux || darwin || windows

package native

import (
	"github.com/google/uuid"
	tinybt "tinygo.org/x/bluetooth"
)

func toStackUUID(id uuid.UUID) tinybt.UUID {
	return tinybt.NewUUID(id)
}

func fromStackUUID(id tinybt.UUID) (uuid.UUID, error) {
	return uuid.Parse(id.String())
}
