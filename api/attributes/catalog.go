// Package attributes provides a catalog of well-known service and
// characteristic identifiers, and decodes raw characteristic payloads
// into typed values.
package attributes

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/google/uuid"
)

// BaseUUID is the Bluetooth base UUID, onto which 16-bit and 32-bit
// identifiers are expanded.
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Kind describes the type of an attribute.
type Kind string

const (
	KindService        Kind = "service"
	KindCharacteristic Kind = "characteristic"
)

// Entry describes a catalog entry.
type Entry struct {
	ID   uuid.UUID
	Name string
	Kind Kind
	Rule Rule
}

// Catalog maps attribute identifiers to names and decode rules.
type Catalog struct {
	entries map[uuid.UUID]Entry

	mu sync.RWMutex
}

var defaultCatalog = NewCatalog(builtinEntries()...)

// Default returns the catalog of well-known identifiers.
func Default() *Catalog {
	return defaultCatalog
}

// NewCatalog returns a catalog with the provided entries.
func NewCatalog(entries ...Entry) *Catalog {
	c := &Catalog{entries: make(map[uuid.UUID]Entry, len(entries))}
	for _, e := range entries {
		c.entries[e.ID] = e
	}

	return c
}

// Short expands a 16-bit or 32-bit SIG identifier into a full identifier.
func Short(id uint32) uuid.UUID {
	u := BaseUUID
	u[0] = byte(id >> 24)
	u[1] = byte(id >> 16)
	u[2] = byte(id >> 8)
	u[3] = byte(id)

	return u
}

// Parse parses a full identifier, or a short identifier in hexadecimal
// form with an optional '0x' prefix.
func Parse(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	short := strings.TrimPrefix(strings.ToLower(s), "0x")

	if len(short) == 4 || len(short) == 8 {
		v, err := strconv.ParseUint(short, 16, 32)
		if err == nil {
			return Short(uint32(v)), nil
		}
	}

	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fault.Wrap(err,
			fctx.With(context.Background(), "attribute", s),
			ftag.With(ftag.InvalidArgument),
			fmsg.With("Invalid attribute identifier"),
		)
	}

	return id, nil
}

// ParseAll parses a list of identifiers.
func ParseAll(ids []string) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	parsed := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := Parse(s)
		if err != nil {
			return nil, fault.Wrap(errorkinds.ErrInvalidCommand, fmsg.With(err.Error()))
		}

		parsed = append(parsed, id)
	}

	return parsed, nil
}

// ShortForm returns the 16-bit form of an identifier, if it is derived from the base UUID.
func ShortForm(id uuid.UUID) (uint16, bool) {
	if id[0] != 0 || id[1] != 0 {
		return 0, false
	}

	for i := 4; i < len(id); i++ {
		if id[i] != BaseUUID[i] {
			return 0, false
		}
	}

	return uint16(id[2])<<8 | uint16(id[3]), true
}

// Register adds or replaces entries in the catalog.
func (c *Catalog) Register(entries ...Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		c.entries[e.ID] = e
	}
}

// Lookup returns the entry for an identifier.
func (c *Catalog) Lookup(id uuid.UUID) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	return e, ok
}

// Name returns the display name of an identifier. Unknown identifiers
// are named by their raw identifier string.
func (c *Catalog) Name(id uuid.UUID) string {
	if e, ok := c.Lookup(id); ok && e.Name != "" {
		return e.Name
	}

	return id.String()
}

// Rule returns the decode rule of an identifier. Unknown identifiers decode as raw bytes.
func (c *Catalog) Rule(id uuid.UUID) Rule {
	if e, ok := c.Lookup(id); ok && e.Rule != "" {
		return e.Rule
	}

	return RuleRaw
}

// Name returns the display name of an identifier from the default catalog.
func Name(id uuid.UUID) string {
	return defaultCatalog.Name(id)
}
