package commands

// Wire parameter objects. Identifiers are validated when they are
// converted into typed commands.
type (
	scanParameters struct {
		Services  []string `json:"services,omitempty"`
		TimeoutMs int64    `json:"timeout_ms,omitempty"`
	}

	peripheralParameters struct {
		PeripheralID string   `json:"peripheral_id"`
		Services     []string `json:"services,omitempty"`
	}

	knownParameters struct {
		PeripheralIDs []string `json:"peripheral_ids"`
	}
)
