package commands

import (
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
)

// Name is the wire name of a command.
type Name string

const (
	NameStartScan          Name = "start_scan"
	NameStopScan           Name = "stop_scan"
	NameConnect            Name = "connect"
	NameDisconnect         Name = "disconnect"
	NameKnownPeripherals   Name = "known_peripherals"
	NameReadSignalStrength Name = "read_signal_strength"
)

// String converts a Name to a string.
func (n Name) String() string {
	return string(n)
}

// RequestID correlates a command with its response.
type RequestID int64

// Status is the outcome of an executed command.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Response holds the reply to an executed command.
type Response struct {
	RequestID RequestID     `json:"request_id,omitempty"`
	Command   Name          `json:"command,omitempty"`
	Status    Status        `json:"status"`
	Error     *CommandError `json:"error,omitempty"`
	Data      any           `json:"data,omitempty"`
}

// CommandError describes a failed command.
type CommandError struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OK returns a successful response to a request.
func OK(req Request, data any) Response {
	return Response{
		RequestID: req.ID,
		Command:   commandName(req.Command),
		Status:    StatusOK,
		Data:      data,
	}
}

// Failed returns an error response to a request.
func Failed(req Request, err error) Response {
	return Response{
		RequestID: req.ID,
		Command:   commandName(req.Command),
		Status:    StatusError,
		Error:     NewCommandError(err),
	}
}

// NewCommandError converts an error into its wire representation.
// The name is the error's tag kind, and the metadata is its context.
func NewCommandError(err error) *CommandError {
	if err == nil {
		return nil
	}

	description := fmsg.GetIssue(err)
	if description == "" {
		description = err.Error()
	}

	return &CommandError{
		Name:        strings.ToLower(string(errorkinds.Kind(err))),
		Description: description,
		Metadata:    fctx.Unwrap(err),
	}
}

func (c CommandError) Error() string {
	var sb strings.Builder

	sb.WriteString(c.Name)
	sb.WriteString(": ")
	if c.Description == "" {
		sb.WriteString("No information is provided for this error")
	} else {
		sb.WriteString(c.Description)
	}

	if len(c.Metadata) == 0 {
		return sb.String()
	}

	keys := slices.Sorted(maps.Keys(c.Metadata))
	sb.WriteString(" (")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(c.Metadata[k])
	}
	sb.WriteString(")")

	return sb.String()
}

// Err returns the response error, or nil if the command succeeded.
func (r Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}

	if r.Error == nil {
		return errors.New("command failed without an error description")
	}

	return *r.Error
}

func commandName(c Command) Name {
	if c == nil {
		return ""
	}

	return c.Name()
}
