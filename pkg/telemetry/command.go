package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Command is a run-state change for a pump.
type Command string

const (
	CommandStart Command = "START"
	CommandStop  Command = "STOP"
)

var (
	ErrInvalidCommand = errors.New("invalid command, must be START or STOP")
	ErrInvalidPumpID  = errors.New("invalid pump id")
)

// ParseCommand accepts exactly START or STOP; matching is case-sensitive.
func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CommandStart, CommandStop:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
}

// ValidatePumpID requires a positive decimal integer, the form the controllers are addressed by.
func ValidatePumpID(id string) (PumpID, error) {
	p := PumpID(id)
	n, ok := p.number()
	if !ok || n < 1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPumpID, id)
	}
	return p, nil
}

// ControlMessage is the payload published to <prefix>/<id>/control.
type ControlMessage struct {
	Command   Command `json:"command"`
	Timestamp string  `json:"timestamp"`
}

// NewControlMessage stamps cmd with issuedAt in RFC 3339 UTC.
func NewControlMessage(cmd Command, issuedAt time.Time) ControlMessage {
	return ControlMessage{
		Command:   cmd,
		Timestamp: issuedAt.UTC().Format(time.RFC3339Nano),
	}
}
