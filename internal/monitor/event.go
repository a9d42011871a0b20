package monitor

import (
	"encoding/json"
	"errors"
)

// EventType names an outbound event.
type EventType string

const (
	EventDiameter EventType = "diameterChange"
	EventState    EventType = "stateChange"
)

// Event is emitted to the presentation layer. Diameter is set for
// EventDiameter, State for EventState.
type Event struct {
	Type     EventType
	Diameter float64
	State    *State
}

// MarshalJSON encodes only the payload that belongs to the event type, so a
// zero diameter is still sent.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventDiameter {
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Diameter float64   `json:"diameter"`
		}{e.Type, e.Diameter})
	}
	return json.Marshal(struct {
		Type  EventType `json:"type"`
		State *State    `json:"state"`
	}{e.Type, e.State})
}

// Precondition failures. Commands that hit one change nothing.
var (
	ErrNotConnected     = errors.New("gauge is not connected")
	ErrAlreadyRecording = errors.New("already recording")
	ErrPickerOpen       = errors.New("folder picker is already open")
	ErrNoSaveLocation   = errors.New("no save location set")
)

// Result is the outcome of a command as reported to the presentation layer.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func resultOf(err error) Result {
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true}
}

// Err converts a failed Result back into an error.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return errors.New(r.Error)
}
