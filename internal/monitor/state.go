package monitor

import (
	"encoding/json"
	"math"

	"github.com/shaunagostinho/diameter-dash/internal/settings"
)

// State is the complete session snapshot broadcast after every change.
type State struct {
	Connected    bool    `json:"connected"`
	Recording    bool    `json:"recording"`
	Description  string  `json:"description"`
	Max          float64 `json:"max"`
	Min          float64 `json:"min"` // +Inf until the first reading of a recording
	SpoolNumber  int     `json:"spoolNumber"`
	BatchNumber  int     `json:"batchNumber"`
	UpperLimit   float64 `json:"upperLimit"`
	LowerLimit   float64 `json:"lowerLimit"`
	Target       float64 `json:"target"`
	SaveLocation string  `json:"saveLocation"`
}

func newState(s settings.Settings) State {
	st := State{Min: math.Inf(1)}
	st.applySettings(s)
	return st
}

// HasReadings reports whether the current recording has seen a reading.
func (s State) HasReadings() bool { return !math.IsInf(s.Min, 1) }

// Settings returns the persisted subset of the state.
func (s State) Settings() settings.Settings {
	return settings.Settings{
		SpoolNumber:  s.SpoolNumber,
		Target:       s.Target,
		UpperLimit:   s.UpperLimit,
		LowerLimit:   s.LowerLimit,
		SaveLocation: s.SaveLocation,
		Description:  s.Description,
	}
}

func (s *State) applySettings(v settings.Settings) {
	s.SpoolNumber = v.SpoolNumber
	s.Target = v.Target
	s.UpperLimit = v.UpperLimit
	s.LowerLimit = v.LowerLimit
	s.SaveLocation = v.SaveLocation
	s.Description = v.Description
}

// MarshalJSON encodes Min as null while no reading has been recorded;
// JSON has no infinity.
func (s State) MarshalJSON() ([]byte, error) {
	type plain State
	var lo *float64
	if s.HasReadings() {
		v := s.Min
		lo = &v
	}
	return json.Marshal(struct {
		plain
		Min *float64 `json:"min"`
	}{plain(s), lo})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	type plain State
	aux := struct {
		*plain
		Min *float64 `json:"min"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Min = math.Inf(1)
	if aux.Min != nil {
		s.Min = *aux.Min
	}
	return nil
}

// Patch carries the user-editable fields of a setState command. Nil fields
// are left unchanged.
type Patch struct {
	Description  *string  `json:"description,omitempty"`
	SpoolNumber  *int     `json:"spoolNumber,omitempty"`
	BatchNumber  *int     `json:"batchNumber,omitempty"`
	UpperLimit   *float64 `json:"upperLimit,omitempty"`
	LowerLimit   *float64 `json:"lowerLimit,omitempty"`
	Target       *float64 `json:"target,omitempty"`
	SaveLocation *string  `json:"saveLocation,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

func (p Patch) apply(s *State) {
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.SpoolNumber != nil {
		s.SpoolNumber = *p.SpoolNumber
	}
	if p.BatchNumber != nil {
		s.BatchNumber = *p.BatchNumber
	}
	if p.UpperLimit != nil {
		s.UpperLimit = *p.UpperLimit
	}
	if p.LowerLimit != nil {
		s.LowerLimit = *p.LowerLimit
	}
	if p.Target != nil {
		s.Target = *p.Target
	}
	if p.SaveLocation != nil {
		s.SaveLocation = *p.SaveLocation
	}
}
