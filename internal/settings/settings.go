// Package settings persists the user-editable part of the monitor state.
package settings

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings is the persisted subset of the session state.
type Settings struct {
	SpoolNumber  int     `yaml:"spoolNumber" json:"spoolNumber"`
	Target       float64 `yaml:"target" json:"target"`
	UpperLimit   float64 `yaml:"upperLimit" json:"upperLimit"`
	LowerLimit   float64 `yaml:"lowerLimit" json:"lowerLimit"`
	SaveLocation string  `yaml:"saveLocation" json:"saveLocation"`
	Description  string  `yaml:"description" json:"description"`
}

// ErrInvalid is returned by Validate for settings Load would not accept.
var ErrInvalid = errors.New("invalid settings")

// Field rules shared by Load and Validate.
func ValidSpoolNumber(v int) bool     { return v >= 0 }
func ValidLimit(v float64) bool       { return v > 0 }
func ValidSaveLocation(v string) bool { return v != "" }

// Validate reports the first field that would not survive a Save and Load,
// or a lower limit above the upper limit.
func (s Settings) Validate() error {
	switch {
	case !ValidSpoolNumber(s.SpoolNumber):
		return fmt.Errorf("%w: spoolNumber %d is negative", ErrInvalid, s.SpoolNumber)
	case !ValidLimit(s.Target):
		return fmt.Errorf("%w: target must be positive", ErrInvalid)
	case !ValidLimit(s.UpperLimit):
		return fmt.Errorf("%w: upperLimit must be positive", ErrInvalid)
	case !ValidLimit(s.LowerLimit):
		return fmt.Errorf("%w: lowerLimit must be positive", ErrInvalid)
	case s.LowerLimit > s.UpperLimit:
		return fmt.Errorf("%w: lowerLimit %v is above upperLimit %v", ErrInvalid, s.LowerLimit, s.UpperLimit)
	case !ValidSaveLocation(s.SaveLocation):
		return fmt.Errorf("%w: saveLocation is empty", ErrInvalid)
	}
	return nil
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		SpoolNumber:  0,
		Target:       1.75,
		UpperLimit:   1.80,
		LowerLimit:   1.70,
		SaveLocation: defaultSaveLocation(),
	}
}

func defaultSaveLocation() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Diameter Logs"
	}
	return filepath.Join(home, "Documents", "Diameter Logs")
}

// Store reads and writes Settings as a YAML document.
type Store struct {
	path string
}

// NewStore returns a Store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// Load reads the settings file. A missing file is created with the defaults.
// Each field is decoded on its own: a field that is absent or cannot be
// decoded keeps its default, so one bad value does not discard the rest.
// The returned error reports I/O failures; the settings are usable even then.
func (s *Store) Load() (Settings, error) {
	def := Defaults()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		log.Printf("[settings] no settings at %s, writing defaults", s.path)
		return def, s.Save(def)
	}
	if err != nil {
		return def, fmt.Errorf("read %s: %w", s.path, err)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.Printf("[settings] error parsing %s: %v, using defaults", s.path, err)
		return def, nil
	}

	out := def
	field(doc, "spoolNumber", &out.SpoolNumber, ValidSpoolNumber)
	field(doc, "target", &out.Target, ValidLimit)
	field(doc, "upperLimit", &out.UpperLimit, ValidLimit)
	field(doc, "lowerLimit", &out.LowerLimit, ValidLimit)
	field(doc, "saveLocation", &out.SaveLocation, ValidSaveLocation)
	field(doc, "description", &out.Description, nil)
	if out.LowerLimit > out.UpperLimit {
		log.Printf("[settings] lowerLimit %v above upperLimit %v, using default limits", out.LowerLimit, out.UpperLimit)
		out.LowerLimit, out.UpperLimit = def.LowerLimit, def.UpperLimit
	}

	log.Printf("[settings] loaded from %s", s.path)
	return out, nil
}

// Save writes the settings, replacing the file atomically.
func (s *Store) Save(v Settings) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// field decodes doc[key] into dst when present and valid.
func field[T any](doc map[string]yaml.Node, key string, dst *T, valid func(T) bool) {
	node, ok := doc[key]
	if !ok {
		return
	}
	var v T
	if err := node.Decode(&v); err != nil {
		log.Printf("[settings] ignoring %s: %v", key, err)
		return
	}
	if valid != nil && !valid(v) {
		log.Printf("[settings] ignoring %s: invalid value %v", key, v)
		return
	}
	*dst = v
}
