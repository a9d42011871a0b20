package server

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the monitor's application configuration. The user-editable
// recording settings are not here; they live in the settings document at
// SettingsPath.
type Config struct {
	// Gauge link
	Gauge GaugeConfig `yaml:"gauge" json:"gauge"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	// Path of the persisted recording settings
	SettingsPath string `yaml:"settings_path" json:"settingsPath"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	path string // file path for save/load
}

type GaugeConfig struct {
	VendorID       string `yaml:"vendor_id" json:"vendorId"`   // USB VID, hex
	ProductID      string `yaml:"product_id" json:"productId"` // USB PID, hex
	BaudRate       int    `yaml:"baud_rate" json:"baudRate"`
	PollIntervalMs int    `yaml:"poll_interval_ms" json:"pollIntervalMs"` // device discovery poll
	Demo           bool   `yaml:"demo" json:"demo"`                       // simulated gauge
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// LoggingConfig controls the diagnostic log, not the recording CSVs.
type LoggingConfig struct {
	File       string `yaml:"file" json:"file"` // empty: stderr only
	MaxSizeMB  int    `yaml:"max_size_mb" json:"maxSizeMb"`
	MaxBackups int    `yaml:"max_backups" json:"maxBackups"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Gauge: GaugeConfig{
			VendorID:       "2341",
			ProductID:      "8036",
			BaudRate:       115200,
			PollIntervalMs: 1000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		SettingsPath: defaultSettingsPath(),
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(dir, "diadash", "settings.yaml")
}

// PollInterval is the device discovery interval.
func (c *Config) PollInterval() time.Duration {
	if c.Gauge.PollIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Gauge.PollIntervalMs) * time.Millisecond
}

// Path is the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// LoadConfig builds the runtime config: defaults, then the YAML file at path
// if it parses, then any .env files, then the process environment. It never
// fails; a missing or broken file leaves the defaults in place.
func LoadConfig(path string) *Config {
	cfg := readConfigFile(path)
	cfg.path = path

	for _, p := range dotenvPaths(path) {
		loadEnvFile(p)
	}
	cfg.applyEnvOverrides()
	return cfg
}

func readConfigFile(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] %s not readable, using defaults", path)
		return DefaultConfig()
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] %s: %v; using defaults", path, err)
		return DefaultConfig()
	}
	log.Printf("[config] read %s", path)
	return cfg
}

// dotenvPaths lists the .env beside the config file, then the one in the
// working directory, without repeats.
func dotenvPaths(configPath string) []string {
	beside := filepath.Join(filepath.Dir(configPath), ".env")
	if filepath.Clean(beside) == ".env" {
		return []string{".env"}
	}
	return []string{beside, ".env"}
}

// loadEnvFile exports the KEY=VALUE pairs in path that the environment does
// not already set.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := parseEnvLine(line)
		if !ok || os.Getenv(key) != "" {
			continue
		}
		os.Setenv(key, val)
		n++
	}
	log.Printf("[config] %s: %d variables", path, n)
}

// parseEnvLine splits one dotenv line. Blank lines, comments and lines
// without '=' are skipped. Surrounding quotes are dropped from the value.
func parseEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	key, val, ok = strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", false
	}
	return key, strings.Trim(strings.TrimSpace(val), `"'`), true
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: GAUGE_VID, GAUGE_PID, GAUGE_BAUD, GAUGE_POLL_MS, GAUGE_DEMO,
// LISTEN_ADDR, SETTINGS_PATH, LOG_FILE
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GAUGE_VID"); v != "" {
		c.Gauge.VendorID = v
	}
	if v := os.Getenv("GAUGE_PID"); v != "" {
		c.Gauge.ProductID = v
	}
	if v := os.Getenv("GAUGE_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Gauge.BaudRate = n
		}
	}
	if v := os.Getenv("GAUGE_POLL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Gauge.PollIntervalMs = n
		}
	}
	if v := os.Getenv("GAUGE_DEMO"); v != "" {
		c.Gauge.Demo = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("SETTINGS_PATH"); v != "" {
		c.SettingsPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = "diadash.yaml"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}
