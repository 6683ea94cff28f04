// Package config loads the workbench's settings document: driver registry
// priorities, detector timeouts, and decoder option defaults. It mirrors the
// shape of the teacher's config.go (a single document read once at startup
// and handed to the subsystems that need it) but trades the original's
// hand-rolled text parser for YAML, the format the teacher already uses for
// deviceid.go's tocalls.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DetectorTimeouts bounds how long the driver manager waits for each
// detector family during detect_hardware, per spec.md §5.
type DetectorTimeouts struct {
	SerialEnumeration time.Duration `yaml:"serial_enumeration"`
	NetworkProbe      time.Duration `yaml:"network_probe"`
	SaleaeProbe       time.Duration `yaml:"saleae_probe"`
	SigrokCLI         time.Duration `yaml:"sigrok_cli"`
}

// DriverPriority overrides a built-in driver's registry priority, or
// declares a user-added one by name. Factories for user-added entries are
// supplied in code; the config only carries the ordering knob.
type DriverPriority struct {
	ID       string `yaml:"id"`
	Priority int    `yaml:"priority"`
}

// DecoderDefaults holds one decoder's default positional options as read
// from the settings document. Nothing in this module applies them to a
// decode run.
type DecoderDefaults struct {
	ID      string        `yaml:"id"`
	Options []interface{} `yaml:"options"`
}

// Config is the full settings document.
type Config struct {
	DetectionCacheTTL time.Duration     `yaml:"detection_cache_ttl"`
	Detectors         DetectorTimeouts  `yaml:"detectors"`
	DriverPriorities  []DriverPriority  `yaml:"driver_priorities"`
	DecoderDefaults   []DecoderDefaults `yaml:"decoder_defaults"`
	LogFileDir        string            `yaml:"log_file_dir"`
	LogFileStrftime   string            `yaml:"log_file_strftime"`
}

// Default returns the configuration used when no document is supplied,
// matching the literal numbers in spec.md §4.5 and §5.
func Default() Config {
	return Config{
		DetectionCacheTTL: 30 * time.Second,
		Detectors: DetectorTimeouts{
			SerialEnumeration: 1 * time.Second,
			NetworkProbe:      1 * time.Second,
			SaleaeProbe:       2 * time.Second,
			SigrokCLI:         3 * time.Second,
		},
		LogFileDir:      "",
		LogFileStrftime: "capture-%Y%m%d.csv",
	}
}

// Load reads and parses a YAML settings document from path, starting from
// Default() so a partial document only overrides what it mentions.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}

	return cfg, nil
}

// PriorityFor looks up a configured priority override for a driver id. The
// bool reports whether an override exists; callers fall back to the
// built-in registration's own priority otherwise.
func (c Config) PriorityFor(id string) (int, bool) {
	for _, p := range c.DriverPriorities {
		if p.ID == id {
			return p.Priority, true
		}
	}
	return 0, false
}
