package blockwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"blockwatch/sampler"
)

// DefaultConfigPath returns the absolute path to the JSON config file:
//
//	<user config dir>/blockwatch/config.json
//
// The directory is not guaranteed to exist; callers that write must create it.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "blockwatch", "config.json"), nil
}

// Config holds the thresholds, filters and directories the canary is built
// from. Durations are stored in milliseconds on disk.
type Config struct {
	Qualifier string `json:"qualifier"`
	UID       string `json:"uid"`
	Network   string `json:"network"`

	BlockThresholdMillis int `json:"block_threshold_ms"`
	// SampleIntervalMillis spaces stack and CPU samples. Zero selects the
	// sampler default.
	SampleIntervalMillis int `json:"sample_interval_ms"`
	// SampleDelayMillis postpones the first sample of a unit of work. Zero
	// selects 80% of the block threshold.
	SampleDelayMillis int `json:"sample_delay_ms"`
	StackCapacity     int `json:"stack_capacity"`
	CPUCapacity       int `json:"cpu_capacity"`

	StopWhenDebugging bool `json:"stop_when_debugging"`
	// MonitorDurationHours stops observing after this many hours. Zero or
	// less means forever.
	MonitorDurationHours int `json:"monitor_duration_hours"`

	// ReportDir receives one file per block. Empty disables the writer.
	ReportDir      string `json:"report_dir"`
	RetentionHours int    `json:"retention_hours"`

	ConcernPackages       []string `json:"concern_packages"`
	FilterNonConcernStack bool     `json:"filter_non_concern_stack"`
	WhiteList             []string `json:"white_list"`

	Logger *zap.Logger `json:"-"`
	// Source overrides the CPU counter source.
	Source sampler.CounterSource `json:"-"`
	// Debugging overrides the debugger probe.
	Debugging func() bool `json:"-"`
}

// DefaultConfig returns the settings used for anything a config file leaves
// out.
func DefaultConfig() Config {
	return Config{
		Qualifier:            "unknown",
		UID:                  "uid",
		Network:              "unknown",
		BlockThresholdMillis: 3000,
		StackCapacity:        sampler.DefaultStackCapacity,
		CPUCapacity:          sampler.DefaultCPUCapacity,
		StopWhenDebugging:    true,
		RetentionHours:       48,
	}
}

// LoadConfig reads path over DefaultConfig. A missing file yields the
// defaults without error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as indented JSON, creating the directory if
// needed.
func SaveConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c Config) BlockThreshold() time.Duration {
	return millis(c.BlockThresholdMillis)
}

func (c Config) SampleInterval() time.Duration {
	return millis(c.SampleIntervalMillis)
}

// SampleDelay defaults to 80% of the block threshold.
func (c Config) SampleDelay() time.Duration {
	if c.SampleDelayMillis > 0 {
		return millis(c.SampleDelayMillis)
	}
	return c.BlockThreshold() * 8 / 10
}

func (c Config) MonitorDuration() time.Duration {
	if c.MonitorDurationHours <= 0 {
		return 0
	}
	return time.Duration(c.MonitorDurationHours) * time.Hour
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BlockThresholdMillis <= 0 {
		c.BlockThresholdMillis = def.BlockThresholdMillis
	}
	if c.StackCapacity <= 0 {
		c.StackCapacity = def.StackCapacity
	}
	if c.CPUCapacity <= 0 {
		c.CPUCapacity = def.CPUCapacity
	}
	if c.RetentionHours <= 0 {
		c.RetentionHours = def.RetentionHours
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func millis(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}
