package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
	Sysmon SysmonConfig `yaml:"sysmon"`
	Sinks  SinkConfig   `yaml:"sinks"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type EngineConfig struct {
	// DebounceSensitivity is how long the input debouncer accumulates a
	// burst before emitting a summary event.
	DebounceSensitivity time.Duration `yaml:"debounce_sensitivity"`
	// IntakeBuffer is the sensor→aggregator channel capacity.
	IntakeBuffer      int           `yaml:"intake_buffer"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
}

type SysmonConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	CPUPercent     float64       `yaml:"cpu_percent"`
	MemPercent     float64       `yaml:"mem_percent"`
}

type SinkConfig struct {
	// EventLog and AlertLog are JSONL file paths. Empty means the default
	// location under the user state directory.
	EventLog string `yaml:"event_log"`
	AlertLog string `yaml:"alert_log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8390,
			Host: "127.0.0.1",
		},
		Engine: EngineConfig{
			DebounceSensitivity: 30 * time.Second,
			IntakeBuffer:        256,
			BroadcastThrottle:   100 * time.Millisecond,
			SnapshotInterval:    5 * time.Second,
		},
		Sysmon: SysmonConfig{
			SampleInterval: 15 * time.Second,
			CPUPercent:     90,
			MemPercent:     95,
		},
	}
}

// Load reads the YAML config at path, filling unset fields with defaults.
// A missing file is not an error: the agent runs with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
