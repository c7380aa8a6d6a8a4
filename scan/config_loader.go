package scan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the unified configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ValidateConfig checks required fields and range invariants. The
// pipeline fails fast on configuration it cannot honor, so everything is
// rejected here before any frame is read.
func ValidateConfig(config *Config) error {
	if config.Capture.Dir == "" {
		return fmt.Errorf("capture.dir is required")
	}
	if config.Capture.ReadStep <= 0 {
		return fmt.Errorf("capture.readStep must be > 0, got %d", config.Capture.ReadStep)
	}
	if config.Capture.ReadFrom >= config.Capture.ReadTo {
		return fmt.Errorf("capture read range [%d, %d) is empty", config.Capture.ReadFrom, config.Capture.ReadTo)
	}
	if config.Pipeline.LoopSize <= 0 {
		return fmt.Errorf("pipeline.loopSize must be > 0, got %d", config.Pipeline.LoopSize)
	}

	for i, sc := range config.Scanners {
		if sc.ID == "" {
			return fmt.Errorf("scanner[%d].id is required", i)
		}
		if sc.Topic == "" {
			return fmt.Errorf("scanner[%d].topic is required for %s", i, sc.ID)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
