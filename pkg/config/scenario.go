package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario describes a synthetic traffic run for the test harness.
type Scenario struct {
	// Records to submit and their fixed payload size in bytes.
	Records    int `yaml:"records"`
	RecordSize int `yaml:"record_size"`
	// SubmitRate caps submission in records per second, 0 for unlimited.
	SubmitRate float64 `yaml:"submit_rate"`
	// Loss injects a synthetic per-packet drop probability when the run
	// uses the in-memory channel.
	Loss float64 `yaml:"loss"`
	Seed int64   `yaml:"seed"`
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not load scenario %v : %w", path, err)
	}
	s := &Scenario{}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("could not parse scenario %v : %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scenario) validate() error {
	if s.Records <= 0 {
		return fmt.Errorf("scenario: records must be positive, got %v", s.Records)
	}
	if s.RecordSize <= 0 || s.RecordSize > 0xffff-2 {
		return fmt.Errorf("scenario: record_size out of range, got %v", s.RecordSize)
	}
	if s.Loss < 0 || s.Loss >= 1 {
		return fmt.Errorf("scenario: loss must be in [0, 1), got %v", s.Loss)
	}
	return nil
}
