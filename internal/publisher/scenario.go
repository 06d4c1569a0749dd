// Package publisher load-generates events with a controlled duplicate rate
// against a running aggregator.
package publisher

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes one load run.
type Scenario struct {
	TargetURL     string   `yaml:"target_url"`
	TotalEvents   int      `yaml:"total_events"`
	DuplicateRate float64  `yaml:"duplicate_rate"`
	BatchSize     int      `yaml:"batch_size"`
	Topics        []string `yaml:"topics"`
	Concurrency   int      `yaml:"concurrency"`
	Seed          int64    `yaml:"seed"`

	// Durations use time.ParseDuration syntax.
	HealthTimeout string `yaml:"health_timeout"`
	SettleDelay   string `yaml:"settle_delay"`
	BatchInterval string `yaml:"batch_interval"`
}

// DefaultScenario mirrors the stock simulation: 20k events, 30% duplicates,
// batches of 20.
func DefaultScenario() Scenario {
	return Scenario{
		TargetURL:     "http://localhost:8080",
		TotalEvents:   20000,
		DuplicateRate: 0.3,
		BatchSize:     20,
		Topics:        []string{"user_activity", "system_logs", "transactions", "notifications", "errors"},
		Concurrency:   4,
		HealthTimeout: "60s",
		SettleDelay:   "5s",
		BatchInterval: "10ms",
	}
}

// LoadScenario reads a YAML scenario file over the defaults.
func LoadScenario(path string) (Scenario, error) {
	sc := DefaultScenario()

	data, err := os.ReadFile(path)
	if err != nil {
		return sc, fmt.Errorf("failed to read scenario file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	return sc, sc.Validate()
}

func (s Scenario) Validate() error {
	if strings.TrimSpace(s.TargetURL) == "" {
		return fmt.Errorf("target_url is required")
	}
	if s.TotalEvents <= 0 {
		return fmt.Errorf("total_events must be > 0")
	}
	if s.DuplicateRate < 0 || s.DuplicateRate >= 1 {
		return fmt.Errorf("duplicate_rate must be in [0, 1)")
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0")
	}
	if len(s.Topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	for name, value := range map[string]string{
		"health_timeout": s.HealthTimeout,
		"settle_delay":   s.SettleDelay,
		"batch_interval": s.BatchInterval,
	} {
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return fmt.Errorf("invalid %s %q", name, value)
		}
	}
	return nil
}

func (s Scenario) durations() (health, settle, interval time.Duration) {
	health, _ = time.ParseDuration(s.HealthTimeout)
	settle, _ = time.ParseDuration(s.SettleDelay)
	interval, _ = time.ParseDuration(s.BatchInterval)
	return health, settle, interval
}
