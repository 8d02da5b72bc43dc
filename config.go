package warden

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that (un)marshals as a human-readable string
// ("5s", "24h") in YAML and JSON configuration.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

// UnmarshalYAML accepts either a duration string or an integer nanosecond
// count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if nanos, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(nanos)
		return nil
	}
	return fmt.Errorf("invalid duration %q", value.Value)
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// UnmarshalJSON accepts either a quoted duration string or a nanosecond count.
func (d *Duration) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(nanos)
		return nil
	}
	return fmt.Errorf("invalid duration %q", raw)
}

// Config is a serialisable representation of the engine configuration. It can
// be populated from YAML or JSON; the zero-value is useful, all nested fields
// inherit their package defaults.
type Config struct {
	// BaseURL, when set, roots the whole durable substrate under one
	// directory: tasks/, inbox/, approvals/, escalations/, audit/, locks/.
	// When empty the engine runs fully in memory.
	BaseURL string `json:"baseURL" yaml:"baseURL"`

	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Retry        RetryConfig        `json:"retry" yaml:"retry"`
	Approval     ApprovalConfig     `json:"approval" yaml:"approval"`
	Dispatcher   DispatcherConfig   `json:"dispatcher" yaml:"dispatcher"`
	Audit        AuditConfig        `json:"audit" yaml:"audit"`
}

type OrchestratorConfig struct {
	PollInterval Duration `json:"pollInterval" yaml:"pollInterval"`
	Workers      int      `json:"workers" yaml:"workers"`
}

type RetryConfig struct {
	MaxRetries  int      `json:"maxRetries" yaml:"maxRetries"`
	BackoffBase Duration `json:"backoffBase" yaml:"backoffBase"`
	BackoffCap  Duration `json:"backoffCap" yaml:"backoffCap"`
}

type ApprovalConfig struct {
	// TTL is how long an approval request stays open before timing out.
	TTL Duration `json:"ttl" yaml:"ttl"`
}

type DispatcherConfig struct {
	// Timeout bounds a single execution attempt.
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

type AuditConfig struct {
	// Attempts caps delivery attempts per audit record.
	Attempts int `json:"attempts" yaml:"attempts"`
}

// DefaultConfig returns a Config populated with the same defaults the
// individual service constructors apply. Callers may modify the returned
// struct before passing it to New via WithConfig.
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			PollInterval: Duration(5 * time.Second),
			Workers:      4,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BackoffBase: Duration(5 * time.Second),
			BackoffCap:  Duration(30 * time.Second),
		},
		Approval: ApprovalConfig{
			TTL: Duration(24 * time.Hour),
		},
		Dispatcher: DispatcherConfig{
			Timeout: Duration(5 * time.Minute),
		},
		Audit: AuditConfig{
			Attempts: 3,
		},
	}
}

// LoadConfig reads a YAML configuration file; unset fields fall back to
// package defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Orchestrator.PollInterval < 0 {
		return fmt.Errorf("orchestrator.pollInterval must be >= 0")
	}
	if c.Orchestrator.Workers < 0 {
		return fmt.Errorf("orchestrator.workers must be >= 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.maxRetries must be >= 0")
	}
	if c.Retry.BackoffBase < 0 || c.Retry.BackoffCap < 0 {
		return fmt.Errorf("retry backoff durations must be >= 0")
	}
	if c.Retry.BackoffCap > 0 && c.Retry.BackoffBase > c.Retry.BackoffCap {
		return fmt.Errorf("retry.backoffBase must not exceed retry.backoffCap")
	}
	if c.Approval.TTL < 0 {
		return fmt.Errorf("approval.ttl must be >= 0")
	}
	if c.Dispatcher.Timeout < 0 {
		return fmt.Errorf("dispatcher.timeout must be >= 0")
	}
	if c.Audit.Attempts < 0 {
		return fmt.Errorf("audit.attempts must be >= 0")
	}
	return nil
}
