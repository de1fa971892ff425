// Package wafconfig loads and validates sentineld's YAML configuration file.
// A missing or invalid file is a hard failure: sentineld refuses to start
// rather than run on silently-substituted defaults.
package wafconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every Validate failure, so callers can distinguish a
// startup ConfigError from a read/parse failure if they need to.
var ErrInvalid = errors.New("wafconfig: invalid config")

// Config is the root configuration document.
type Config struct {
	WAF           WAFConfig           `yaml:"waf"`
	LLM           LLMConfig           `yaml:"llm"`
	Cache         CacheConfig         `yaml:"cache"`
	Storage       StorageConfig       `yaml:"storage"`
	Learner       LearnerConfig       `yaml:"learner"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// WAFConfig controls the proxy frontend.
type WAFConfig struct {
	ListenAddr       string `yaml:"listen_addr"`
	UpstreamURL      string `yaml:"upstream_url"`
	RequestTimeoutMs uint64 `yaml:"request_timeout_ms"`
	FailMode         string `yaml:"fail_mode"`
}

// RequestTimeout returns RequestTimeoutMs as a time.Duration.
func (w WAFConfig) RequestTimeout() time.Duration {
	return time.Duration(w.RequestTimeoutMs) * time.Millisecond
}

// LLMConfig controls the Judge's and Learner's LLM binding.
type LLMConfig struct {
	Provider           string  `yaml:"provider"`
	BaseURL            string  `yaml:"base_url"`
	Model              string  `yaml:"model"`
	JudgeTimeoutMs     uint64  `yaml:"judge_timeout_ms"`
	JudgeMaxTokens     int     `yaml:"judge_max_tokens"`
	JudgeTemperature   float64 `yaml:"judge_temperature"`
	LearnerMaxTokens   int     `yaml:"learner_max_tokens"`
	LearnerTemperature float64 `yaml:"learner_temperature"`
}

// JudgeTimeout returns JudgeTimeoutMs as a time.Duration.
func (l LLMConfig) JudgeTimeout() time.Duration {
	return time.Duration(l.JudgeTimeoutMs) * time.Millisecond
}

// CacheConfig controls the verdict cache.
type CacheConfig struct {
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds uint64 `yaml:"ttl_seconds"`
	Enabled    bool   `yaml:"enabled"`
}

// TTL returns TTLSeconds as a time.Duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StorageConfig controls the event log and rulebook file locations.
type StorageConfig struct {
	LogsDBPath   string `yaml:"logs_db_path"`
	RulebookPath string `yaml:"rulebook_path"`
}

// LearnerConfig controls the periodic Learner worker.
type LearnerConfig struct {
	BatchIntervalMinutes uint64 `yaml:"batch_interval_minutes"`
	MinFlaggedRequests   int    `yaml:"min_flagged_requests"`
	Enabled              bool   `yaml:"enabled"`
}

// BatchInterval returns BatchIntervalMinutes as a time.Duration.
func (l LearnerConfig) BatchInterval() time.Duration {
	return time.Duration(l.BatchIntervalMinutes) * time.Minute
}

// ObservabilityConfig controls logging and the metrics endpoint.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// FailMode is the policy applied when the LLM fails or times out.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// Load reads and validates the YAML config file at path. A missing file,
// unparseable YAML, or failed validation is a fatal error - there is no
// fallback-to-defaults path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("wafconfig: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("wafconfig: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the fields required for the process to start safely.
// Every failure wraps ErrInvalid.
func (c Config) Validate() error {
	if c.WAF.ListenAddr == "" {
		return fmt.Errorf("%w: waf.listen_addr cannot be empty", ErrInvalid)
	}
	if c.WAF.UpstreamURL == "" {
		return fmt.Errorf("%w: waf.upstream_url cannot be empty", ErrInvalid)
	}
	if c.WAF.RequestTimeoutMs == 0 {
		return fmt.Errorf("%w: waf.request_timeout_ms must be greater than 0", ErrInvalid)
	}
	switch FailMode(c.WAF.FailMode) {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("%w: waf.fail_mode must be %q or %q", ErrInvalid, FailOpen, FailClosed)
	}
	if c.LLM.JudgeTimeoutMs == 0 {
		return fmt.Errorf("%w: llm.judge_timeout_ms must be greater than 0", ErrInvalid)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("%w: llm.base_url cannot be empty", ErrInvalid)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("%w: llm.model cannot be empty", ErrInvalid)
	}
	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		return fmt.Errorf("%w: cache.redis_url cannot be empty when cache is enabled", ErrInvalid)
	}
	if c.Storage.LogsDBPath == "" {
		return fmt.Errorf("%w: storage.logs_db_path cannot be empty", ErrInvalid)
	}
	if c.Storage.RulebookPath == "" {
		return fmt.Errorf("%w: storage.rulebook_path cannot be empty", ErrInvalid)
	}
	return nil
}

// JudgeFailMode maps the validated waf.fail_mode string to FailMode.
// Validate rejects any other value, so this never falls through.
func (c Config) JudgeFailMode() FailMode {
	return FailMode(c.WAF.FailMode)
}
