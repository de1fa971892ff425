package wafconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
waf:
  listen_addr: "0.0.0.0:8080"
  upstream_url: "http://backend:3000"
  request_timeout_ms: 30000
  fail_mode: open
llm:
  provider: ollama
  base_url: "http://localhost:11434"
  model: llama3.2
  judge_timeout_ms: 200
  judge_max_tokens: 128
  judge_temperature: 0.0
  learner_max_tokens: 2048
  learner_temperature: 0.3
cache:
  redis_url: "redis://localhost:6379"
  ttl_seconds: 900
  enabled: true
storage:
  logs_db_path: "./data/logs.db"
  rulebook_path: "./data/rulebook.json"
learner:
  batch_interval_minutes: 60
  min_flagged_requests: 10
  enabled: true
observability:
  log_level: info
  metrics_enabled: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WAF.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("unexpected listen_addr: %s", cfg.WAF.ListenAddr)
	}
	if cfg.JudgeFailMode() != FailOpen {
		t.Errorf("expected fail mode open, got %s", cfg.JudgeFailMode())
	}
	if cfg.Learner.BatchInterval() != time.Hour {
		t.Errorf("unexpected batch interval: %v", cfg.Learner.BatchInterval())
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsEmptyListenAddr(t *testing.T) {
	path := writeConfig(t, `
waf:
  listen_addr: ""
  upstream_url: "http://backend:3000"
  request_timeout_ms: 30000
  fail_mode: open
llm:
  base_url: "http://localhost:11434"
  model: llama3.2
  judge_timeout_ms: 200
storage:
  logs_db_path: "./data/logs.db"
  rulebook_path: "./data/rulebook.json"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty listen_addr")
	}
}

func TestValidateRejectsCacheEnabledWithoutRedisURL(t *testing.T) {
	path := writeConfig(t, `
waf:
  listen_addr: "0.0.0.0:8080"
  upstream_url: "http://backend:3000"
  request_timeout_ms: 30000
  fail_mode: closed
llm:
  base_url: "http://localhost:11434"
  model: llama3.2
  judge_timeout_ms: 200
cache:
  enabled: true
  redis_url: ""
storage:
  logs_db_path: "./data/logs.db"
  rulebook_path: "./data/rulebook.json"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for cache enabled without redis_url")
	}
}

func TestValidateRejectsUnknownFailMode(t *testing.T) {
	path := writeConfig(t, `
waf:
  listen_addr: "0.0.0.0:8080"
  upstream_url: "http://backend:3000"
  request_timeout_ms: 30000
  fail_mode: sometimes
llm:
  base_url: "http://localhost:11434"
  model: llama3.2
  judge_timeout_ms: 200
storage:
  logs_db_path: "./data/logs.db"
  rulebook_path: "./data/rulebook.json"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown fail_mode")
	}
}

func TestValidateFailuresWrapErrInvalid(t *testing.T) {
	path := writeConfig(t, `
waf:
  listen_addr: ""
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected error to wrap ErrInvalid, got %v", err)
	}
}
