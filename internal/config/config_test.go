package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentops/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Worker.ID != "worker-1" {
		t.Fatalf("unexpected worker id: %s", cfg.Worker.ID)
	}
	if cfg.LLM.Model != "llama3.2" {
		t.Fatalf("unexpected model: %s", cfg.LLM.Model)
	}
}

func TestFromYAMLKeepsDefaultsForAbsentValues(t *testing.T) {
	cfg, err := config.FromYAML([]byte("worker:\n  id: custom\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Worker.ID != "custom" {
		t.Fatalf("override lost: %s", cfg.Worker.ID)
	}
	if cfg.Heartbeat.Interval != "5m" {
		t.Fatalf("default lost: %s", cfg.Heartbeat.Interval)
	}
}

func TestFromYAMLRejectsBadDuration(t *testing.T) {
	_, err := config.FromYAML([]byte("worker:\n  id: w\n  poll_interval: soon\n"))
	if err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestFromYAMLRejectsNegativeBatch(t *testing.T) {
	_, err := config.FromYAML([]byte("heartbeat:\n  reaction_batch: -1\n"))
	if err == nil {
		t.Fatalf("expected batch error")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.Worker.ID != "worker-1" {
		t.Fatalf("expected defaults, got %+v", cfg.Worker)
	}

	content := "worker:\n  id: from-file\nllm:\n  base_url: http://llm:11434\n"
	if err := os.WriteFile(filepath.Join(dir, "agentops.yml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load with file: %v", err)
	}
	if cfg.Worker.ID != "from-file" || cfg.LLM.BaseURL != "http://llm:11434" {
		t.Fatalf("file values lost: %+v", cfg)
	}
}

func TestDuration(t *testing.T) {
	if got := config.Duration("", time.Minute); got != time.Minute {
		t.Fatalf("empty: %s", got)
	}
	if got := config.Duration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("parsed: %s", got)
	}
	if got := config.Duration("nope", time.Minute); got != time.Minute {
		t.Fatalf("fallback: %s", got)
	}
}
