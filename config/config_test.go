package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"feeds": [{"name": "Go Blog", "url": "https://go.dev/blog/feed.atom"}],
		"dedup": {"title_threshold": 0.9},
		"relevance": {"criteria": "software engineering news"},
		"categories": {"list": [{"name": "Tools", "keywords": ["cli"]}]}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadConfig(path)

	if len(cfg.Feeds) != 1 || cfg.Feeds[0].Name != "Go Blog" {
		t.Fatalf("feeds = %+v", cfg.Feeds)
	}
	if cfg.Dedup.TitleThreshold != 0.9 {
		t.Fatalf("title_threshold = %v, want override 0.9", cfg.Dedup.TitleThreshold)
	}
	if cfg.Dedup.URLThreshold != 0.8 {
		t.Fatalf("url_threshold = %v, want default 0.8", cfg.Dedup.URLThreshold)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("max_attempts = %d, want default 3", cfg.Retry.MaxAttempts)
	}
	if len(cfg.Retry.Delays) != 3 || cfg.Retry.Delays[1] != 2*time.Second {
		t.Fatalf("delays = %v", cfg.Retry.Delays)
	}
	if cfg.Fetch.Window != 24*time.Hour {
		t.Fatalf("window = %v, want 24h", cfg.Fetch.Window)
	}
	if cfg.Relevance.OnFailure != "include" {
		t.Fatalf("on_failure = %q, want default include", cfg.Relevance.OnFailure)
	}
	if cfg.Ranking.Threshold != 5 || cfg.Ranking.MaxPerCategory != 5 {
		t.Fatalf("ranking = %+v", cfg.Ranking)
	}
	if cfg.Categories.Default != "Other" {
		t.Fatalf("default category = %q", cfg.Categories.Default)
	}
	if cfg.Guardrail.Enabled {
		t.Fatal("guardrail must default off")
	}
	if !cfg.Summary.Enabled || cfg.Summary.Model != "gpt-3.5-turbo" {
		t.Fatalf("summary = %+v, want enabled by default", cfg.Summary)
	}
}

func TestGuardrailValidation(t *testing.T) {
	if err := (GuardrailConfig{Enabled: true, Keywords: []string{" ", ""}}).Validate(); err == nil {
		t.Fatal("enabled guardrail without keywords must be rejected")
	}
	if err := (GuardrailConfig{Enabled: true, Keywords: []string{"golang"}}).Validate(); err != nil {
		t.Fatalf("valid guardrail rejected: %v", err)
	}
	if err := (GuardrailConfig{}).Validate(); err != nil {
		t.Fatalf("disabled guardrail rejected: %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "digest", Password: "secret", DBName: "digest"}
	want := "postgres://digest:secret@db:5432/digest?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}

	p = PostgresConfig{URL: "postgres://u:p@h/db"}
	if got := p.DSN(); got != "postgres://u:p@h/db" {
		t.Fatalf("dsn = %q, want url passthrough", got)
	}
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache"}
	if got := r.Addr(); got != "cache:6379" {
		t.Fatalf("addr = %q", got)
	}
	if (RedisConfig{}).Enabled() {
		t.Fatal("empty redis config should not be enabled")
	}
}
