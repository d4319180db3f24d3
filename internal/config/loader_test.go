package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadFromDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Pipeline.Chunking.Size != 800 || cfg.Pipeline.Chunking.Overlap != 80 {
		t.Fatalf("chunking defaults = %+v", cfg.Pipeline.Chunking)
	}
	if cfg.Pipeline.Voice.Threshold != 0.88 {
		t.Fatalf("voice threshold = %v", cfg.Pipeline.Voice.Threshold)
	}
	if cfg.Pipeline.Agent.MaxExchanges != 4 {
		t.Fatalf("max exchanges = %d", cfg.Pipeline.Agent.MaxExchanges)
	}
	if cfg.Pipeline.Worker.LeaseTTL != 2*time.Minute {
		t.Fatalf("lease ttl = %v", cfg.Pipeline.Worker.LeaseTTL)
	}
	if cfg.Pipeline.Retrieval.Outline.MaxChunks <= cfg.Pipeline.Retrieval.Draft.MaxChunks {
		t.Fatalf("outline budget should be wider than draft: %+v vs %+v", cfg.Pipeline.Retrieval.Outline, cfg.Pipeline.Retrieval.Draft)
	}
}

func TestLoadFromExpandsEnvAndMergesEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "staging")
	t.Setenv("MANUSCRIPT_PG_HOST", "pg.internal")
	writeFile(t, dir, "config.yaml", `
database:
  postgres:
    host: ${MANUSCRIPT_PG_HOST:localhost}
    password: ${MANUSCRIPT_PG_PASSWORD:secret}
embedding:
  provider: hashing
  model: bow
  version: "2"
`)
	writeFile(t, dir, "config.staging.yaml", `
pipeline:
  voice:
    threshold: 0.9
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Database.Postgres.Host != "pg.internal" {
		t.Fatalf("host = %q", cfg.Database.Postgres.Host)
	}
	if cfg.Database.Postgres.Password != "secret" {
		t.Fatalf("password default = %q", cfg.Database.Postgres.Password)
	}
	if cfg.Pipeline.Voice.Threshold != 0.9 {
		t.Fatalf("threshold = %v", cfg.Pipeline.Voice.Threshold)
	}
	if got := cfg.Embedding.ActiveEmbeddingModel(); got != "hashing:bow@2" {
		t.Fatalf("active model = %q", got)
	}
}

func TestLoadFromRejectsOverlapNotSmallerThanSize(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "test")
	writeFile(t, dir, "config.yaml", `
pipeline:
  chunking:
    size: 100
    overlap: 100
`)
	_, err := LoadFrom(dir)
	if err == nil || !strings.Contains(err.Error(), "overlap") {
		t.Fatalf("expected overlap validation error, got %v", err)
	}
}

func TestExpandEnvKeepsUnknownPlaceholders(t *testing.T) {
	got := expandEnv("a=${SURELY_UNSET_VARIABLE_123} b=${SURELY_UNSET_VARIABLE_123:x}")
	if got != "a=${SURELY_UNSET_VARIABLE_123} b=x" {
		t.Fatalf("expandEnv = %q", got)
	}
}
