package stream

import (
	"flag"
	"path/filepath"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Port != 8422 {
		t.Fatalf("Port = %d, want 8422", cfg.Port)
	}
	if cfg.DBPath != "gauntlet.db" {
		t.Fatalf("DBPath = %q, want gauntlet.db", cfg.DBPath)
	}
	if cfg.Retention != 512 {
		t.Fatalf("Retention = %d, want 512", cfg.Retention)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("GAUNTLET_STREAM_PORT", "9000")
	t.Setenv("GAUNTLET_STREAM_RETENTION", "64")

	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-port", "9001", "-engine-url", "http://engine:8080"})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Port != 9001 {
		t.Fatalf("Port = %d, want flag override 9001", cfg.Port)
	}
	if cfg.Retention != 64 {
		t.Fatalf("Retention = %d, want env 64", cfg.Retention)
	}
	if cfg.EngineURL != "http://engine:8080" {
		t.Fatalf("EngineURL = %q", cfg.EngineURL)
	}
}

func TestNewServerOpensStorage(t *testing.T) {
	cfg := Config{
		Port:   0,
		DBPath: filepath.Join(t.TempDir(), "stream.db"),
	}
	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	server.Close()
}

func TestNewServerRejectsMissingDefinitions(t *testing.T) {
	cfg := Config{
		DBPath:          filepath.Join(t.TempDir(), "stream.db"),
		DefinitionsPath: filepath.Join(t.TempDir(), "missing.yaml"),
	}
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("NewServer() with missing definitions expected error")
	}
}
