package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("got %+v, want Default()", cfg)
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("got %+v, want Default()", cfg)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "glsp.yaml")
	content := []byte(`
workspaceRoot: /tmp/myproject
symbolIndexPath: /tmp/myproject/.glsp/symbols.db
artifactCacheDir: /tmp/myproject/.glsp/cache
workerCount: 4
gradleTimeout: 10s
logLevel: 2
maxSourceBytes: 2097152
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Config{
		WorkspaceRoot:    "/tmp/myproject",
		SymbolIndexPath:  "/tmp/myproject/.glsp/symbols.db",
		ArtifactCacheDir: "/tmp/myproject/.glsp/cache",
		WorkerCount:      4,
		GradleTimeout:    10 * time.Second,
		LogLevel:         2,
		MaxSourceBytes:   2097152,
	}
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "glsp.yaml")
	if err := os.WriteFile(path, []byte("workerCount: [this is not an int"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed YAML, got nil")
	}
}
