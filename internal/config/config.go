// Package config loads server configuration (spec.md package layout,
// "internal/config/ ambient: workspace + server configuration loading").
//
// Grounded on the teacher's provider/lib/lib.go GetConfig: a flat struct
// read from a single file on disk, with a zero-value fallback appended
// rather than treated as an error. That file reads JSON; this one reads
// YAML via gopkg.in/yaml.v2 (already part of the teacher's own go.mod,
// used by provider/provider.go for provider-config serialization)
// because a server config here is hand-edited far more often than a
// provider settings file is, and YAML is the format the teacher already
// reaches for whenever a config is meant to be human-authored.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the glsp server's top-level configuration (spec.md §4.3
// "Environment": local artifact cache directory; §4.8 worker count; §7
// ambient logging level).
type Config struct {
	// WorkspaceRoot is the directory the Workspace Indexer (C8) walks and
	// watches. Defaults to the process's working directory if empty.
	WorkspaceRoot string `yaml:"workspaceRoot,omitempty"`

	// SymbolIndexPath is where the persistent bbolt-backed Symbol Index
	// (C6) stores its database file.
	SymbolIndexPath string `yaml:"symbolIndexPath,omitempty"`

	// ArtifactCacheDir names a local artifact cache directory. It is
	// loaded from the file but not passed to any component:
	// depresolve.LocateJar always searches the user's ~/.m2/repository
	// and ~/.gradle/caches/modules-2/files-2.1.
	ArtifactCacheDir string `yaml:"artifactCacheDir,omitempty"`

	// WorkerCount bounds the Workspace Indexer's worker pool (spec.md
	// §4.8). Zero means "use the component default".
	WorkerCount int `yaml:"workerCount,omitempty"`

	// GradleTimeout is loaded from the file but not passed to any
	// component: GradleResolver always uses the fixed
	// depresolve.GradleTimeout deadline.
	GradleTimeout time.Duration `yaml:"gradleTimeout,omitempty"`

	// LogLevel is a logr verbosity (V-level); higher is more verbose,
	// matching the teacher's cmd/analyzer/main.go --verbosity flag.
	LogLevel int `yaml:"logLevel,omitempty"`

	// MaxSourceBytes is loaded from the file but not passed to any
	// component: groovyast.Parse always uses the fixed
	// groovyast.MaxSourceBytes limit.
	MaxSourceBytes int64 `yaml:"maxSourceBytes,omitempty"`
}

// Default returns a Config with every component-default left at its
// zero value, so components fall back to their own built-in defaults.
func Default() Config {
	return Config{LogLevel: 0}
}

// Load reads path as YAML into a Config. A missing file is not an
// error: it returns Default(), matching provider/lib/lib.go's leniency
// of always appending a built-in fallback rather than failing when
// nothing was configured.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
