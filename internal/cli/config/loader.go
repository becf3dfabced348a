// Package config defines the CLI configuration structure.
package config

import (
	"os"
	"path/filepath"

	"github.com/tokmesh/cluster-go/internal/infra/confloader"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tokmesh", "cli.yaml")
}

// Load loads CLI configuration from file and environment, env > file >
// default (internal/infra/confloader.Loader); flags are not read here.
// When no file exists it returns Default() without reading the
// environment.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	loader := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithEnvPrefix("TOKMESH_"),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save creates the parent directory of the CLI configuration file. It
// does not write cfg to the file.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	// TODO: encrypt API keys and marshal cfg to YAML at 0600.
	return nil
}

// Merge overlays environment variables and flag values onto cfg.
// Superseded by confloader.Loader for file/env loading in Load; this
// remains for ad hoc overrides callers assemble themselves (e.g. from
// urfave/cli flag values not yet wired through a Koanf provider).
func Merge(cfg *CLIConfig, env map[string]string, flags map[string]string) *CLIConfig {
	if server, ok := env["TOKMESH_SERVER"]; ok && server != "" {
		cfg.DefaultServer = server
	}
	if output, ok := flags["output"]; ok && output != "" {
		cfg.DefaultOutput = output
	}
	return cfg
}
