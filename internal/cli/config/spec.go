// Package config defines the CLI configuration structure.
package config

import "time"

// CLIConfig is the configuration for tokmesh-cli.
type CLIConfig struct {
	// Default connection settings
	DefaultServer string `koanf:"default_server"`
	DefaultOutput string `koanf:"default_output"` // table, json, yaml

	// Saved connections
	Connections map[string]ConnectionConfig `koanf:"connections"`

	// Current active connection
	CurrentConnection string `koanf:"current_connection"`

	// Cluster is the replicated state-machine client's config, used by
	// the "cluster" command group (cmd/tokmesh-cli).
	Cluster ClusterConfig `koanf:"cluster"`
}

// ConnectionConfig stores saved connection details.
type ConnectionConfig struct {
	Server   string `koanf:"server"`
	APIKeyID string `koanf:"api_key_id"`
	APIKey   string `koanf:"api_key"` // Held as loaded; not encrypted by this package
	TLS      bool   `koanf:"tls"`
}

// ClusterConfig configures the raftclient.Client built by the
// "cluster" command group.
type ClusterConfig struct {
	Members            []string      `koanf:"members"`
	SessionTimeoutHint time.Duration `koanf:"session_timeout_hint"`
	TLS                bool          `koanf:"tls"`
	TLSCAFile          string        `koanf:"tls_ca_file"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultServer: "http://localhost:5080",
		DefaultOutput: "table",
		Connections:   make(map[string]ConnectionConfig),
		Cluster: ClusterConfig{
			SessionTimeoutHint: 10 * time.Second,
		},
	}
}
