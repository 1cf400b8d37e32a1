package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration validation failures. Errors wrapping it are
// fatal at startup.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration loaded from file/env.
type Config struct {
	StoragePath string        `json:"storage_path" yaml:"storage_path"`
	Network     NetworkConfig `json:"network" yaml:"network"`
	Node        NodeConfig    `json:"node" yaml:"node"`
}

// NetworkConfig describes the upstream data sources.
type NetworkConfig struct {
	// RPCEndpoints are request/response sources used to fetch full
	// transaction payloads.
	RPCEndpoints []string `json:"rpc_endpoints" yaml:"rpc_endpoints"`
	// WebsocketEndpoints are streaming sources for live transaction
	// notifications.
	WebsocketEndpoints []string `json:"websocket_endpoints" yaml:"websocket_endpoints"`
	// GossipEntrypoints are peer-discovery seeds. The engine does not
	// contact them; the list is surfaced to external collaborators only.
	GossipEntrypoints []string `json:"gossip_entrypoints" yaml:"gossip_entrypoints"`
	// MaxConnections caps concurrent leased connections across all
	// endpoints of both kinds.
	MaxConnections int `json:"max_connections" yaml:"max_connections"`
}

// NodeConfig holds node-local tunables.
type NodeConfig struct {
	// IdentityKeypairPath is consumed by external collaborators; the
	// ingestion core does not read it.
	IdentityKeypairPath string `json:"identity_keypair_path,omitempty" yaml:"identity_keypair_path,omitempty"`
	// ListenPort is the status/metrics HTTP port.
	ListenPort int `json:"listen_port" yaml:"listen_port"`
	// MaxTransactionBatchSize is the batcher flush threshold.
	MaxTransactionBatchSize int `json:"max_transaction_batch_size" yaml:"max_transaction_batch_size"`
	// StorageRetentionDays is the retention window. 0 disables expiry.
	StorageRetentionDays int `json:"storage_retention_days" yaml:"storage_retention_days"`
	// StoreFilter is an optional CEL expression deciding whether a fetched
	// transaction is stored. Empty stores everything.
	StoreFilter string `json:"store_filter,omitempty" yaml:"store_filter,omitempty"`
}

// Default returns built-in defaults matching public mainnet endpoints.
func Default() Config {
	return Config{
		StoragePath: "./solana_node_data",
		Network: NetworkConfig{
			RPCEndpoints:       []string{"https://api.mainnet-beta.solana.com"},
			WebsocketEndpoints: []string{"wss://api.mainnet-beta.solana.com"},
			GossipEntrypoints:  []string{"entrypoint.mainnet-beta.solana.com:8001"},
			MaxConnections:     100,
		},
		Node: NodeConfig{
			ListenPort:              8899,
			MaxTransactionBatchSize: 1000,
			StorageRetentionDays:    30,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path unless the file
// already exists. Returns true when a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	cfg := Default()
	var b []byte
	var err error
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(cfg)
	default:
		b, err = json.MarshalIndent(cfg, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// Validate checks required fields. All failures wrap ErrInvalid.
func (c Config) Validate() error {
	if c.StoragePath == "" {
		return fmt.Errorf("%w: storage_path is required", ErrInvalid)
	}
	if len(c.Network.RPCEndpoints) == 0 {
		return fmt.Errorf("%w: network.rpc_endpoints must list at least one endpoint", ErrInvalid)
	}
	if len(c.Network.WebsocketEndpoints) == 0 {
		return fmt.Errorf("%w: network.websocket_endpoints must list at least one endpoint", ErrInvalid)
	}
	if c.Network.MaxConnections <= 0 {
		return fmt.Errorf("%w: network.max_connections must be positive", ErrInvalid)
	}
	if c.Node.MaxTransactionBatchSize <= 0 {
		return fmt.Errorf("%w: node.max_transaction_batch_size must be positive", ErrInvalid)
	}
	if c.Node.StorageRetentionDays < 0 {
		return fmt.Errorf("%w: node.storage_retention_days must be >= 0", ErrInvalid)
	}
	if c.Node.ListenPort < 0 || c.Node.ListenPort > 65535 {
		return fmt.Errorf("%w: node.listen_port out of range", ErrInvalid)
	}
	return nil
}
