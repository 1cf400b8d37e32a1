package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "storage_path": "/tmp/txdata",
  "network": {
    "rpc_endpoints": ["https://rpc-a", "https://rpc-b"],
    "websocket_endpoints": ["wss://ws-a"],
    "max_connections": 8
  },
  "node": {
    "listen_port": 9100,
    "max_transaction_batch_size": 50,
    "storage_retention_days": 7
  }
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoragePath != "/tmp/txdata" {
		t.Fatalf("storage_path = %q", cfg.StoragePath)
	}
	if len(cfg.Network.RPCEndpoints) != 2 || cfg.Network.MaxConnections != 8 {
		t.Fatalf("network config mismatch: %+v", cfg.Network)
	}
	if cfg.Node.MaxTransactionBatchSize != 50 || cfg.Node.StorageRetentionDays != 7 {
		t.Fatalf("node config mismatch: %+v", cfg.Node)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
storage_path: /tmp/txdata
network:
  rpc_endpoints: ["https://rpc-a"]
  websocket_endpoints: ["wss://ws-a"]
  max_connections: 4
node:
  listen_port: 8899
  max_transaction_batch_size: 100
  storage_retention_days: 0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network.MaxConnections != 4 || cfg.Node.StorageRetentionDays != 0 {
		t.Fatalf("yaml config mismatch: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no storage path", func(c *Config) { c.StoragePath = "" }, "storage_path"},
		{"no rpc endpoints", func(c *Config) { c.Network.RPCEndpoints = nil }, "rpc_endpoints"},
		{"no ws endpoints", func(c *Config) { c.Network.WebsocketEndpoints = nil }, "websocket_endpoints"},
		{"zero connections", func(c *Config) { c.Network.MaxConnections = 0 }, "max_connections"},
		{"zero batch", func(c *Config) { c.Node.MaxTransactionBatchSize = 0 }, "batch_size"},
		{"negative retention", func(c *Config) { c.Node.StorageRetentionDays = -1 }, "retention"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), "invalid configuration") {
				t.Fatalf("error should wrap ErrInvalid: %v", err)
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	wrote, err := WriteDefault(path)
	if err != nil || !wrote {
		t.Fatalf("first write: wrote=%v err=%v", wrote, err)
	}
	wrote, err = WriteDefault(path)
	if err != nil || wrote {
		t.Fatalf("second write should be a no-op: wrote=%v err=%v", wrote, err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("written default should validate: %v", err)
	}
}

func TestFromEnvOverlay(t *testing.T) {
	t.Setenv("SOLNODE_RPC_ENDPOINTS", "https://one, https://two")
	t.Setenv("SOLNODE_MAX_CONNECTIONS", "3")
	t.Setenv("SOLNODE_STORAGE_RETENTION_DAYS", "0")
	cfg := Default()
	FromEnv(&cfg)
	if len(cfg.Network.RPCEndpoints) != 2 || cfg.Network.RPCEndpoints[1] != "https://two" {
		t.Fatalf("rpc endpoints overlay: %v", cfg.Network.RPCEndpoints)
	}
	if cfg.Network.MaxConnections != 3 {
		t.Fatalf("max connections overlay: %d", cfg.Network.MaxConnections)
	}
	if cfg.Node.StorageRetentionDays != 0 {
		t.Fatalf("retention overlay: %d", cfg.Node.StorageRetentionDays)
	}
}
