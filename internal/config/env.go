package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays SOLNODE_* environment variables onto cfg. List-valued
// variables take comma-separated values.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SOLNODE_STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("SOLNODE_RPC_ENDPOINTS"); v != "" {
		cfg.Network.RPCEndpoints = splitList(v)
	}
	if v := os.Getenv("SOLNODE_WEBSOCKET_ENDPOINTS"); v != "" {
		cfg.Network.WebsocketEndpoints = splitList(v)
	}
	if v := os.Getenv("SOLNODE_GOSSIP_ENTRYPOINTS"); v != "" {
		cfg.Network.GossipEntrypoints = splitList(v)
	}
	if v := os.Getenv("SOLNODE_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Network.MaxConnections = n
		}
	}
	if v := os.Getenv("SOLNODE_LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Node.ListenPort = n
		}
	}
	if v := os.Getenv("SOLNODE_MAX_TRANSACTION_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Node.MaxTransactionBatchSize = n
		}
	}
	if v := os.Getenv("SOLNODE_STORAGE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Node.StorageRetentionDays = n
		}
	}
	if v := os.Getenv("SOLNODE_IDENTITY_KEYPAIR_PATH"); v != "" {
		cfg.Node.IdentityKeypairPath = v
	}
	if v := os.Getenv("SOLNODE_STORE_FILTER"); v != "" {
		cfg.Node.StoreFilter = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
