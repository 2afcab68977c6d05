package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that override file settings
const (
	EnvHttpAddr            = "RELAY_HTTP_ADDR"
	EnvGrpcAddr            = "RELAY_GRPC_ADDR"
	EnvBufferMode          = "RELAY_BUFFER_MODE"
	EnvBufferCapacity      = "RELAY_BUFFER_CAPACITY"
	EnvMaxConnections      = "RELAY_MAX_CONNECTIONS"
	EnvMaxConnectionsPerIP = "RELAY_MAX_CONNECTIONS_PER_IP"
)

// DefaultConfigPath is used when no --config flag is given
const DefaultConfigPath = "./config/relay.defaults.yml"

// LookupFunc reports an environment value; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment overrides onto cfg. Unset variables leave
// the file values alone; malformed numbers are an error.
func ApplyEnv(cfg *RelayConfig, lookup LookupFunc) error {
	if v, ok := lookup(EnvHttpAddr); ok {
		cfg.HttpListenAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvGrpcAddr); ok {
		cfg.GrpcListenAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvBufferMode); ok && strings.TrimSpace(v) != "" {
		cfg.Buffer.Mode = strings.ToLower(strings.TrimSpace(v))
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvBufferCapacity, &cfg.Buffer.Capacity},
		{EnvMaxConnections, &cfg.Connections.MaxConnections},
		{EnvMaxConnectionsPerIP, &cfg.Connections.MaxConnectionsPerIP},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
		}
		*e.dst = n
	}
	return nil
}
