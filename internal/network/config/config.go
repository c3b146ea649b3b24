// Package config defines the networking core's configuration record and
// loads it with viper, matching the defaults and validation the original
// papyrus_network::NetworkConfig carries.
package config

import (
	"fmt"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/spf13/viper"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/neterr"
)

const (
	defaultTCPPort             = 10000
	defaultQUICPort            = 10001
	defaultSessionTimeoutSecs  = 120
	defaultIdleConnTimeoutSecs = 120
	defaultHeaderBufferSize    = 100_000
	secretKeyLen               = 32
	envPrefix                  = "PAPYRUS_NETWORK"
)

// Config is the single record of recognized networking options (spec §6).
type Config struct {
	TCPPort               uint16
	QUICPort              uint16
	SessionTimeout        time.Duration
	IdleConnectionTimeout time.Duration
	HeaderBufferSize      uint

	// BootstrapPeerMultiaddr is nil when no bootstrap peer is configured.
	BootstrapPeerMultiaddr multiaddr.Multiaddr

	// SecretKey is nil when absent (a random keypair is generated). The
	// wire form uses a zero-length byte sequence to mean "absent"; Load
	// normalizes that to nil here.
	SecretKey []byte
}

// Default returns the configuration defaults from spec §6.
func Default() *Config {
	return &Config{
		TCPPort:               defaultTCPPort,
		QUICPort:              defaultQUICPort,
		SessionTimeout:        defaultSessionTimeoutSecs * time.Second,
		IdleConnectionTimeout: defaultIdleConnTimeoutSecs * time.Second,
		HeaderBufferSize:      defaultHeaderBufferSize,
	}
}

// Load reads configuration from environment variables prefixed
// PAPYRUS_NETWORK_, falling back to Default for anything unset, then
// validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("tcp_port", d.TCPPort)
	v.SetDefault("quic_port", d.QUICPort)
	v.SetDefault("session_timeout", defaultSessionTimeoutSecs)
	v.SetDefault("idle_connection_timeout", defaultIdleConnTimeoutSecs)
	v.SetDefault("header_buffer_size", d.HeaderBufferSize)
	v.SetDefault("bootstrap_peer_multiaddr", "")
	v.SetDefault("secret_key", "")

	cfg := &Config{
		TCPPort:               uint16(v.GetUint32("tcp_port")),
		QUICPort:              uint16(v.GetUint32("quic_port")),
		SessionTimeout:        time.Duration(v.GetInt64("session_timeout")) * time.Second,
		IdleConnectionTimeout: time.Duration(v.GetInt64("idle_connection_timeout")) * time.Second,
		HeaderBufferSize:      uint(v.GetUint64("header_buffer_size")),
	}

	if raw := v.GetString("bootstrap_peer_multiaddr"); raw != "" {
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			return nil, neterr.Wrap(neterr.ConfigInvalid, "bootstrap_peer_multiaddr", err)
		}
		cfg.BootstrapPeerMultiaddr = addr
	}

	if raw := v.GetString("secret_key"); raw != "" {
		cfg.SecretKey = []byte(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants spec §6 calls out explicitly: secret_key
// length must be 0 (absent, normalized to nil above) or 32.
func (c *Config) Validate() error {
	if len(c.SecretKey) != 0 && len(c.SecretKey) != secretKeyLen {
		return neterr.New(neterr.ConfigInvalid,
			fmt.Sprintf("secret_key must be 0 or %d bytes, got %d", secretKeyLen, len(c.SecretKey)))
	}
	return nil
}

// PublicFields returns the subset of configuration safe to surface to a
// monitoring/RPC layer, mirroring the public/private split the original
// NetworkConfig::dump makes (secret_key is ParamPrivacyInput::Private).
func (c *Config) PublicFields() map[string]any {
	fields := map[string]any{
		"tcp_port":                c.TCPPort,
		"quic_port":               c.QUICPort,
		"session_timeout":         uint64(c.SessionTimeout.Seconds()),
		"idle_connection_timeout": uint64(c.IdleConnectionTimeout.Seconds()),
		"header_buffer_size":      c.HeaderBufferSize,
	}
	if c.BootstrapPeerMultiaddr != nil {
		fields["bootstrap_peer_multiaddr"] = c.BootstrapPeerMultiaddr.String()
	} else {
		fields["bootstrap_peer_multiaddr"] = ""
	}
	return fields
}

// IsSensitive reports whether a config field name should be redacted when
// presenting config to the outside world.
func IsSensitive(field string) bool {
	return field == "secret_key"
}
