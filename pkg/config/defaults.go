package config

import (
	"strings"
	"time"
)

// GetDefaultConfig returns a Config populated entirely from defaults.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills any unspecified fields of cfg with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyTransportDefaults(&cfg.Transport)
	applyChannelDefaults(&cfg.Channel)
	applyCodecDefaults(&cfg.Codec)
	applySessionDefaults(&cfg.Session)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 64 * 1024
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = 64 * 1024
	}
	if cfg.WriteWatermark == 0 {
		cfg.WriteWatermark = 1 << 20
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RecoveryBaseDelay == 0 {
		cfg.RecoveryBaseDelay = 200 * time.Millisecond
	}
	if cfg.RecoveryMaxDelay == 0 {
		cfg.RecoveryMaxDelay = 30 * time.Second
	}
	if cfg.MaxTransports == 0 {
		cfg.MaxTransports = 8
	}
	if cfg.Scheduler == "" {
		cfg.Scheduler = "ROUND_ROBIN"
	}
}

func applyChannelDefaults(cfg *ChannelConfig) {
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 32
	}
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = 1 << 20
	}
	if cfg.MaxResponseSize == 0 {
		cfg.MaxResponseSize = 1 << 20
	}
	// OrderedExecution, SyncDispatch default to false (unordered, async).
	// BandwidthLimit defaults to 0 (admission control disabled).
}

func applyCodecDefaults(cfg *CodecConfig) {
	if len(cfg.HeaderDigests) == 0 {
		cfg.HeaderDigests = []string{"CRC32", "NONE"}
	}
	if len(cfg.DataDigests) == 0 {
		cfg.DataDigests = []string{"NONE"}
	}
	if len(cfg.PayloadDigests) == 0 {
		cfg.PayloadDigests = []string{"CRC32", "NONE"}
	}
	if len(cfg.PayloadCompression) == 0 {
		cfg.PayloadCompression = []string{"NONE"}
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.MinKeepaliveTime == 0 {
		cfg.MinKeepaliveTime = 60 * time.Second
	}
	if cfg.LogoutTimeout == 0 {
		cfg.LogoutTimeout = 10 * time.Second
	}
	// LocalAlias defaults to empty (UUID-only terminus).
	// Ephemeral defaults to false.
}
