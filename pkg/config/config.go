// Package config loads the enumerated DSP option surface (spec §6): transport
// buffer sizes, queue depths, timeouts, digest/compression lists, and the
// session-level knobs that govern negotiation defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the DSP core's static configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DSP_*), for keys the configuration file sets
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// See Load for when the environment is consulted.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls Prometheus metrics collection.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Transport configures per-link buffers, watermarks, and timeouts.
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Channel configures the fore/back channel slot and queue surface.
	Channel ChannelConfig `mapstructure:"channel" yaml:"channel"`

	// Codec configures the negotiable digest and compression layers.
	Codec CodecConfig `mapstructure:"codec" yaml:"codec"`

	// Session configures session-level timers and limits.
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics registry.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active (zero overhead when false).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// TransportConfig configures per-link buffers, watermarks, and timeouts
// (spec §6, "transport buffer sizes, write watermarks, connect/recovery
// timeouts").
type TransportConfig struct {
	// ReadBufferSize is the per-link read buffer size in bytes.
	ReadBufferSize int `mapstructure:"read_buffer_size" validate:"min=1024" yaml:"read_buffer_size"`

	// WriteBufferSize is the per-link write buffer size in bytes.
	WriteBufferSize int `mapstructure:"write_buffer_size" validate:"min=1024" yaml:"write_buffer_size"`

	// WriteWatermark is the queued-byte threshold beyond which a link is
	// considered congested for scheduling purposes.
	WriteWatermark int `mapstructure:"write_watermark" validate:"min=0" yaml:"write_watermark"`

	// ConnectTimeout bounds the Connect phase of the per-transport login sequence.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0" yaml:"connect_timeout"`

	// RecoveryBaseDelay is the initial backoff before a retry-eligible transport reconnects.
	RecoveryBaseDelay time.Duration `mapstructure:"recovery_base_delay" validate:"gt=0" yaml:"recovery_base_delay"`

	// RecoveryMaxDelay caps the exponential backoff applied to reconnects.
	RecoveryMaxDelay time.Duration `mapstructure:"recovery_max_delay" validate:"gt=0" yaml:"recovery_max_delay"`

	// MaxTransports bounds the number of transports a session may have attached (spec: 1-64).
	MaxTransports int `mapstructure:"max_transports" validate:"min=1,max=64" yaml:"max_transports"`

	// Scheduler selects the strategy used to pick a transport for outbound sends.
	Scheduler string `mapstructure:"scheduler" validate:"required,oneof=ROUND_ROBIN LEAST_QUEUE" yaml:"scheduler"`
}

// ChannelConfig configures the fore/back channel slot and queue surface
// (spec §6, "fore/back queue depth", "fore/back max request/response").
type ChannelConfig struct {
	// QueueDepth is the per-channel outstanding-command queue depth (spec: 1-4096, default 32).
	QueueDepth int `mapstructure:"queue_depth" validate:"min=1,max=4096" yaml:"queue_depth"`

	// MaxRequestSize bounds a single CommandRequest payload in bytes (spec: 8 KiB-16 MiB).
	MaxRequestSize int `mapstructure:"max_request_size" validate:"min=8192,max=16777216" yaml:"max_request_size"`

	// MaxResponseSize bounds a single CommandResponse payload in bytes (spec: 8 KiB-16 MiB).
	MaxResponseSize int `mapstructure:"max_response_size" validate:"min=8192,max=16777216" yaml:"max_response_size"`

	// OrderedExecution requires the target to execute commands in CommandSN order.
	OrderedExecution bool `mapstructure:"ordered_execution" yaml:"ordered_execution"`

	// SyncDispatch requires dispatch of a command's response to complete before
	// the next queued command is handed to the executor.
	SyncDispatch bool `mapstructure:"sync_dispatch" yaml:"sync_dispatch"`

	// BandwidthLimit caps outstanding submitted bytes, 0 disables admission control.
	BandwidthLimit int64 `mapstructure:"bandwidth_limit" validate:"min=0" yaml:"bandwidth_limit"`
}

// CodecConfig configures the negotiable digest and compression layers
// (spec §6, "Digests & compression").
type CodecConfig struct {
	// HeaderDigests lists acceptable header digest algorithms in preference order.
	HeaderDigests []string `mapstructure:"header_digests" validate:"dive,oneof=NONE CRC32 ADLER32" yaml:"header_digests"`

	// DataDigests lists acceptable body digest algorithms in preference order.
	DataDigests []string `mapstructure:"data_digests" validate:"dive,oneof=NONE CRC32 ADLER32" yaml:"data_digests"`

	// PayloadDigests lists acceptable payload digest algorithms in preference order.
	PayloadDigests []string `mapstructure:"payload_digests" validate:"dive,oneof=NONE CRC32 ADLER32" yaml:"payload_digests"`

	// PayloadCompression lists acceptable payload compression algorithms in preference order.
	PayloadCompression []string `mapstructure:"payload_compression" validate:"dive,oneof=NONE DEFLATE GZIP LZ4" yaml:"payload_compression"`

	// DigestData, when true, extends digesting to cover the payload body and not just the header.
	DigestData bool `mapstructure:"digest_data" yaml:"digest_data"`
}

// SessionConfig configures session-level timers and limits.
type SessionConfig struct {
	// MinKeepaliveTime is how long a session may remain in Failed before being
	// forced to Zombie (spec: 0-86400s, 0 disables the forced transition).
	MinKeepaliveTime time.Duration `mapstructure:"min_keepalive_time" validate:"min=0" yaml:"min_keepalive_time"`

	// LogoutTimeout bounds a graceful logout exchange (spec: 0-60s).
	LogoutTimeout time.Duration `mapstructure:"logout_timeout" validate:"min=0" yaml:"logout_timeout"`

	// LocalAlias is this terminus's alias, advertised during login negotiation.
	LocalAlias string `mapstructure:"local_alias" yaml:"local_alias"`

	// Ephemeral marks this terminus as not requiring reinstatement across restarts.
	Ephemeral bool `mapstructure:"ephemeral" yaml:"ephemeral"`
}

var validate = validator.New()

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DSP_*)
//  2. Configuration file
//  3. Default values
//
// A DSP_* variable overrides only a key that the configuration file sets.
// When no configuration file is found, Load returns the defaults and does
// not read the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}

// SaveConfig writes cfg to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DSP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined mapstructure decode hook for
// time.Duration fields (the only custom-parsed scalar this surface needs).
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dsp")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dsp")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
