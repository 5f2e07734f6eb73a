package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Authentication mode identifiers accepted in client.auth_mode.
const (
	AuthModeTLS            = "tls"
	AuthModeWebSocketSigV4 = "websocket-sigv4"
)

// Config is the root configuration structure for the Gray Logic IoT client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Client     ClientConfig     `yaml:"client"`
	Connection ConnectionConfig `yaml:"connection"`
	Store      StoreConfig      `yaml:"store"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ClientConfig identifies the device gateway endpoint and how to authenticate against it.
type ClientConfig struct {
	Endpoint string       `yaml:"endpoint"`
	Port     int          `yaml:"port"`
	ClientID string       `yaml:"client_id"`
	AuthMode string       `yaml:"auth_mode"`
	Region   string       `yaml:"region"`
	TLS      TLSAuth      `yaml:"tls"`
	SigV4    SigV4Auth    `yaml:"sigv4"`
	Will     *WillMessage `yaml:"will,omitempty"`
}

// TLSAuth locates the credential bundle used for mutual TLS.
type TLSAuth struct {
	// CredentialsDir is the directory the keystore and CA file are resolved against.
	CredentialsDir string `yaml:"credentials_dir"`

	// Keystore is a PKCS#12 (.p12/.pfx) or PEM bundle holding the client
	// certificate chain and private key.
	Keystore string `yaml:"keystore"`

	// KeystorePassphrase opens the keystore. Prefer GRAYLOGIC_IOT_KEYSTORE_PASSPHRASE.
	KeystorePassphrase string `yaml:"keystore_passphrase"`

	// KeyPassphrase unlocks an encrypted private key inside the bundle.
	// Prefer GRAYLOGIC_IOT_KEY_PASSPHRASE.
	KeyPassphrase string `yaml:"key_passphrase"`

	// CAFile is an optional PEM file of trusted roots. System roots are used when empty.
	CAFile string `yaml:"ca_file"`
}

// SigV4Auth carries AWS credentials for the WebSocket transport.
// These should come from the standard AWS_* environment variables rather than the file.
type SigV4Auth struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// WillMessage is the last-will message registered at connect time.
type WillMessage struct {
	Topic   string `yaml:"topic"`
	QoS     string `yaml:"qos"`
	Payload string `yaml:"payload"`
}

// ConnectionConfig holds the session tunables.
// Zero values fall back to the connection defaults.
type ConnectionConfig struct {
	BaseRetryDelay       time.Duration `yaml:"base_retry_delay"`
	MaxRetryDelay        time.Duration `yaml:"max_retry_delay"`
	MaxConnectionRetries int           `yaml:"max_connection_retries"`
	ConnectionTimeout    time.Duration `yaml:"connection_timeout"`
	KeepAliveInterval    time.Duration `yaml:"keep_alive_interval"`
	MaxOfflineQueueSize  int           `yaml:"max_offline_queue_size"`
	NumOfClientThreads   int           `yaml:"num_of_client_threads"`
	ServerAckTimeout     time.Duration `yaml:"server_ack_timeout"`
}

// StoreConfig configures the SQLite store that persists in-flight QoS 1 packets.
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for delivery telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Connection tunables are left at zero so the connection applies its own defaults.
func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			AuthMode: AuthModeTLS,
		},
		Store: StoreConfig{
			Enabled:     false,
			Path:        "./data/inflight.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets are expected to arrive this way rather than through the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_IOT_ENDPOINT"); v != "" {
		cfg.Client.Endpoint = v
	}
	if v := os.Getenv("GRAYLOGIC_IOT_CLIENT_ID"); v != "" {
		cfg.Client.ClientID = v
	}
	if v := os.Getenv("GRAYLOGIC_IOT_AUTH_MODE"); v != "" {
		cfg.Client.AuthMode = v
	}
	if v := os.Getenv("GRAYLOGIC_IOT_KEYSTORE_PASSPHRASE"); v != "" {
		cfg.Client.TLS.KeystorePassphrase = v
	}
	if v := os.Getenv("GRAYLOGIC_IOT_KEY_PASSPHRASE"); v != "" {
		cfg.Client.TLS.KeyPassphrase = v
	}

	// Standard AWS variable names so existing tooling works unchanged.
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Client.SigV4.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Client.SigV4.SecretAccessKey = v
	}
	if v := os.Getenv("AWS_SESSION_TOKEN"); v != "" {
		cfg.Client.SigV4.SessionToken = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.Client.Region == "" {
		cfg.Client.Region = v
	}

	if v := os.Getenv("GRAYLOGIC_IOT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Credential completeness for the chosen auth mode is checked again when the
// connection is built; this pass catches file-level mistakes early and reports
// all of them at once.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Client.Endpoint == "" {
		errs = append(errs, "client.endpoint is required")
	}
	if c.Client.ClientID == "" {
		errs = append(errs, "client.client_id is required")
	}
	if c.Client.Port < 0 || c.Client.Port > 65535 {
		errs = append(errs, "client.port must be between 0 and 65535")
	}

	switch c.Client.AuthMode {
	case AuthModeTLS:
		if c.Client.TLS.Keystore == "" {
			errs = append(errs, "client.tls.keystore is required for auth_mode tls")
		}
	case AuthModeWebSocketSigV4:
		if c.Client.SigV4.AccessKeyID == "" || c.Client.SigV4.SecretAccessKey == "" {
			errs = append(errs, "client.sigv4 requires access_key_id and secret_access_key (set AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY)")
		}
	default:
		errs = append(errs, fmt.Sprintf("client.auth_mode must be %q or %q", AuthModeTLS, AuthModeWebSocketSigV4))
	}

	if w := c.Client.Will; w != nil {
		if w.Topic == "" {
			errs = append(errs, "client.will.topic is required when will is set")
		}
		if w.QoS != "" && w.QoS != "qos0" && w.QoS != "qos1" {
			errs = append(errs, "client.will.qos must be qos0 or qos1")
		}
	}

	conn := c.Connection
	if conn.BaseRetryDelay < 0 || conn.MaxRetryDelay < 0 || conn.ConnectionTimeout < 0 ||
		conn.KeepAliveInterval < 0 || conn.ServerAckTimeout < 0 {
		errs = append(errs, "connection durations must not be negative")
	}
	if conn.MaxRetryDelay > 0 && conn.BaseRetryDelay > conn.MaxRetryDelay {
		errs = append(errs, "connection.base_retry_delay must not exceed max_retry_delay")
	}
	if conn.MaxConnectionRetries < 0 || conn.MaxOfflineQueueSize < 0 || conn.NumOfClientThreads < 0 {
		errs = append(errs, "connection counts must not be negative")
	}

	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, "store.path is required when the store is enabled")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
