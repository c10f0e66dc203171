package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Duwi bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	House    HouseConfig    `yaml:"house"`
	Cloud    CloudConfig    `yaml:"cloud"`
	LAN      LANConfig      `yaml:"lan"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	History  HistoryConfig  `yaml:"history"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HouseConfig identifies the house this bridge instance serves.
// EntryID partitions LAN host state when several bridges share a process.
type HouseConfig struct {
	EntryID   string `yaml:"entry_id"`
	HouseNo   string `yaml:"house_no"`
	HouseName string `yaml:"house_name"`
	// SecretKey is the per-house LAN shared secret (32 or 64 hex characters).
	SecretKey string `yaml:"secret_key"`
}

// CloudConfig contains vendor cloud connection settings.
type CloudConfig struct {
	Address   string `yaml:"address"`
	WSAddress string `yaml:"ws_address"`
	AppKey    string `yaml:"app_key"`
	AppSecret string `yaml:"app_secret"`
	Phone     string `yaml:"phone"`
	Password  string `yaml:"password"`
	// Timeout is the per-request timeout in seconds. Default: 15.
	Timeout int `yaml:"timeout"`
	// MaxRetries bounds transport-level retry attempts. Default: 3.
	MaxRetries int `yaml:"max_retries"`
}

// LANConfig contains local transport settings.
type LANConfig struct {
	// MulticastGroup is the discovery/command multicast address.
	// Default: "239.0.0.188".
	MulticastGroup string `yaml:"multicast_group"`
	// Port is the UDP port for both multicast and unicast traffic.
	// Default: 54283.
	Port int `yaml:"port"`
	// HeartbeatInterval is the heartbeat cadence in seconds. Default: 30.
	HeartbeatInterval int `yaml:"heartbeat_interval"`
}

// DatabaseConfig contains SQLite local-cache settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains settings for the Home Assistant MQTT surface.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// APIConfig contains the diagnostics HTTP API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HistoryConfig contains InfluxDB state-history settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
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
// Environment variables follow the pattern: DUWI_SECTION_KEY
// For example: DUWI_DATABASE_PATH, DUWI_CLOUD_APP_SECRET
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
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			Timeout:    15,
			MaxRetries: 3,
		},
		LAN: LANConfig{
			MulticastGroup:    "239.0.0.188",
			Port:              54283,
			HeartbeatInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/duwi.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled:     true,
			Broker:      "tcp://localhost:1883",
			ClientID:    "duwi-bridge",
			TopicPrefix: "duwi",
			QoS:         1,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8337,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DUWI_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DUWI_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DUWI_CLOUD_APP_KEY"); v != "" {
		cfg.Cloud.AppKey = v
	}
	if v := os.Getenv("DUWI_CLOUD_APP_SECRET"); v != "" {
		cfg.Cloud.AppSecret = v
	}
	if v := os.Getenv("DUWI_CLOUD_PHONE"); v != "" {
		cfg.Cloud.Phone = v
	}
	if v := os.Getenv("DUWI_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("DUWI_HOUSE_SECRET_KEY"); v != "" {
		cfg.House.SecretKey = v
	}
	if v := os.Getenv("DUWI_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("DUWI_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("DUWI_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("DUWI_INFLUXDB_TOKEN"); v != "" {
		cfg.History.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.House.EntryID == "" {
		errs = append(errs, "house.entry_id is required")
	}
	if c.House.HouseNo == "" {
		errs = append(errs, "house.house_no is required")
	}
	if c.House.SecretKey != "" && len(c.House.SecretKey)%2 != 0 {
		errs = append(errs, "house.secret_key must be an even-length hex string")
	}

	if c.Cloud.Address == "" {
		errs = append(errs, "cloud.address is required")
	}
	if c.Cloud.AppKey == "" || c.Cloud.AppSecret == "" {
		errs = append(errs, "cloud.app_key and cloud.app_secret are required")
	}

	if c.LAN.Port < 1 || c.LAN.Port > 65535 {
		errs = append(errs, "lan.port must be between 1 and 65535")
	}
	if c.LAN.HeartbeatInterval < 1 {
		errs = append(errs, "lan.heartbeat_interval must be at least 1 second")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HeartbeatInterval returns the LAN heartbeat cadence as a Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.LAN.HeartbeatInterval) * time.Second
}

// CloudTimeout returns the cloud request timeout as a Duration.
func (c *Config) CloudTimeout() time.Duration {
	return time.Duration(c.Cloud.Timeout) * time.Second
}
