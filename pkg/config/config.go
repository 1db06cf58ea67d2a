package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Config holds the notifyhub configuration.
type Config struct {
	// Port is the HTTP listen port of the server.
	Port string `json:"port" mapstructure:"port"`
	// DataDir is where durable state lives (subscriptions, VAPID keys,
	// local notification history).
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
	// VAPIDContact is the contact address advertised to push services.
	VAPIDContact string `json:"vapid_contact" mapstructure:"vapid_contact"`
	// RetentionLimit caps the local notification history.
	RetentionLimit int `json:"retention_limit" mapstructure:"retention_limit"`
	// PushTimeoutSec bounds each individual push send.
	PushTimeoutSec int `json:"push_timeout_sec" mapstructure:"push_timeout_sec"`
	// ProbeTimeoutSec bounds the wait for a connectivity probe reply.
	ProbeTimeoutSec int `json:"probe_timeout_sec" mapstructure:"probe_timeout_sec"`
}

// LoadConfig loads configuration from a JSON file, filling in defaults for
// anything unset.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("Failed to close config file: %v", err)
		}
	}()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}
	config.applyDefaults()
	return &config, nil
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = "4000"
	}
	if c.DataDir == "" {
		if dir := os.Getenv("NOTIFYHUB_DATA_DIR"); dir != "" {
			c.DataDir = dir
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				home = "."
			}
			c.DataDir = filepath.Join(home, ".notifyhub")
		}
	}
	if c.VAPIDContact == "" {
		c.VAPIDContact = os.Getenv("VAPID_CONTACT_EMAIL")
	}
	if c.VAPIDContact == "" {
		c.VAPIDContact = "mailto:admin@localhost"
	}
	if c.RetentionLimit == 0 {
		c.RetentionLimit = 50
	}
	if c.PushTimeoutSec == 0 {
		c.PushTimeoutSec = 10
	}
	if c.ProbeTimeoutSec == 0 {
		c.ProbeTimeoutSec = 5
	}
}

// SubscriptionFile is the path of the durable subscription registry.
func (c *Config) SubscriptionFile() string {
	return filepath.Join(c.DataDir, "subscriptions.json")
}

// VAPIDKeyFile is the path of the persisted VAPID keypair.
func (c *Config) VAPIDKeyFile() string {
	return filepath.Join(c.DataDir, "vapid-keys.json")
}

// HistoryFile is the path of the local notification history database.
func (c *Config) HistoryFile() string {
	return filepath.Join(c.DataDir, "history.db")
}

// PushTimeout returns PushTimeoutSec as a duration.
func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.PushTimeoutSec) * time.Second
}

// ProbeTimeout returns ProbeTimeoutSec as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}
