// Package config loads the daemon configuration: YAML file merged over
// defaults, with a few environment overrides for containerized runs.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"meshchat/internal/cryptobox"
)

type ChannelConfig struct {
	Name string `yaml:"name"`
	// Key is the base64 shared key; empty means a plaintext channel.
	Key string `yaml:"key,omitempty"`
}

type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name,omitempty"`
}

type Config struct {
	Listen      string `yaml:"listen"`
	AdminListen string `yaml:"admin_listen"`
	Root        string `yaml:"root"`
	Nick        string `yaml:"nick"`
	LogLevel    string `yaml:"log_level"`

	SeenCacheCapacity int           `yaml:"seen_cache_capacity"`
	EventLogCapacity  int           `yaml:"event_log_capacity"`
	SendTimeout       time.Duration `yaml:"send_timeout"`

	PeerEventRate  float64 `yaml:"peer_event_rate"`
	PeerEventBurst int     `yaml:"peer_event_burst"`

	Peers     []string        `yaml:"peers"`
	Channels  []ChannelConfig `yaml:"channels"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

func Default() Config {
	return Config{
		Listen:            ":6465",
		AdminListen:       "127.0.0.1:8420",
		Root:              defaultRoot(),
		Nick:              "anon",
		LogLevel:          "info",
		SeenCacheCapacity: 65536,
		EventLogCapacity:  4096,
		SendTimeout:       5 * time.Second,
		PeerEventRate:     200,
		PeerEventBurst:    400,
	}
}

func defaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meshchat"
	}
	return home + "/.meshchat"
}

// Load reads the YAML file at path over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MESHCHAT_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("MESHCHAT_ADMIN_LISTEN"); v != "" {
		cfg.AdminListen = v
	}
	if v := os.Getenv("MESHCHAT_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("MESHCHAT_NICK"); v != "" {
		cfg.Nick = v
	}
	if v := os.Getenv("MESHCHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("missing listen address")
	}
	if c.SeenCacheCapacity < 0 || c.EventLogCapacity < 0 {
		return fmt.Errorf("capacities must be non-negative")
	}
	for _, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel with empty name")
		}
		if _, err := ch.SharedKey(); err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
	}
	return nil
}

// SharedKey decodes the channel key, nil when the channel is plaintext.
func (c ChannelConfig) SharedKey() (*[cryptobox.KeySize]byte, error) {
	if c.Key == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(c.Key)
	if err != nil {
		return nil, fmt.Errorf("bad key encoding: %w", err)
	}
	if len(raw) != cryptobox.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", cryptobox.KeySize, len(raw))
	}
	key := new([cryptobox.KeySize]byte)
	copy(key[:], raw)
	return key, nil
}
