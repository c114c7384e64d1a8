// Package config loads the server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server settings. Zero values are replaced by defaults in
// Load and ApplyDefaults.
type Config struct {
	// Listen is the TCP address for the client protocol.
	Listen string `yaml:"listen"`
	// HTTPListen is the address for the HTTP status and WebSocket endpoint.
	// Empty disables HTTP entirely.
	HTTPListen string `yaml:"http_listen"`
	// DBPath is the SQLite file for the reconnect archive.
	DBPath string `yaml:"db_path"`

	MaxClients          int `yaml:"max_clients"`
	MaxConnectionsPerIP int `yaml:"max_connections_per_ip"`

	// MaxRegisterPerPlayer caps how many games a client may be registered
	// in at the same time.
	MaxRegisterPerPlayer int `yaml:"max_register_per_player"`
	// PermCreateUser allows unprivileged clients to create games.
	PermCreateUser bool `yaml:"perm_create_user"`
	// AuthPassword grants admin rights via AUTH. Empty disables AUTH.
	AuthPassword string `yaml:"auth_password"`

	// FloodChatInterval and FloodChatPerInterval bound the chat rate; a
	// client exceeding the bound is muted for FloodChatMute.
	FloodChatInterval    time.Duration `yaml:"flood_chat_interval"`
	FloodChatPerInterval int           `yaml:"flood_chat_per_interval"`
	FloodChatMute        time.Duration `yaml:"flood_chat_mute"`

	// ConnArchiveExpire is how long a disconnected client's identity is
	// kept for reconnection.
	ConnArchiveExpire time.Duration `yaml:"conarchive_expire"`

	// TickInterval paces the main loop.
	TickInterval time.Duration `yaml:"tick_interval"`

	DebugLevel string `yaml:"debug_level"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":40888"
	}
	if c.DBPath == "" {
		c.DBPath = "holdingnuts.db"
	}
	if c.MaxClients <= 0 {
		c.MaxClients = 500
	}
	if c.MaxConnectionsPerIP <= 0 {
		c.MaxConnectionsPerIP = 5
	}
	if c.MaxRegisterPerPlayer <= 0 {
		c.MaxRegisterPerPlayer = 3
	}
	if c.FloodChatInterval <= 0 {
		c.FloodChatInterval = 4 * time.Second
	}
	if c.FloodChatPerInterval <= 0 {
		c.FloodChatPerInterval = 3
	}
	if c.FloodChatMute <= 0 {
		c.FloodChatMute = 20 * time.Second
	}
	if c.ConnArchiveExpire <= 0 {
		c.ConnArchiveExpire = 5 * time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 150 * time.Millisecond
	}
	if c.DebugLevel == "" {
		c.DebugLevel = "info"
	}
}

// Default returns a config with every field set to its default.
func Default() *Config {
	c := &Config{PermCreateUser: true}
	c.ApplyDefaults()
	return c
}

// Load reads a YAML config file and applies defaults. A missing file is not
// an error; the defaults are returned.
func Load(path string) (*Config, error) {
	c := &Config{PermCreateUser: true}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.ApplyDefaults()
			return c, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	c.ApplyDefaults()
	return c, nil
}
