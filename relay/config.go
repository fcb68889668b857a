// Package relay implements the signaling relay: a websocket hub that
// tracks room membership and forwards negotiation traffic between
// participants without inspecting it.
package relay

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/veilcall/veilcall/signal"
)

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

type Config struct {
	Addr           string             `yaml:"addr"`
	AllowedOrigins []string           `yaml:"allowedOrigins"`
	ICEServers     []signal.ICEServer `yaml:"iceServers"`
	Log            LogConfig          `yaml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr: ":8090",
		ICEServers: []signal.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	return cfg, nil
}
