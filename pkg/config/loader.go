package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, expands environment variable
// references, applies spec-default values to anything left unset, and
// validates the result (spec §6.4). It is the single entry point the
// orchestrator binary calls at boot.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expandEnv(raw), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("configuration loaded", "path", path, "httpPort", cfg.Listen.HTTP.Port, "wsPath", cfg.Listen.WS.Path)
	return &cfg, nil
}
