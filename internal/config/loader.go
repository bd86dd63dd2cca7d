package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EngineProfile configures one engine kind: the executable, its base
// arguments, an optional weights file and a search budget. A playout count
// of zero means the engine decides.
type EngineProfile struct {
	Exec     string   `json:"exec" yaml:"exec" toml:"exec"`
	Args     []string `json:"args" yaml:"args" toml:"args"`
	Weights  string   `json:"weights" yaml:"weights" toml:"weights"`
	Playouts int      `json:"playouts" yaml:"playouts" toml:"playouts"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Listen        string                   `json:"listen" yaml:"listen" toml:"listen"`
	MaxInstances  int                      `json:"max_instances" yaml:"max_instances" toml:"max_instances"`
	DefaultEngine string                   `json:"default_engine" yaml:"default_engine" toml:"default_engine"`
	Engines       map[string]EngineProfile `json:"engines" yaml:"engines" toml:"engines"`
	CGOSAddr      string                   `json:"cgos_addr" yaml:"cgos_addr" toml:"cgos_addr"`
	RedisAddr     string                   `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
