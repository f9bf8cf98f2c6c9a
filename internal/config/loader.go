package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by Default values in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr" envconfig:"ADDR"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir" envconfig:"MODELS_DIR"`
	DBPath    string `json:"db_path" yaml:"db_path" toml:"db_path" envconfig:"DB_PATH"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" envconfig:"LOG_LEVEL"`

	// Generation defaults applied to every send.
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature" envconfig:"TEMPERATURE"`
	TopP        float64 `json:"top_p" yaml:"top_p" toml:"top_p" envconfig:"TOP_P"`

	// PersistIntervalMS throttles mid-stream message writes.
	PersistIntervalMS int `json:"persist_interval_ms" yaml:"persist_interval_ms" toml:"persist_interval_ms" envconfig:"PERSIST_INTERVAL_MS"`

	// Llama backend tunables.
	CtxSize int `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size" envconfig:"CTX_SIZE"`
	Threads int `json:"threads" yaml:"threads" toml:"threads" envconfig:"THREADS"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:              ":8090",
		ModelsDir:         "~/models",
		DBPath:            "chatd.db",
		LogLevel:          "info",
		MaxTokens:         512,
		Temperature:       0.7,
		TopP:              0.9,
		PersistIntervalMS: 250,
		CtxSize:           4096,
		Threads:           0,
	}
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
		if err := yaml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// FromEnv overlays CHATD_* environment variables onto cfg. Unset variables
// leave the corresponding fields untouched.
func FromEnv(cfg Config) (Config, error) {
	if err := envconfig.Process("CHATD", &cfg); err != nil {
		return cfg, fmt.Errorf("env config: %w", err)
	}
	return cfg, nil
}

// Merge overlays non-zero fields of over onto base.
func Merge(base, over Config) Config {
	if over.Addr != "" { base.Addr = over.Addr }
	if over.ModelsDir != "" { base.ModelsDir = over.ModelsDir }
	if over.DBPath != "" { base.DBPath = over.DBPath }
	if over.LogLevel != "" { base.LogLevel = over.LogLevel }
	if over.MaxTokens != 0 { base.MaxTokens = over.MaxTokens }
	if over.Temperature != 0 { base.Temperature = over.Temperature }
	if over.TopP != 0 { base.TopP = over.TopP }
	if over.PersistIntervalMS != 0 { base.PersistIntervalMS = over.PersistIntervalMS }
	if over.CtxSize != 0 { base.CtxSize = over.CtxSize }
	if over.Threads != 0 { base.Threads = over.Threads }
	return base
}
