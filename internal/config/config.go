package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Values are resolved in three
// layers: built-in defaults, then an optional YAML file, then SKETCHGEN_*
// environment variables.
//
// Environment keys derive from the field names under the SKETCHGEN prefix
// (for example SKETCHGEN_MODEL_PATH). envconfig alt-name tags are never
// used here: an alt name also matches the bare, unprefixed variable, so a
// tag like PATH would let the ambient shell $PATH override the config.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Debug     DebugConfig     `yaml:"debug"`
	Activity  ActivityConfig  `yaml:"activity"`
	RateLimit RateLimitConfig `yaml:"rateLimit" split_words:"true"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains the HTTP listener configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ModelConfig locates the model artifacts on disk. Path and MetadataPath are
// loaded at startup; CheckpointPath and TorchScriptPath are only served by
// the download endpoints and may be absent.
type ModelConfig struct {
	Path            string `yaml:"path"`
	MetadataPath    string `yaml:"metadataPath" split_words:"true"`
	CheckpointPath  string `yaml:"checkpointPath" split_words:"true"`
	TorchScriptPath string `yaml:"torchscriptPath" split_words:"true"`
}

// DebugConfig controls the per-request debug image dumps.
type DebugConfig struct {
	Dir        string `yaml:"dir"`
	SaveImages bool   `yaml:"saveImages" split_words:"true"`
}

// ActivityConfig configures the SQLite request log. An empty Path disables
// recording entirely.
type ActivityConfig struct {
	Path string `yaml:"path"`
}

// RateLimitConfig configures the optional per-client limiter. The documented
// API has no rate limiting, so Enabled defaults to false.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// LogConfig selects the zap logger profile.
type LogConfig struct {
	Development bool `yaml:"development"`
}

// Default returns the built-in configuration: artifact names matching the
// deployed generator and the listen address the original backend used.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":5001",
		},
		Model: ModelConfig{
			Path:            "models/generator.onnx",
			MetadataPath:    "models/generator_metadata.json",
			CheckpointPath:  "models/generator_final.pth",
			TorchScriptPath: "models/generator.pt",
		},
		Debug: DebugConfig{
			Dir:        "tmp",
			SaveImages: true,
		},
		Activity: ActivityConfig{
			Path: "activity.db",
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RPS:     5,
			Burst:   10,
		},
	}
}

// defaultCandidates are tried in order when no explicit path is given.
var defaultCandidates = []string{
	"configs/config.yaml",
	"config.yaml",
}

// Load resolves the configuration. An explicit path must exist and parse;
// default candidates are skipped when missing. Environment variables are
// applied last and win over the file.
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := defaultCandidates
	if path != "" {
		candidates = []string{path}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if path == "" && os.IsNotExist(err) {
				continue
			}
			return Config{}, fmt.Errorf("read config %s: %w", candidate, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", candidate, err)
		}
		break
	}

	if err := envconfig.Process("SKETCHGEN", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}

	if c.Model.Path == "" {
		return fmt.Errorf("model path is required")
	}

	if c.Model.MetadataPath == "" {
		return fmt.Errorf("model metadata path is required")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate limit rps must be positive, got %v", c.RateLimit.RPS)
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive, got %d", c.RateLimit.Burst)
		}
	}

	return nil
}
