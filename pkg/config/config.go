// Package config loads pipedash settings from defaults, an optional YAML
// file, an optional .env file and PIPEDASH_* environment variables, in that
// order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PIPEDASH_SERVER_URL.
const EnvPrefix = "PIPEDASH"

// Config is the full set of pipedash settings.
type Config struct {
	ServerURL      string        `yaml:"server_url" envconfig:"SERVER_URL" validate:"required,url"`
	PipelinePrefix string        `yaml:"pipeline_prefix" envconfig:"PIPELINE_PREFIX" validate:"required,startswith=/"`
	NetworkMapPath string        `yaml:"network_map_path" envconfig:"NETWORK_MAP_PATH" validate:"required,startswith=/"`
	UpdatesPath    string        `yaml:"cluster_updates_path" envconfig:"CLUSTER_UPDATES_PATH" validate:"required,startswith=/"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gte=0"`

	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
	DevServer DevServerConfig `yaml:"dev_server" envconfig:"DEV_SERVER"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=text json"`
}

// DevServerConfig configures `pipedash serve`.
type DevServerConfig struct {
	Addr           string        `yaml:"addr" envconfig:"ADDR" validate:"required,hostname_port"`
	UpdateInterval time.Duration `yaml:"update_interval" envconfig:"UPDATE_INTERVAL" validate:"gt=0"`
	Metrics        bool          `yaml:"metrics" envconfig:"METRICS"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		ServerURL:      "http://localhost:8000",
		PipelinePrefix: "/pipeline",
		NetworkMapPath: "/mocks/networkMap.json",
		UpdatesPath:    "/cluster-updates",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		DevServer: DevServerConfig{
			Addr:           "localhost:8000",
			UpdateInterval: 2 * time.Second,
			Metrics:        true,
		},
	}
}

// Load builds the configuration. Missing files are skipped; an empty path
// means "don't look".
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field constraint.
func Validate(cfg Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
