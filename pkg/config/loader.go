package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the on-disk cipherswarmd.yaml shape.
type yamlConfig struct {
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Server    *ServerConfig    `yaml:"server"`
	OTLP      string           `yaml:"otlp_endpoint"`
}

// Initialize loads <configDir>/cipherswarmd.yaml (if present), a local .env
// file (if present), merges user overrides onto built-in defaults, and
// validates the result.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"min_slice_seconds", cfg.Scheduler.MinSliceSeconds,
		"max_slice_seconds", cfg.Scheduler.MaxSliceSeconds,
		"sweep_interval", cfg.Scheduler.SweepInterval)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var user yamlConfig

	path := filepath.Join(configDir, "cipherswarmd.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No YAML file is fine; defaults + environment carry the config.
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	scheduler := DefaultSchedulerConfig()
	if user.Scheduler != nil {
		if err := mergo.Merge(scheduler, user.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
		}
	}

	server := DefaultServerConfig()
	if user.Server != nil {
		if err := mergo.Merge(server, user.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	otlp := user.OTLP
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		otlp = v
	}

	return &Config{
		Scheduler:    scheduler,
		Server:       server,
		OTLPEndpoint: otlp,
		configDir:    configDir,
	}, nil
}
