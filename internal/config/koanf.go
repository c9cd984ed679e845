package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks variables that map onto config paths:
// PULSE_DATABASE_HOST -> database.host, PULSE_RATE_LIMIT_REQUESTS -> rate_limit.requests.
const EnvPrefix = "PULSE_"

const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pulse/config.yaml",
}

// Pre-koanf variable names kept working for existing deployments.
var legacyEnv = map[string]string{
	"SERVER_PORT": "server.port",
	"DB_HOST":     "database.host",
	"DB_PORT":     "database.port",
	"DB_USER":     "database.user",
	"DB_PASSWORD": "database.password",
	"DB_NAME":     "database.name",
	"JWT_SECRET":  "auth.jwt_secret",
	"LOG_LEVEL":   "logging.level",
	"LOG_FORMAT":  "logging.format",
}

// Sections whose names contain the env delimiter.
var multiWordSections = []string{"rate_limit"}

var sliceKeys = []string{"server.cors_origins", "realtime.allowed_origins"}

// Load layers defaults, an optional yaml file and the environment (highest
// priority). A .env file in the working directory is loaded first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envToPath), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envToPath maps an environment variable name to a koanf path. Unrelated
// variables map to "" and are skipped.
func envToPath(key string) string {
	if path, ok := legacyEnv[key]; ok {
		return path
	}
	if !strings.HasPrefix(key, EnvPrefix) {
		return ""
	}

	rest := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, section := range multiWordSections {
		if strings.HasPrefix(rest, section+"_") {
			return section + "." + strings.TrimPrefix(rest, section+"_")
		}
	}

	section, field, ok := strings.Cut(rest, "_")
	if !ok {
		return ""
	}
	return section + "." + field
}

// splitSlices turns comma separated env values into string slices.
func splitSlices(k *koanf.Koanf) error {
	for _, path := range sliceKeys {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("setting %s: %w", path, err)
		}
	}
	return nil
}
