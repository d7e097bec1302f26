// Package config loads gateway configuration from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces the gateway's environment variables. A double
// underscore separates nesting levels, so METERGATE_SERVER__PORT maps to
// server.port.
const envPrefix = "METERGATE_"

type Config struct {
	Server    ServerConfig      `koanf:"server"`
	Auth      AuthConfig        `koanf:"auth"`
	Storage   StorageConfig     `koanf:"storage"`
	Gateway   GatewayConfig     `koanf:"gateway"`
	Providers []ProviderConfig  `koanf:"providers"`
	Routing   map[string]string `koanf:"routing"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type AuthConfig struct {
	// Secret signs session tokens. Required; there is no insecure default.
	Secret     string        `koanf:"secret"`
	SessionTTL time.Duration `koanf:"session_ttl"`
}

type StorageConfig struct {
	// Type selects the backend: "memory" or "sqlite".
	Type string `koanf:"type"`
	Path string `koanf:"path"`
}

type GatewayConfig struct {
	UpstreamTimeout time.Duration `koanf:"upstream_timeout"`
}

// ProviderConfig overrides or adds an upstream provider family.
type ProviderConfig struct {
	Name          string `koanf:"name"`
	Wire          string `koanf:"wire"`
	BaseURL       string `koanf:"base_url"`
	CredentialEnv string `koanf:"credential_env"`
}

// Load reads configuration from path (skipped when the file does not exist)
// and overlays METERGATE_ environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// The signing secret may reference an environment variable so the
	// config file itself stays free of secrets.
	cfg.Auth.Secret = substituteEnvVars(cfg.Auth.Secret)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(k *koanf.Koanf) {
	if !k.Exists("server.port") {
		k.Set("server.port", 8000)
	}
	if !k.Exists("auth.session_ttl") {
		k.Set("auth.session_ttl", "30m")
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "memory")
	}
	if !k.Exists("gateway.upstream_timeout") {
		k.Set("gateway.upstream_timeout", "60s")
	}
}

func (c *Config) validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required (set METERGATE_AUTH__SECRET)")
	}
	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	return nil
}
