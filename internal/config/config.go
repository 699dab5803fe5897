// Package config provides centralized configuration for AIP agents and
// requesters. Configuration is loaded from environment variables with
// sensible defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agent-interchange/aip-go/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvTest Environment = "test"
	EnvProd Environment = "prod"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port        string      `json:"port"`
	Environment Environment `json:"environment"`
	LogLevel    string      `json:"log_level"`

	// Identity used when acting as a requester
	AgentID string `json:"agent_id"`

	// Registry collaborator; empty disables discovery
	RegistryURL string `json:"registry_url"`

	// Manifest file served by the agent host
	ManifestPath string `json:"manifest_path"`

	// Trust
	PrivateKey        string `json:"-"` // never serialize
	TrustedKeysPath   string `json:"trusted_keys_path"`
	RequireSignatures bool   `json:"require_signatures"`

	// CORS origins for the HTTP surface; empty disables CORS
	CORSOrigins []string `json:"cors_origins"`

	// HTTP Server timeouts
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`

	// Outbound request timeout for the requester and registry client
	ClientTimeout time.Duration `json:"client_timeout"`

	// Request body size limit (DoS protection)
	MaxBodySize int64 `json:"max_body_size"`
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	env := Environment(getEnv("ENVIRONMENT", "dev"))
	if env != EnvDev && env != EnvTest && env != EnvProd {
		env = EnvDev
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		LogLevel:    getEnv("LOG_LEVEL", logLevelForEnv(env)),

		AgentID:      getEnv("AIP_AGENT_ID", "aip-cli"),
		RegistryURL:  os.Getenv("AIP_REGISTRY_URL"),
		ManifestPath: getEnv("AIP_MANIFEST_PATH", "aip-manifest.yaml"),

		PrivateKey:        os.Getenv("AIP_PRIVATE_KEY"),
		TrustedKeysPath:   os.Getenv("AIP_TRUSTED_KEYS_PATH"),
		RequireSignatures: getBoolEnv("AIP_REQUIRE_SIGNATURES", false),

		CORSOrigins: getListEnv("AIP_CORS_ORIGINS"),

		ReadTimeout:   getDurationEnv("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:  getDurationEnv("HTTP_WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:   getDurationEnv("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ClientTimeout: getDurationEnv("CLIENT_TIMEOUT", 60*time.Second),
		MaxBodySize:   getInt64Env("MAX_BODY_SIZE", 1<<20), // 1MB default
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.RequireSignatures && c.TrustedKeysPath == "" {
		return fmt.Errorf("AIP_TRUSTED_KEYS_PATH is required when AIP_REQUIRE_SIGNATURES is set")
	}
	if c.Environment == EnvProd && !c.RequireSignatures {
		return fmt.Errorf("AIP_REQUIRE_SIGNATURES must be enabled in production")
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("MAX_BODY_SIZE must be positive")
	}
	return nil
}

// IsProd returns true if running in production.
func (c *Config) IsProd() bool { return c.Environment == EnvProd }

// IsTest returns true if running in test environment.
func (c *Config) IsTest() bool { return c.Environment == EnvTest }

// IsDev returns true if running in dev environment.
func (c *Config) IsDev() bool { return c.Environment == EnvDev }

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool { return strings.EqualFold(c.LogLevel, "debug") }

// LoadManifest reads a manifest file in YAML or JSON (wire field names) and
// validates it through the manifest builder.
func LoadManifest(path string) (protocol.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return protocol.Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	wire, err := json.Marshal(doc)
	if err != nil {
		return protocol.Manifest{}, fmt.Errorf("convert manifest %s: %w", path, err)
	}
	m, err := protocol.ParseManifest(wire)
	if err != nil {
		return protocol.Manifest{}, err
	}
	return protocol.BuilderFrom(m).Build()
}

func logLevelForEnv(env Environment) string {
	switch env {
	case EnvProd:
		return "info"
	case EnvTest:
		return "debug"
	default:
		return "debug"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt64Env(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
