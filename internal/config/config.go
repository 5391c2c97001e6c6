// Package config loads server settings from defaults, an optional config file
// and the environment, in that order of priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces overrides for any config key, e.g.
// GRAPH_MCP_SERVER_ENDPOINT_PATH -> server.endpoint_path.
const EnvPrefix = "GRAPH_MCP_"

// DotEnvFile is read from the working directory, if present, before the
// environment is loaded. Variables already set in the process win.
const DotEnvFile = ".env"

// wellKnownEnv maps the variables the Azure tooling and most PaaS hosts already
// set onto config keys.
var wellKnownEnv = map[string]string{
	"AZURE_TENANT_ID":     "azure.tenant_id",
	"AZURE_CLIENT_ID":     "azure.client_id",
	"AZURE_CLIENT_SECRET": "azure.client_secret",
	"PORT":                "server.port",
}

type Config struct {
	Server ServerConfig `koanf:"server"`
	Azure  AzureConfig  `koanf:"azure"`
	Graph  GraphConfig  `koanf:"graph"`
	Log    LogConfig    `koanf:"log"`
}

type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	EndpointPath string `koanf:"endpoint_path"`
	// MaxBodyBytes caps a POSTed JSON-RPC body.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
	// StrictSessions rejects POSTs whose session_id does not name a live SSE stream.
	StrictSessions  bool          `koanf:"strict_sessions"`
	SessionTTL      time.Duration `koanf:"session_ttl"`
	PingInterval    time.Duration `koanf:"ping_interval"`
	MetricsPath     string        `koanf:"metrics_path"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type AzureConfig struct {
	TenantID     string `koanf:"tenant_id"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	Authority    string `koanf:"authority"`
}

type GraphConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type LogConfig struct {
	Level   string `koanf:"level"`
	Handler string `koanf:"handler"`
}

var defaults = map[string]interface{}{
	"server.host":             "0.0.0.0",
	"server.port":             8000,
	"server.endpoint_path":    "/mcp",
	"server.max_body_bytes":   int64(1 << 20),
	"server.strict_sessions":  false,
	"server.session_ttl":      "24h",
	"server.ping_interval":    "0s",
	"server.metrics_path":     "/metrics",
	"server.shutdown_timeout": "10s",
	"azure.authority":         "https://login.microsoftonline.com",
	"graph.base_url":          "https://graph.microsoft.com/v1.0",
	"graph.timeout":           "60s",
	"log.level":               "info",
	"log.handler":             "",
}

// Load builds a Config. path may be empty, in which case only defaults and
// the environment are used.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("error setting default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", DotEnvFile, err)
	}

	if err := loadEnvironment(k); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Server.EndpointPath = normalizePath(cfg.Server.EndpointPath)
	if cfg.Server.MetricsPath != "" {
		cfg.Server.MetricsPath = normalizePath(cfg.Server.MetricsPath)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	var parser koanf.Parser
	switch filepath.Ext(path) {
	case ".json":
		parser = json.Parser()
	default:
		parser = yaml.Parser()
	}
	return k.Load(file.Provider(path), parser)
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func loadEnvironment(k *koanf.Koanf) error {
	err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		return wellKnownEnv[key], value
	}), nil)
	if err != nil {
		return err
	}

	return k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		section, field, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_")
		if !ok {
			return "", nil
		}
		return section + "." + field, value
	}), nil)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// Validate reports missing credentials needed to reach Microsoft Graph.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Azure.TenantID) == "" {
		missing = append(missing, "AZURE_TENANT_ID")
	}
	if strings.TrimSpace(c.Azure.ClientID) == "" {
		missing = append(missing, "AZURE_CLIENT_ID")
	}
	if strings.TrimSpace(c.Azure.ClientSecret) == "" {
		missing = append(missing, "AZURE_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
