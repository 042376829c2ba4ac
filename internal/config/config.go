package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rodrigopv/faleproxy/internal/substitute"
)

const (
	DefaultHost         = ""
	DefaultPort         = 3001
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 * 1024 * 1024
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultMCPPort      = 8080
)

// Config is the runtime configuration for every faleproxy command.
type Config struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`

	Upstream UpstreamConfig `yaml:"upstream" toml:"upstream"`
	Log      LogConfig      `yaml:"log" toml:"log"`
	MCP      MCPConfig      `yaml:"mcp" toml:"mcp"`

	// Rules replaces the default substitution rules when non-empty.
	Rules []substitute.Rule `yaml:"rules" toml:"rules"`
}

type UpstreamConfig struct {
	Timeout      Duration `yaml:"timeout" toml:"timeout"`
	UserAgent    string   `yaml:"user_agent" toml:"user_agent"`
	MaxBodyBytes int64    `yaml:"max_body_bytes" toml:"max_body_bytes"`
	BrowserTLS   bool     `yaml:"browser_tls" toml:"browser_tls"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type MCPConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// Duration is a time.Duration that decodes from strings like "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML accepts the same strings as UnmarshalText.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// WithDefaults fills every unset field.
func (c *Config) WithDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Upstream.Timeout.Duration <= 0 {
		c.Upstream.Timeout.Duration = DefaultTimeout
	}
	if c.Upstream.MaxBodyBytes <= 0 {
		c.Upstream.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.MCP.Port <= 0 {
		c.MCP.Port = DefaultMCPPort
	}
	if len(c.Rules) == 0 {
		c.Rules = substitute.DefaultRules()
	}
	return c
}

// Addr is the listen address of the web server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MCPAddr is the listen address of the MCP server.
func (c *Config) MCPAddr() string {
	return net.JoinHostPort(c.MCP.Host, strconv.Itoa(c.MCP.Port))
}

// Load reads the optional config file at path, then the optional .env file,
// then the environment. An empty path skips the file.
func Load(path, envFile string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg.WithDefaults(), nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("config: unsupported config file type %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// loadDotEnv loads envFile into the process environment without overriding
// variables that are already set. A missing default .env is not an error.
func loadDotEnv(envFile string) error {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("config: env file %s: %w", envFile, err)
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("config: failed to load env file %s: %w", envFile, err)
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables looked up with lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("FALEPROXY_HOST"); ok {
		cfg.Host = v
	}
	for _, key := range []string{"PORT", "FALEPROXY_PORT"} {
		if v, ok := get(key); ok {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: invalid %s %q: %w", key, v, err)
			}
			cfg.Port = port
		}
	}
	if v, ok := get("FALEPROXY_TIMEOUT"); ok {
		if err := cfg.Upstream.Timeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("config: FALEPROXY_TIMEOUT: %w", err)
		}
	}
	if v, ok := get("FALEPROXY_USER_AGENT"); ok {
		cfg.Upstream.UserAgent = v
	}
	if v, ok := get("FALEPROXY_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: invalid FALEPROXY_MAX_BODY_BYTES %q: %w", v, err)
		}
		cfg.Upstream.MaxBodyBytes = n
	}
	if v, ok := get("FALEPROXY_BROWSER_TLS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid FALEPROXY_BROWSER_TLS %q: %w", v, err)
		}
		cfg.Upstream.BrowserTLS = b
	}
	if v, ok := get("FALEPROXY_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := get("FALEPROXY_LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	if v, ok := get("FALEPROXY_MCP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid FALEPROXY_MCP_PORT %q: %w", v, err)
		}
		cfg.MCP.Port = port
	}
	return nil
}
