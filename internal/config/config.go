package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the quotapool service configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Auth        AuthConfig        `yaml:"auth"`
	Pool        PoolConfig        `yaml:"pool"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Database    DatabaseConfig    `yaml:"database"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: determined by env)
	Format string `yaml:"format"` // json, console (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// UpstreamConfig describes the quota-limited remote API.
type UpstreamConfig struct {
	BaseURL           string  `yaml:"base_url"`
	AuthURL           string  `yaml:"auth_url"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = no client-side pacing
	Burst             int     `yaml:"burst"`
}

// PoolConfig holds credential pool settings.
type PoolConfig struct {
	SweepIntervalSec     int `yaml:"sweep_interval_sec"`
	ResetIntervalSec     int `yaml:"reset_interval_sec"`
	ApplicationMaxWeight int `yaml:"application_max_weight"`
	UserMaxWeight        int `yaml:"user_max_weight"`
}

// DispatchConfig holds batch dispatcher settings.
type DispatchConfig struct {
	RetryDelaySec     int `yaml:"retry_delay_sec"`
	MaxAttempts       int `yaml:"max_attempts"` // 0 = retry until cancelled
	ApplicationMargin int `yaml:"application_margin"`
	UserMargin        int `yaml:"user_margin"`
	RequestWeight     int `yaml:"request_weight"`
}

// CredentialsConfig lists the credentials seeded into the pool at startup.
type CredentialsConfig struct {
	Applications       []ApplicationCredential `yaml:"applications"`
	Users              []UserCredential        `yaml:"users"`
	Static             []StaticCredential      `yaml:"static"`
	RefreshIntervalSec int                     `yaml:"refresh_interval_sec"`
	RefreshSkewSec     int                     `yaml:"refresh_skew_sec"`
}

// ApplicationCredential is exchanged via the client_credentials grant.
type ApplicationCredential struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// UserCredential is exchanged via the refresh_token grant.
type UserCredential struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// StaticCredential is a pre-issued token registered as is.
type StaticCredential struct {
	Kind        string `yaml:"kind"` // application, user
	AccessToken string `yaml:"access_token"`
	TokenType   string `yaml:"token_type"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool { return len(d.Addrs) > 0 }

// LedgerConfig holds usage ledger settings.
type LedgerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML, expands env variables, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// long history walks can park across several quota windows
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Upstream.TimeoutSec <= 0 {
		c.Upstream.TimeoutSec = 30
	}
	if c.Upstream.RequestsPerSecond > 0 && c.Upstream.Burst <= 0 {
		c.Upstream.Burst = 1
	}
	if c.Pool.SweepIntervalSec <= 0 {
		c.Pool.SweepIntervalSec = 10
	}
	if c.Pool.ResetIntervalSec <= 0 {
		c.Pool.ResetIntervalSec = 60
	}
	if c.Pool.ApplicationMaxWeight <= 0 {
		c.Pool.ApplicationMaxWeight = 400
	}
	if c.Pool.UserMaxWeight <= 0 {
		c.Pool.UserMaxWeight = 30
	}
	if c.Dispatch.RetryDelaySec <= 0 {
		c.Dispatch.RetryDelaySec = 10
	}
	if c.Dispatch.ApplicationMargin <= 0 {
		c.Dispatch.ApplicationMargin = 50
	}
	if c.Dispatch.UserMargin <= 0 {
		c.Dispatch.UserMargin = 6
	}
	if c.Dispatch.RequestWeight <= 0 {
		c.Dispatch.RequestWeight = 2
	}
	if c.Credentials.RefreshIntervalSec <= 0 {
		c.Credentials.RefreshIntervalSec = 60
	}
	if c.Credentials.RefreshSkewSec <= 0 {
		c.Credentials.RefreshSkewSec = 120
	}
	for i := range c.Credentials.Static {
		if c.Credentials.Static[i].TokenType == "" {
			c.Credentials.Static[i].TokenType = "Bearer"
		}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "valkey"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Ledger.KeyPrefix == "" {
		c.Ledger.KeyPrefix = "quotapool:"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.RequestsPerSecond < 0 {
		return fmt.Errorf("upstream.requests_per_second must not be negative, got %v", c.Upstream.RequestsPerSecond)
	}
	if c.Dispatch.MaxAttempts < 0 {
		return fmt.Errorf("dispatch.max_attempts must not be negative, got %d", c.Dispatch.MaxAttempts)
	}
	switch c.Database.Driver {
	case "valkey", "redis":
		// ok
	default:
		return fmt.Errorf("database.driver must be \"valkey\" or \"redis\", got %q", c.Database.Driver)
	}
	if c.Ledger.Enabled && !c.Database.Enabled() {
		return fmt.Errorf("ledger.enabled requires database.addrs")
	}
	return c.validateCredentials()
}

func (c *Config) validateCredentials() error {
	creds := c.Credentials
	if (len(creds.Applications) > 0 || len(creds.Users) > 0) && c.Upstream.AuthURL == "" {
		return fmt.Errorf("upstream.auth_url is required for exchanged credentials")
	}
	for i, a := range creds.Applications {
		if a.ClientID == "" || a.ClientSecret == "" {
			return fmt.Errorf("credentials.applications[%d]: client_id and client_secret are required", i)
		}
	}
	for i, u := range creds.Users {
		if u.RefreshToken == "" {
			return fmt.Errorf("credentials.users[%d]: refresh_token is required", i)
		}
	}
	for i, s := range creds.Static {
		if s.Kind != "application" && s.Kind != "user" {
			return fmt.Errorf("credentials.static[%d].kind must be \"application\" or \"user\", got %q", i, s.Kind)
		}
		if s.AccessToken == "" {
			return fmt.Errorf("credentials.static[%d]: access_token is required", i)
		}
	}
	return nil
}

// Seconds converts an integer seconds setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
