// Package config handles TOML, dotenv and environment configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/ownerrez-proxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the proxy itself and cannot host the metrics endpoint.
var reservedRoutes = []string{"/__health", "/__status", "/oauth", "/gpt/spotrates/patch"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	EnvFile  string `kong:"help='Dotenv file loaded on top of .env.local and .env.',env='ENV_FILE'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration. It is built once by Load
// and shared read-only by every component.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Platform PlatformConfig `toml:"platform"`
	OAuth    OAuthConfig    `toml:"oauth"`
	Upstream UpstreamConfig `toml:"upstream"`
	Shim     ShimConfig     `toml:"shim"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// PlatformConfig describes the proxy's public origin and the two upstream origins.
type PlatformConfig struct {
	ProxyOrigin    string `toml:"proxy_origin" env:"PROXY_ORIGIN"`
	WebOrigin      string `toml:"web_origin" env:"WEB_ORIGIN"`
	APIOrigin      string `toml:"api_origin" env:"API_ORIGIN"`
	UserAgent      string `toml:"user_agent" env:"USER_AGENT"`
	CookieDomain   string `toml:"cookie_domain" env:"COOKIE_DOMAIN"`
	WebPassthrough bool   `toml:"web_passthrough" env:"WEB_PASSTHROUGH"`
}

// OAuthConfig holds the registered OAuth client.
type OAuthConfig struct {
	ClientID     string `toml:"client_id" env:"OAUTH_CLIENT_ID"`
	ClientSecret string `toml:"client_secret" env:"OAUTH_CLIENT_SECRET"`
	CallbackURI  string `toml:"callback_uri" env:"OAUTH_CALLBACK_URI"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// ShimConfig controls the spot rate bulk-update shim.
type ShimConfig struct {
	Disabled      bool   `toml:"disabled" env:"SHIM_DISABLED"`
	SpotRatesPath string `toml:"spot_rates_path" env:"SHIM_SPOT_RATES_PATH"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LoadDotenv loads .env.local and .env into the process environment without
// overriding variables that are already set. A non-empty override file is
// loaded last and wins over everything.
func LoadDotenv(override string) error {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	if override != "" {
		if err := godotenv.Overload(override); err != nil {
			return fmt.Errorf("config: load env file %s: %w", override, err)
		}
	}
	return nil
}

// EnvFileFlag returns the --env-file value from raw command-line args, falling
// back to ENV_FILE. It runs before kong so the file can feed kong's own env
// fallbacks such as CONFIG_PATH or LOG_LEVEL.
func EnvFileFlag(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if v, ok := strings.CutPrefix(arg, "--env-file="); ok {
			return v
		}
		if arg == "--env-file" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("ENV_FILE")
}

// Load builds the configuration from an optional TOML file, the environment and
// CLI overrides, in that order of increasing precedence.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/ownerrez-proxy/config.toml then configs/config.toml; finding none is fine.
func Load(cli *CLI) (*Config, error) {
	if err := LoadDotenv(cli.EnvFile); err != nil {
		return nil, err
	}

	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyEnv overlays set environment variables on the env-tagged sections.
// Unset variables leave the file values untouched.
func (c *Config) applyEnv() error {
	if err := env.Parse(&c.Platform); err != nil {
		return err
	}
	if err := env.Parse(&c.OAuth); err != nil {
		return err
	}
	return env.Parse(&c.Shim)
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	origins := []struct {
		name  string
		value string
	}{
		{"platform.proxy_origin", c.Platform.ProxyOrigin},
		{"platform.web_origin", c.Platform.WebOrigin},
		{"platform.api_origin", c.Platform.APIOrigin},
	}
	for _, o := range origins {
		if err := validateOrigin(o.name, o.value); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.Platform.UserAgent) == "" {
		return errors.New("platform.user_agent is required")
	}

	if c.OAuth.CallbackURI != "" {
		u, err := url.Parse(c.OAuth.CallbackURI)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("oauth.callback_uri must be an absolute URL; got %q", c.OAuth.CallbackURI)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if p := c.Shim.SpotRatesPath; p != "" && p[0] != '/' {
		return fmt.Errorf("shim.spot_rates_path must start with '/'; got %q", p)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// validateOrigin checks that raw is a scheme://host[:port] URL with no path,
// query or fragment.
func validateOrigin(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host; got %q", name, raw)
	}
	if strings.Trim(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%s must be an origin without path or query; got %q", name, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults and normalizes origins.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Shim.SpotRatesPath == "" {
		c.Shim.SpotRatesPath = "/v2/spotrates"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/__metrics"
	}

	c.Platform.ProxyOrigin = strings.TrimRight(c.Platform.ProxyOrigin, "/")
	c.Platform.WebOrigin = strings.TrimRight(c.Platform.WebOrigin, "/")
	c.Platform.APIOrigin = strings.TrimRight(c.Platform.APIOrigin, "/")
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProxyHost returns the hostname (without port) of the proxy's public origin.
func (p *PlatformConfig) ProxyHost() string {
	return hostname(p.ProxyOrigin)
}

// SharedCookieDomain returns the upstream parent domain whose cookies are re-scoped
// to the proxy. It is the explicit cookie_domain when set, otherwise the longest
// common dot-suffix of the web and API hostnames.
func (p *PlatformConfig) SharedCookieDomain() string {
	if p.CookieDomain != "" {
		return strings.ToLower(strings.TrimPrefix(p.CookieDomain, "."))
	}
	return commonDomain(hostname(p.WebOrigin), hostname(p.APIOrigin))
}

func hostname(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// commonDomain returns the longest shared suffix of whole labels, requiring at
// least two labels so a bare TLD is never returned.
func commonDomain(a, b string) string {
	if a == b {
		return a
	}
	la := strings.Split(a, ".")
	lb := strings.Split(b, ".")

	var shared []string
	for i, j := len(la)-1, len(lb)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if la[i] != lb[j] {
			break
		}
		shared = append([]string{la[i]}, shared...)
	}
	if len(shared) < 2 {
		return ""
	}
	return strings.Join(shared, ".")
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnMissingOAuth logs the OAuth settings that are unset. The proxy still
// serves API traffic without them; token exchanges that need them fail with a
// configuration or client error at request time.
func (c *Config) WarnMissingOAuth(logger *slog.Logger) {
	missing := c.OAuth.MissingSettings()
	if c.OAuth.CallbackURI == "" {
		missing = append(missing, "oauth.callback_uri")
	}
	if len(missing) > 0 {
		logger.Warn("oauth settings missing", "missing", missing)
	}
}

// MissingSettings returns the client credential settings that are blank.
func (o *OAuthConfig) MissingSettings() []string {
	var missing []string
	if strings.TrimSpace(o.ClientID) == "" {
		missing = append(missing, "oauth.client_id")
	}
	if strings.TrimSpace(o.ClientSecret) == "" {
		missing = append(missing, "oauth.client_secret")
	}
	return missing
}
