package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"folio/pkg/auth"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location; SITE_CONFIG_PATH overrides it.
var ConfigPath = "config.yaml"

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	minSessionSecretLength = 32
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	Environment                string   `yaml:"environment"`
	LogLevel                   string   `yaml:"logLevel"`
	DatabaseURL                string   `yaml:"databaseURL"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	SessionSecret              string   `yaml:"sessionSecret"`
	AdminPassword              string   `yaml:"adminPassword"`
	SessionTTL                 string   `yaml:"sessionTTL"`
	GuestSessionTTL            string   `yaml:"guestSessionTTL"`
	AllowedOrigins             []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	GuestCookieSameSite        string   `yaml:"guestCookieSameSite"`
	CookieSecure               *bool    `yaml:"cookieSecure"`
	ContactRateLimitPerHour    int      `yaml:"contactRateLimitPerHour"`
	LoginRateLimitPer15Min     int      `yaml:"loginRateLimitPer15Min"`
	ProgressRateLimitPerMinute int      `yaml:"progressRateLimitPerMinute"`
	RateLimitProbeInterval     string   `yaml:"rateLimitProbeInterval"`
}

// Load reads config from path. An empty path uses SITE_CONFIG_PATH or
// ConfigPath; the default file may be absent when everything comes from the
// environment, an explicit path may not.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if !explicit {
		path = ConfigPath
		if v := os.Getenv("SITE_CONFIG_PATH"); v != "" {
			path = v
			explicit = true
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// Override with environment variables
	if v := os.Getenv("SITE_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("SITE_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}
	if v := os.Getenv("SITE_SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("SITE_GUEST_SESSION_TTL"); v != "" {
		cfg.GuestSessionTTL = v
	}
	if v := os.Getenv("SITE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("SITE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("SITE_GUEST_COOKIE_SAME_SITE"); v != "" {
		cfg.GuestCookieSameSite = v
	}
	if v := os.Getenv("SITE_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = &b
		}
	}
	if v := os.Getenv("SITE_CONTACT_RATE_LIMIT_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContactRateLimitPerHour = n
		}
	}
	if v := os.Getenv("SITE_LOGIN_RATE_LIMIT_PER_15MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPer15Min = n
		}
	}
	if v := os.Getenv("SITE_PROGRESS_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProgressRateLimitPerMinute = n
		}
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = EnvDevelopment
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or SITE_PORT)")
	}
	if len(cfg.SessionSecret) < minSessionSecretLength {
		return errors.New("config: sessionSecret must be at least 32 bytes (set SESSION_SECRET)")
	}
	if cfg.AdminPassword == "" {
		return errors.New("config: adminPassword is required (set ADMIN_PASSWORD)")
	}
	if !auth.IsBcryptHash(cfg.AdminPassword) {
		if err := auth.ValidatePassword(cfg.AdminPassword); err != nil {
			return fmt.Errorf("config: adminPassword: %w", err)
		}
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if _, err := ParseSessionTTL(cfg.GuestSessionTTL); err != nil {
		return err
	}
	if _, err := ParseProbeInterval(cfg.RateLimitProbeInterval); err != nil {
		return err
	}
	sameSite, err := ParseSameSite(cfg.GuestCookieSameSite)
	if err != nil {
		return err
	}
	if sameSite == http.SameSiteNoneMode && !cfg.CookiesSecure() {
		return errors.New("config: guestCookieSameSite=none requires cookieSecure")
	}
	if cfg.ContactRateLimitPerHour < 0 || cfg.LoginRateLimitPer15Min < 0 || cfg.ProgressRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			return errors.New("config: allowedOrigins must list explicit origins, not *")
		}
	}
	return nil
}

// IsProduction reports whether error details must be hidden from clients.
func (c FileConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvProduction)
}

// CookiesSecure defaults to true when unset.
func (c FileConfig) CookiesSecure() bool {
	return c.CookieSecure == nil || *c.CookieSecure
}

// ParseSessionTTL parses an optional session TTL, defaulting to 24h.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 24 * time.Hour, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("invalid sessionTTL duration: must be positive")
	}
	return dur, nil
}

// ParseProbeInterval parses how often a degraded limiter re-checks Redis.
func ParseProbeInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return 30 * time.Second, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("invalid rateLimitProbeInterval %q", raw)
	}
	return dur, nil
}

// ParseSameSite maps none|lax|strict to the cookie mode; empty means none
// so readers on other origins keep their guest identity.
func ParseSameSite(raw string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return http.SameSiteNoneMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	default:
		return 0, fmt.Errorf("invalid guestCookieSameSite %q", raw)
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
