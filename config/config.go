// Package config reads recipeauth server settings from the environment.
// A .env file in the working directory is loaded first if present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var (
	IdentityBackends  = []string{"fs", "gorm", "datastore"}
	EphemeralBackends = []string{"memory", "fs", "redis", "gorm", "datastore"}
	DatabaseDrivers   = []string{"postgres", "sqlite"}
	OAuthProviders    = []string{"google", "github"}
)

type Config struct {
	// Env is "production" in production. Several debug switches are refused there.
	Env string `env:"APP_ENV" envDefault:"development"`

	HTTP    HTTP
	Session Session
	OTP     OTP
	Storage Storage
	OAuth   OAuth
	Notify  Notify
	Log     Log
	Metrics Metrics
}

type HTTP struct {
	Addr            string        `env:"RECIPEAUTH_ADDR" envDefault:":8080"`
	BasePath        string        `env:"RECIPEAUTH_BASE_PATH" envDefault:"/recipe-auth/v1"`
	SiteURL         string        `env:"RECIPEAUTH_SITE_URL" envDefault:"http://localhost:8080"`
	FrontendURL     string        `env:"RECIPEAUTH_FRONTEND_URL"`
	ShutdownTimeout time.Duration `env:"RECIPEAUTH_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// GRPCAddr starts a gRPC listener with the session interceptors when set
	GRPCAddr string `env:"RECIPEAUTH_GRPC_ADDR"`
}

type Session struct {
	// JWTSecret signs session tokens. Logins fail with 500 while it is unset.
	JWTSecret         string        `env:"RECIPEAUTH_JWT_SECRET"`
	Issuer            string        `env:"RECIPEAUTH_JWT_ISSUER"`
	TTL               time.Duration `env:"RECIPEAUTH_SESSION_TTL" envDefault:"168h"`
	CookieName        string        `env:"RECIPEAUTH_COOKIE_NAME" envDefault:"recipe_jwt"`
	CookieDomains     []string      `env:"RECIPEAUTH_COOKIE_DOMAINS" envSeparator:","`
	CookieSecure      bool          `env:"RECIPEAUTH_COOKIE_SECURE"`
	GuestPresenceOnly bool          `env:"RECIPEAUTH_GUEST_PRESENCE_ONLY"`
}

type OTP struct {
	TTL time.Duration `env:"RECIPEAUTH_OTP_TTL" envDefault:"5m"`

	// Debug returns codes in the /login response
	Debug bool `env:"RECIPEAUTH_DEBUG_OTP"`
}

type Storage struct {
	IdentityBackend  string `env:"RECIPEAUTH_IDENTITY_STORE" envDefault:"fs"`
	EphemeralBackend string `env:"RECIPEAUTH_EPHEMERAL_STORE" envDefault:"memory"`
	Path             string `env:"RECIPEAUTH_STORAGE_PATH" envDefault:"./data"`

	DBDriver    string `env:"RECIPEAUTH_DB_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"RECIPEAUTH_DATABASE_URL"`

	RedisURL    string `env:"RECIPEAUTH_REDIS_URL"`
	RedisPrefix string `env:"RECIPEAUTH_REDIS_PREFIX" envDefault:"recipeauth:"`

	DatastoreProject   string `env:"RECIPEAUTH_DATASTORE_PROJECT"`
	DatastoreNamespace string `env:"RECIPEAUTH_DATASTORE_NAMESPACE"`
}

type OAuth struct {
	Provider     string `env:"RECIPEAUTH_OAUTH_PROVIDER" envDefault:"google"`
	ClientID     string `env:"RECIPEAUTH_OAUTH_CLIENT_ID"`
	ClientSecret string `env:"RECIPEAUTH_OAUTH_CLIENT_SECRET"`

	// RedirectURI defaults to SiteURL + BasePath + "/oauth/callback"
	RedirectURI string `env:"RECIPEAUTH_OAUTH_REDIRECT_URI"`
}

type Notify struct {
	PostmarkServerToken  string `env:"RECIPEAUTH_POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"RECIPEAUTH_POSTMARK_ACCOUNT_TOKEN"`
	EmailFrom            string `env:"RECIPEAUTH_EMAIL_FROM"`
	EmailReplyTo         string `env:"RECIPEAUTH_EMAIL_REPLY_TO"`

	SMSURL         string `env:"RECIPEAUTH_SMS_URL"`
	SMSToken       string `env:"RECIPEAUTH_SMS_TOKEN"`
	SMSSender      string `env:"RECIPEAUTH_SMS_SENDER"`
	SMSCountryCode string `env:"RECIPEAUTH_SMS_COUNTRY_CODE"`
}

type Log struct {
	Level  string `env:"RECIPEAUTH_LOG_LEVEL" envDefault:"info"`
	Format string `env:"RECIPEAUTH_LOG_FORMAT" envDefault:"json"`
}

type Metrics struct {
	Enabled bool   `env:"RECIPEAUTH_METRICS_ENABLED" envDefault:"true"`
	Path    string `env:"RECIPEAUTH_METRICS_PATH" envDefault:"/metrics"`
}

var dotenvOnce sync.Once

// Load reads .env if present, then the environment, and validates the result.
func Load() (*Config, error) {
	dotenvOnce.Do(func() {
		// a missing .env file is fine
		_ = godotenv.Load()
	})
	return Parse()
}

// Parse reads the environment without touching .env.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Storage.IdentityBackend = strings.ToLower(strings.TrimSpace(c.Storage.IdentityBackend))
	c.Storage.EphemeralBackend = strings.ToLower(strings.TrimSpace(c.Storage.EphemeralBackend))
	c.Storage.DBDriver = strings.ToLower(strings.TrimSpace(c.Storage.DBDriver))
	c.OAuth.Provider = strings.ToLower(strings.TrimSpace(c.OAuth.Provider))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	domains := c.Session.CookieDomains[:0]
	for _, d := range c.Session.CookieDomains {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	c.Session.CookieDomains = domains
}

func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate rejects settings the server cannot start with. A missing JWT
// secret is not an error here; the server logs it and refuses logins.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.IsProduction() && c.OTP.Debug {
		fail("RECIPEAUTH_DEBUG_OTP must not be enabled in production")
	}
	if !slices.Contains(IdentityBackends, c.Storage.IdentityBackend) {
		fail("unknown identity store %q", c.Storage.IdentityBackend)
	}
	if !slices.Contains(EphemeralBackends, c.Storage.EphemeralBackend) {
		fail("unknown ephemeral store %q", c.Storage.EphemeralBackend)
	}
	if !slices.Contains(OAuthProviders, c.OAuth.Provider) {
		fail("unknown oauth provider %q", c.OAuth.Provider)
	}
	if c.usesBackend("gorm") {
		if !slices.Contains(DatabaseDrivers, c.Storage.DBDriver) {
			fail("unknown database driver %q", c.Storage.DBDriver)
		}
		if c.Storage.DatabaseURL == "" {
			fail("RECIPEAUTH_DATABASE_URL is required for the gorm store")
		}
	}
	if c.usesBackend("datastore") && c.Storage.DatastoreProject == "" {
		fail("RECIPEAUTH_DATASTORE_PROJECT is required for the datastore store")
	}
	if c.Storage.EphemeralBackend == "redis" && c.Storage.RedisURL == "" {
		fail("RECIPEAUTH_REDIS_URL is required for the redis store")
	}
	if c.usesBackend("fs") && c.Storage.Path == "" {
		fail("RECIPEAUTH_STORAGE_PATH is required for the fs store")
	}
	if c.Session.TTL <= 0 {
		fail("RECIPEAUTH_SESSION_TTL must be positive")
	}
	if c.OTP.TTL <= 0 {
		fail("RECIPEAUTH_OTP_TTL must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		fail("RECIPEAUTH_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}
	if _, err := c.LogLevel(); err != nil {
		fail("%v", err)
	}
	return errors.Join(errs...)
}

func (c *Config) usesBackend(name string) bool {
	return c.Storage.IdentityBackend == name || c.Storage.EphemeralBackend == name
}

// LogLevel parses Log.Level
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("RECIPEAUTH_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// OAuthRedirectURL is the callback URL registered with the provider
func (c *Config) OAuthRedirectURL() string {
	if c.OAuth.RedirectURI != "" {
		return c.OAuth.RedirectURI
	}
	return strings.TrimSuffix(c.HTTP.SiteURL, "/") + "/" + strings.Trim(c.HTTP.BasePath, "/") + "/oauth/callback"
}
