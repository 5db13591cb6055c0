package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// KEY_STOREで指定できる署名鍵の保存方式。
const (
	KeyStoreFile = "file"
	KeyStoreBolt = "bolt"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./data/salus.db"`

	// OAuth
	ClientID               string        `env:"CLIENT_ID"`
	ClientSecret           string        `env:"CLIENT_SECRET"`
	RedirectURI            string        `env:"REDIRECT_URI"`
	OAuthScope             string        `env:"OAUTH_SCOPE" envDefault:"read"`
	ProviderBaseURL        string        `env:"PROVIDER_BASE_URL" envDefault:"https://www.strava.com"`
	ProviderTimeout        time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	ProviderProfileRetries int           `env:"PROVIDER_PROFILE_RETRIES" envDefault:"1"`

	// Frontend
	FrontendURL string `env:"FRONTEND_URL"`

	// Signing key
	KeyStore string `env:"KEY_STORE" envDefault:"file"`
	KeyPath  string `env:"KEY_PATH" envDefault:"keyfile"`
	KeyBits  int    `env:"KEY_BITS" envDefault:"2048"`

	// Session
	SessionMaxAge int `env:"SESSION_MAX_AGE" envDefault:"604800"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`
	// CookieSecure は未指定の場合FRONTEND_URLのスキームから決まる。
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// Rate Limit
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Server
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	var overrides struct {
		CookieSecure string `env:"COOKIE_SECURE"`
	}
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.applyDerivedDefaults(overrides.CookieSecure); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// Required fields
	var missing []string

	if c.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "REDIRECT_URI")
	}
	if c.FrontendURL == "" {
		missing = append(missing, "FRONTEND_URL")
	}
	if c.DBDriver == "postgres" && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	switch c.KeyStore {
	case KeyStoreFile, KeyStoreBolt:
	default:
		return fmt.Errorf("KEY_STORE must be file or bolt, got %q", c.KeyStore)
	}

	if c.ProviderProfileRetries < 0 {
		return fmt.Errorf("PROVIDER_PROFILE_RETRIES must not be negative, got %d", c.ProviderProfileRetries)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", c.SessionMaxAge)
	}
	return nil
}

// applyDerivedDefaults はFRONTEND_URLから導出する値を埋める。
func (c *Config) applyDerivedDefaults(cookieSecure string) error {
	frontend, err := url.Parse(c.FrontendURL)
	if err != nil || frontend.Scheme == "" || frontend.Host == "" {
		return fmt.Errorf("FRONTEND_URL must be an absolute URL, got %q", c.FrontendURL)
	}

	if c.CookieDomain == "" {
		c.CookieDomain = frontend.Hostname()
	}

	if cookieSecure == "" {
		c.CookieSecure = frontend.Scheme == "https"
	} else {
		secure, err := strconv.ParseBool(cookieSecure)
		if err != nil {
			return fmt.Errorf("COOKIE_SECURE must be a boolean, got %q", cookieSecure)
		}
		c.CookieSecure = secure
	}

	if c.CORSAllowedOrigin == "" {
		c.CORSAllowedOrigin = frontend.Scheme + "://" + frontend.Host
	}
	return nil
}

// SessionTTL はセッショントークンとCookieの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// DSN は選択中のドライバに渡す接続文字列を返す。
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.DatabaseURL
}

// MetricsEnabled はメトリクス用サーバーを起動するかを返す。
func (c *Config) MetricsEnabled() bool {
	return c.MetricsPort != "" && c.MetricsPort != "0"
}
