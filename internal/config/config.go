// Package config loads the magic link service configuration from the
// environment and an optional config.yaml, using Viper.
//
// Every setting has a default suitable for local development:
//
//   - HTTP_PORT: listen port. Default: 8080
//   - TOKEN_TTL: token lifetime. Default: 5m
//   - TOKEN_BYTE_LENGTH: random bytes per token. Default: 32
//   - REDEEM_BASE_URL: base of redeem links. Default: http://localhost:8080/login/ott
//   - STORE_KIND: memory or cache. Default: memory
//   - STORE_CAPACITY: maximum live tokens, 0 for unbounded. Default: 0
//   - TRANSPORT: log or smtp. Default: log
//   - USERS: comma separated usernames; empty accepts any username
//   - TRUSTED_PROXIES: comma separated CIDRs of reverse proxies whose
//     X-Forwarded-For is honoured; empty uses the peer address
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/johnsto/go-passwordless/v3"
)

const (
	StoreMemory = "memory"
	StoreCache  = "cache"

	TransportLog  = "log"
	TransportSMTP = "smtp"
)

type Config struct {
	AppName   string `mapstructure:"APP_NAME"`
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	TokenTTL        time.Duration `mapstructure:"TOKEN_TTL"`
	TokenByteLength int           `mapstructure:"TOKEN_BYTE_LENGTH"`
	RedeemBaseURL   string        `mapstructure:"REDEEM_BASE_URL"`

	StoreKind       string        `mapstructure:"STORE_KIND"`
	StoreCapacity   int           `mapstructure:"STORE_CAPACITY"`
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`

	Transport    string `mapstructure:"TRANSPORT"`
	SMTPAddr     string `mapstructure:"SMTP_ADDR"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPSubject  string `mapstructure:"SMTP_SUBJECT"`
	SMTPUseSSL   bool   `mapstructure:"SMTP_USE_SSL"`

	SessionAuthKey       string        `mapstructure:"SESSION_AUTH_KEY"`
	SessionEncryptionKey string        `mapstructure:"SESSION_ENCRYPTION_KEY"`
	SessionMaxAge        time.Duration `mapstructure:"SESSION_MAX_AGE"`

	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	RateLimitBurst     int `mapstructure:"RATE_LIMIT_BURST"`

	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	Users string `mapstructure:"USERS"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "magiclink")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	v.SetDefault("TOKEN_TTL", passwordless.DefaultTTL)
	v.SetDefault("TOKEN_BYTE_LENGTH", passwordless.DefaultTokenByteLength)
	v.SetDefault("REDEEM_BASE_URL", passwordless.DefaultRedeemBaseURL)

	v.SetDefault("STORE_KIND", StoreMemory)
	v.SetDefault("STORE_CAPACITY", 0)
	v.SetDefault("CLEANUP_INTERVAL", passwordless.DefaultCleanInterval)

	v.SetDefault("TRANSPORT", TransportLog)
	v.SetDefault("SMTP_ADDR", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_SUBJECT", passwordless.DefaultSubject)
	v.SetDefault("SMTP_USE_SSL", false)

	v.SetDefault("SESSION_AUTH_KEY", "")
	v.SetDefault("SESSION_ENCRYPTION_KEY", "")
	v.SetDefault("SESSION_MAX_AGE", 30*time.Minute)

	v.SetDefault("RATE_LIMIT_PER_MINUTE", 20)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("TRUSTED_PROXIES", "")

	v.SetDefault("USERS", "")
}

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/magiclink/")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.TokenByteLength*8 < passwordless.MinTokenEntropy {
		return fmt.Errorf("TOKEN_BYTE_LENGTH must be at least %d, got %d",
			passwordless.MinTokenEntropy/8, c.TokenByteLength)
	}
	if _, err := passwordless.ParseRedeemBase(c.RedeemBaseURL); err != nil {
		return fmt.Errorf("REDEEM_BASE_URL: %w", err)
	}
	if c.StoreCapacity < 0 {
		return fmt.Errorf("STORE_CAPACITY must not be negative, got %d", c.StoreCapacity)
	}
	switch c.StoreKind {
	case StoreMemory, StoreCache:
	default:
		return fmt.Errorf("unknown STORE_KIND %q", c.StoreKind)
	}
	switch c.Transport {
	case TransportLog:
	case TransportSMTP:
		if c.SMTPAddr == "" || c.SMTPFrom == "" {
			return errors.New("SMTP_ADDR and SMTP_FROM are required for the smtp transport")
		}
	default:
		return fmt.Errorf("unknown TRANSPORT %q", c.Transport)
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limits must not be negative")
	}
	if _, err := c.TrustedProxyNets(); err != nil {
		return err
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.HTTPPort, ":") {
		return c.HTTPPort
	}
	return ":" + c.HTTPPort
}

// UserList returns the configured usernames, or nil to accept any.
func (c *Config) UserList() []string {
	var users []string
	for _, u := range strings.Split(c.Users, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}

// TrustedProxyNets parses TRUSTED_PROXIES.
func (c *Config) TrustedProxyNets() ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, r := range strings.Split(c.TrustedProxies, ",") {
		if r = strings.TrimSpace(r); r == "" {
			continue
		}
		_, n, err := net.ParseCIDR(r)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}
