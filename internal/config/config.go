// Package config loads server settings from an optional YAML file and LEXCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/and161185/lexchat/internal/limiter"
)

// Config is the full server configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Transport TransportConfig `mapstructure:"transport"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	// AllowedOrigins for the websocket upgrade; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type GRPCConfig struct {
	Addr    string `mapstructure:"addr"`
	TLSCert string `mapstructure:"tlsCert"`
	TLSKey  string `mapstructure:"tlsKey"`
	// Reflection exposes server reflection (dev only).
	Reflection bool `mapstructure:"reflection"`
}

type DatabaseConfig struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	AccessTTL time.Duration `mapstructure:"accessTTL"`
	// Login lockout policy.
	LoginWindow   time.Duration `mapstructure:"loginWindow"`
	LoginMaxFails int           `mapstructure:"loginMaxFails"`
	LoginBlockFor time.Duration `mapstructure:"loginBlockFor"`
}

type TransportConfig struct {
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	PingInterval    time.Duration `mapstructure:"pingInterval"`
	SendBuffer      int           `mapstructure:"sendBuffer"`
	MaxMessageBytes int64         `mapstructure:"maxMessageBytes"`
}

type PresenceConfig struct {
	EchoToSender    bool   `mapstructure:"echoToSender"`
	RequireToken    bool   `mapstructure:"requireToken"`
	MaxConnsPerUser int    `mapstructure:"maxConnsPerUser"`
	LimitMode       string `mapstructure:"limitMode"` // reject or cycle
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LoginPolicy converts the auth lockout settings.
func (a AuthConfig) LoginPolicy() limiter.Policy {
	return limiter.Policy{Window: a.LoginWindow, MaxFails: a.LoginMaxFails, BlockFor: a.LoginBlockFor}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdownTimeout", "10s")
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("database.migrate", true)
	v.SetDefault("auth.accessTTL", "720h")
	v.SetDefault("auth.loginWindow", "15m")
	v.SetDefault("auth.loginMaxFails", 5)
	v.SetDefault("auth.loginBlockFor", "15m")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.pingInterval", "54s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.maxMessageBytes", 64<<10)
	v.SetDefault("presence.echoToSender", true)
	v.SetDefault("presence.requireToken", true)
	v.SetDefault("presence.maxConnsPerUser", 0)
	v.SetDefault("presence.limitMode", "reject")
	v.SetDefault("log.level", "info")
}

// Load reads path (if non-empty) and overlays environment variables such as
// LEXCHAT_AUTH_JWTSECRET or LEXCHAT_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEXCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, k := range []string{
		"auth.jwtSecret", "database.dsn", "grpc.tlsCert", "grpc.tlsKey", "grpc.reflection",
		"http.allowedOrigins", "log.development",
	} {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, cfg.Validate()
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var problems []error
	if c.Auth.JWTSecret == "" {
		problems = append(problems, errors.New("auth.jwtSecret is required"))
	}
	if c.Database.DSN == "" {
		problems = append(problems, errors.New("database.dsn is required"))
	}
	if c.Auth.AccessTTL <= 0 {
		problems = append(problems, errors.New("auth.accessTTL must be positive"))
	}
	if c.Presence.MaxConnsPerUser < 0 {
		problems = append(problems, errors.New("presence.maxConnsPerUser must not be negative"))
	}
	if _, err := limiter.ParseMode(c.Presence.LimitMode); err != nil {
		problems = append(problems, fmt.Errorf("presence.limitMode: %w", err))
	}
	if (c.GRPC.TLSCert == "") != (c.GRPC.TLSKey == "") {
		problems = append(problems, errors.New("grpc.tlsCert and grpc.tlsKey must be set together"))
	}
	return errors.Join(problems...)
}
