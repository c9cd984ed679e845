package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Realtime  RealtimeConfig  `koanf:"realtime"`
	Presence  PresenceConfig  `koanf:"presence"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	Environment     string        `koanf:"environment"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

type DatabaseConfig struct {
	// Driver is postgres or sqlite.
	Driver     string `koanf:"driver"`
	Host       string `koanf:"host"`
	Port       string `koanf:"port"`
	User       string `koanf:"user"`
	Password   string `koanf:"password"`
	Name       string `koanf:"name"`
	SSLMode    string `koanf:"sslmode"`
	MaxConns   int32  `koanf:"max_conns"`
	SQLitePath string `koanf:"sqlite_path"`
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

type RealtimeConfig struct {
	// AuthTimeout bounds how long a connection may stay unauthenticated.
	AuthTimeout     time.Duration `koanf:"auth_timeout"`
	WriteWait       time.Duration `koanf:"write_wait"`
	PingInterval    time.Duration `koanf:"ping_interval"`
	HandlerTimeout  time.Duration `koanf:"handler_timeout"`
	MaxMessageSize  int64         `koanf:"max_message_size"`
	SendBuffer      int           `koanf:"send_buffer"`
	EventsPerSecond float64       `koanf:"events_per_second"`
	EventBurst      int           `koanf:"event_burst"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
}

type PresenceConfig struct {
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

type ReconcileConfig struct {
	OnList        bool          `koanf:"on_list"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Disabled bool          `koanf:"disabled"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Environment:     "development",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:     "postgres",
			Host:       "localhost",
			Port:       "5432",
			User:       "pulse",
			Password:   "pulse_dev_password",
			Name:       "pulse",
			SSLMode:    "disable",
			MaxConns:   10,
			SQLitePath: "pulse.db",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
			TokenTTL:  24 * time.Hour,
		},
		Realtime: RealtimeConfig{
			AuthTimeout:     10 * time.Second,
			WriteWait:       10 * time.Second,
			PingInterval:    30 * time.Second,
			HandlerTimeout:  10 * time.Second,
			MaxMessageSize:  8192,
			SendBuffer:      256,
			EventsPerSecond: 20,
			EventBurst:      40,
		},
		Presence: PresenceConfig{
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Reconcile: ReconcileConfig{
			OnList:        true,
			SweepInterval: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Requests: 300,
			Window:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database.host and database.name are required for postgres"))
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if c.IsProduction() && c.Auth.JWTSecret == defaultConfig().Auth.JWTSecret {
		errs = append(errs, errors.New("auth.jwt_secret must be changed in production"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	if c.Realtime.AuthTimeout <= 0 {
		errs = append(errs, errors.New("realtime.auth_timeout must be positive"))
	}
	if c.Realtime.SendBuffer <= 0 {
		errs = append(errs, errors.New("realtime.send_buffer must be positive"))
	}
	if c.Realtime.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("realtime.max_message_size must be positive"))
	}
	if c.Realtime.EventsPerSecond <= 0 || c.Realtime.EventBurst <= 0 {
		errs = append(errs, errors.New("realtime.events_per_second and realtime.event_burst must be positive"))
	}

	if !c.RateLimit.Disabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit.requests and rate_limit.window must be positive"))
	}

	return errors.Join(errs...)
}
