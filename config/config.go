// Package config loads server configuration.
//
// Values are layered, later layers winning:
//   - built-in defaults (Default)
//   - an optional YAML file
//   - variables from an optional .env file (never overriding the real environment)
//   - environment variables
//   - command-line flags that were explicitly set (see BindFlags)
//
// Day-off quotas are read once at startup and fixed for the process lifetime.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	DayOff   DayOffConfig   `yaml:"day_off"`
	Auth     AuthConfig     `yaml:"auth"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DemoScenarios   bool          `yaml:"demo_scenarios"`
}

// DatabaseConfig selects the store. Driver is "sqlite", "postgres" or "memory".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

// DayOffConfig holds the two quotas.
type DayOffConfig struct {
	MaxPerDay   int `yaml:"max_per_day"`
	MaxPerCycle int `yaml:"max_per_cycle"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RabbitMQConfig is optional; an empty URL disables broker publishing.
type RabbitMQConfig struct {
	URL             string        `yaml:"url"`
	Exchange        string        `yaml:"exchange"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "./data/driver_requests.db",
		},
		DayOff: DayOffConfig{
			MaxPerDay:   40,
			MaxPerCycle: 2,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:        "driver_requests",
			ConnectAttempts: 10,
			RetryDelay:      3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. Either path may be empty. A missing envFile is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	str("HTTP_ADDR", &c.Server.Addr)
	if origins, ok := lookup("CORS_ORIGINS"); ok && origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}
	if v, ok := lookup("DEMO_SCENARIOS"); ok && v != "" {
		demo, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEMO_SCENARIOS %q: %w", v, err)
		}
		c.Server.DemoScenarios = demo
	}

	str("DB_DRIVER", &c.Database.Driver)
	str("DB_PATH", &c.Database.Path)
	str("DATABASE_URL", &c.Database.URL)

	if err := num("MAX_DAY_OFF_PER_DAY", &c.DayOff.MaxPerDay); err != nil {
		return err
	}
	if err := num("MAX_DAY_OFF_PER_CYCLE", &c.DayOff.MaxPerCycle); err != nil {
		return err
	}

	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("RABBITMQ_URL", &c.RabbitMQ.URL)
	str("RABBITMQ_EXCHANGE", &c.RabbitMQ.Exchange)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.DayOff.MaxPerDay <= 0 {
		errs = append(errs, fmt.Errorf("day_off.max_per_day must be positive, got %d", c.DayOff.MaxPerDay))
	}
	if c.DayOff.MaxPerCycle <= 0 {
		errs = append(errs, fmt.Errorf("day_off.max_per_cycle must be positive, got %d", c.DayOff.MaxPerCycle))
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
