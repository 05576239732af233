package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration required by the API process and callctl.
// Values come from env, optionally seeded by the YAML file named in
// CONFIG_FILE. Env always wins over the file.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Store     StoreConfig     `yaml:"store"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Auth      AuthConfig      `yaml:"auth"`
	Presenter PresenterConfig `yaml:"presenter"`
	Events    EventsConfig    `yaml:"events"`
}

type AppConfig struct {
	Env  string `yaml:"env"`
	Port int    `yaml:"port"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type StoreConfig struct {
	Driver string `yaml:"driver"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	JWTIssuer       string        `yaml:"jwt_issuer"`
	JWTAudience     string        `yaml:"jwt_audience"`
	AccessTokenTTL  time.Duration `yaml:"access_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_ttl"`

	// BootstrapKey enables POST /auth/token when set.
	BootstrapKey string `yaml:"bootstrap_key"`
}

type PresenterConfig struct {
	RingTimeout time.Duration `yaml:"ring_timeout"`
}

type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// Load reads file and env, applies defaults and validates everything the
// API process needs.
func Load() (Config, error) {
	c, err := load()
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadStore is Load for tools that only touch the call store.
func LoadStore() (Config, error) {
	c, err := load()
	if err != nil {
		return Config{}, err
	}
	if err := c.ValidateStore(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func load() (Config, error) {
	c := Config{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := c.readFile(path); err != nil {
			return Config{}, err
		}
	}

	var parseErrs []error
	envString("APP_ENV", &c.App.Env)
	parseErrs = envInt("APP_PORT", &c.App.Port, parseErrs)

	envString("STORE_DRIVER", &c.Store.Driver)

	envString("DB_HOST", &c.DB.Host)
	parseErrs = envInt("DB_PORT", &c.DB.Port, parseErrs)
	envString("DB_USER", &c.DB.User)
	envSecret("DB_PASSWORD", &c.DB.Password)
	envString("DB_NAME", &c.DB.Name)
	envString("DB_SSLMODE", &c.DB.SSLMode)

	envString("REDIS_HOST", &c.Redis.Host)
	parseErrs = envInt("REDIS_PORT", &c.Redis.Port, parseErrs)
	envSecret("REDIS_PASSWORD", &c.Redis.Password)
	parseErrs = envInt("REDIS_DB", &c.Redis.DB, parseErrs)
	envString("REDIS_KEY_PREFIX", &c.Redis.KeyPrefix)

	envString("SQLITE_PATH", &c.SQLite.Path)

	envSecret("JWT_SECRET", &c.Auth.JWTSecret)
	envString("JWT_ISSUER", &c.Auth.JWTIssuer)
	envString("JWT_AUDIENCE", &c.Auth.JWTAudience)
	parseErrs = envDuration("JWT_ACCESS_TTL", &c.Auth.AccessTokenTTL, parseErrs)
	parseErrs = envDuration("JWT_REFRESH_TTL", &c.Auth.RefreshTokenTTL, parseErrs)
	envSecret("AUTH_BOOTSTRAP_KEY", &c.Auth.BootstrapKey)

	parseErrs = envDuration("RING_TIMEOUT", &c.Presenter.RingTimeout, parseErrs)
	parseErrs = envInt("EVENT_BUFFER", &c.Events.Buffer, parseErrs)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) readFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("CONFIG_FILE %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "callkit:"
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = "data/callkit.db"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Presenter.RingTimeout <= 0 {
		c.Presenter.RingTimeout = 60 * time.Second
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 64
	}
}

func (c Config) Validate() error {
	errs := c.validateApp()
	errs = append(errs, c.validateStore()...)

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Store.Driver == DriverMemory {
			errs = append(errs, errors.New("STORE_DRIVER memory is not allowed in production"))
		}
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if c.Presenter.RingTimeout < time.Second {
		errs = append(errs, fmt.Errorf("RING_TIMEOUT must be at least 1s, got %s", c.Presenter.RingTimeout))
	}
	if c.Events.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER must be positive, got %d", c.Events.Buffer))
	}

	return joinErrors(errs)
}

// ValidateStore checks only what is needed to open the call store.
func (c Config) ValidateStore() error {
	return joinErrors(c.validateStore())
}

func (c Config) validateApp() []error {
	var errs []error
	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	return errs
}

func (c Config) validateStore() []error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else if !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	case DriverRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Redis.DB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must not be negative, got %d", c.Redis.DB))
		}
	case DriverSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of memory, redis, postgres, sqlite, got %q", c.Store.Driver))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// envSecret keeps surrounding whitespace; secrets are taken verbatim.
func envSecret(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, errs []error) []error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	*dst = n
	return errs
}

func envDuration(key string, dst *time.Duration, errs []error) []error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	*dst = d
	return errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
