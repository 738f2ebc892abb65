package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devJWTSecret = "dev-secret-change-me"
)

// Config holds all application configuration.
type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig describes how to reach the relational store.
// Driver is one of "mysql", "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"-"`
	Name            string        `yaml:"name"`
	Path            string        `yaml:"path"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"-"`
	Issuer     string        `yaml:"issuer"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// RateLimitConfig controls the sign-in throttle. Each email and each client
// IP gets a bucket of Burst attempts refilled one token every Refill.
type RateLimitConfig struct {
	Burst  int           `yaml:"burst"`
	Refill time.Duration `yaml:"refill"`
}

type RedisConfig struct {
	Addrs      []string `yaml:"addrs"`
	MasterName string   `yaml:"master_name"`
	Password   string   `yaml:"-"`
	DB         int      `yaml:"db"`
}

// StorageConfig selects where uploaded media bytes live.
type StorageConfig struct {
	Driver    string `yaml:"driver"`
	Dir       string `yaml:"dir"`
	PublicURL string `yaml:"public_url"`
	MaxBytes  int64  `yaml:"max_bytes"`

	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3KeyID     string `yaml:"-"`
	S3SecretKey string `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Env: EnvProduction,
		Server: ServerConfig{
			Port:           "5050",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			Driver:          "mysql",
			Host:            "127.0.0.1",
			Path:            "portal.db",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:     "merchant-portal",
			TokenTTL:   24 * time.Hour,
			BcryptCost: 12,
		},
		RateLimit: RateLimitConfig{
			Burst:  5,
			Refill: 12 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   "local",
			Dir:      "uploads",
			MaxBytes: 10 << 20,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and then environment variables, in that order of precedence.
//
// Environment variables:
//   - APP_ENV: "development" or "production" (default: production)
//   - PORT: HTTP listen port (default: 5050)
//   - CORS_ALLOWED_ORIGINS: comma separated origin allow-list
//   - DB_DRIVER: "mysql", "postgres" or "sqlite" (default: mysql)
//   - DB_HOST, DB_USER, DB_PASS, DB_NAME, DB_PORT (default: 3306, or 5432 for postgres)
//   - DB_PATH: SQLite file path when DB_DRIVER=sqlite
//   - DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS, DB_CONN_MAX_LIFETIME
//   - JWT_SECRET (required outside development), JWT_ISSUER, TOKEN_TTL, BCRYPT_COST
//   - SIGNIN_BURST, SIGNIN_REFILL
//   - REDIS_ADDR or REDIS_SENTINEL_ADDRS + REDIS_MASTER_NAME, REDIS_PASSWORD, REDIS_DB
//   - STORAGE_DRIVER ("local" or "s3"), STORAGE_DIR, STORAGE_PUBLIC_URL, MEDIA_MAX_BYTES
//   - S3_BUCKET, S3_REGION, S3_ENDPOINT, S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY
//   - LOG_LEVEL (default: info)
func Load() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if cfg.Env == EnvDevelopment && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Env = strings.ToLower(getEnv("APP_ENV", cfg.Env))
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	db := &cfg.Database
	db.Driver = strings.ToLower(getEnv("DB_DRIVER", db.Driver))
	db.Host = getEnv("DB_HOST", db.Host)
	db.User = getEnv("DB_USER", db.User)
	db.Password = getEnv("DB_PASS", db.Password)
	db.Name = getEnv("DB_NAME", db.Name)
	db.Path = getEnv("DB_PATH", db.Path)
	db.SSLMode = getEnv("DB_SSLMODE", db.SSLMode)
	db.Port = getEnv("DB_PORT", db.Port)
	if db.Port == "" {
		db.Port = defaultPort(db.Driver)
	}

	var err error
	if db.MaxOpenConns, err = getEnvInt("DB_MAX_OPEN_CONNS", db.MaxOpenConns); err != nil {
		return err
	}
	if db.MaxIdleConns, err = getEnvInt("DB_MAX_IDLE_CONNS", db.MaxIdleConns); err != nil {
		return err
	}
	if db.ConnMaxLifetime, err = getEnvDuration("DB_CONN_MAX_LIFETIME", db.ConnMaxLifetime); err != nil {
		return err
	}

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Issuer = getEnv("JWT_ISSUER", cfg.Auth.Issuer)
	if cfg.Auth.TokenTTL, err = getEnvDuration("TOKEN_TTL", cfg.Auth.TokenTTL); err != nil {
		return err
	}
	if cfg.Auth.BcryptCost, err = getEnvInt("BCRYPT_COST", cfg.Auth.BcryptCost); err != nil {
		return err
	}

	if cfg.RateLimit.Burst, err = getEnvInt("SIGNIN_BURST", cfg.RateLimit.Burst); err != nil {
		return err
	}
	if cfg.RateLimit.Refill, err = getEnvDuration("SIGNIN_REFILL", cfg.RateLimit.Refill); err != nil {
		return err
	}

	if v := getEnv("REDIS_SENTINEL_ADDRS", ""); v != "" {
		cfg.Redis.Addrs = splitList(v)
		cfg.Redis.MasterName = getEnv("REDIS_MASTER_NAME", "mymaster")
	} else if v := getEnv("REDIS_ADDR", ""); v != "" {
		cfg.Redis.Addrs = []string{v}
	}
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	if cfg.Redis.DB, err = getEnvInt("REDIS_DB", cfg.Redis.DB); err != nil {
		return err
	}

	st := &cfg.Storage
	st.Driver = strings.ToLower(getEnv("STORAGE_DRIVER", st.Driver))
	st.Dir = getEnv("STORAGE_DIR", st.Dir)
	st.PublicURL = getEnv("STORAGE_PUBLIC_URL", st.PublicURL)
	maxBytes, err := getEnvInt("MEDIA_MAX_BYTES", int(st.MaxBytes))
	if err != nil {
		return err
	}
	st.MaxBytes = int64(maxBytes)
	st.S3Bucket = getEnv("S3_BUCKET", st.S3Bucket)
	st.S3Region = getEnv("S3_REGION", st.S3Region)
	st.S3Endpoint = getEnv("S3_ENDPOINT", st.S3Endpoint)
	st.S3KeyID = getEnv("S3_ACCESS_KEY_ID", st.S3KeyID)
	st.S3SecretKey = getEnv("S3_SECRET_ACCESS_KEY", st.S3SecretKey)
	if st.PublicURL == "" && st.Driver == "local" {
		st.PublicURL = "http://localhost:" + cfg.Server.Port + "/files"
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Name == "" {
			return errors.Errorf("DB_NAME is required for driver %s", c.Database.Driver)
		}
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("DB_PATH is required for driver sqlite")
		}
	default:
		return errors.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is not set; required outside development")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.Refill <= 0 {
		return errors.New("SIGNIN_BURST and SIGNIN_REFILL must be positive")
	}

	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.S3Bucket == "" {
			return errors.Errorf("S3_BUCKET is required for storage driver s3")
		}
	default:
		return errors.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	return nil
}

// DSN renders the driver specific connection string.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
	case "sqlite":
		sep := "?"
		if strings.Contains(d.Path, "?") {
			sep = "&"
		}
		return d.Path + sep + "_foreign_keys=on"
	default:
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.Host, d.Port)
		mc.DBName = d.Name
		mc.ParseTime = true
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return mc.FormatDSN()
	}
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Port: %s, DB: %s@%s:%s/%s (%s), Redis: %v, Storage: %s, Auth: *** (masked) ***}",
		c.Env, c.Server.Port, c.Database.User, c.Database.Host, c.Database.Port, c.Database.Name,
		c.Database.Driver, c.Redis.Addrs, c.Storage.Driver)
}

func defaultPort(driver string) string {
	if driver == "postgres" {
		return "5432"
	}
	return "3306"
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		intVal, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, errors.Wrapf(err, "invalid integer for %s", key)
		}
		return intVal, nil
	}
	return defaultVal, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return 0, errors.Wrapf(err, "invalid duration for %s", key)
		}
		return d, nil
	}
	return defaultVal, nil
}
