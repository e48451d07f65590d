// Package config loads chatd configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Responder ResponderConfig `yaml:"responder"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port" env:"CHATD_SERVER_PORT"`
	Interface      string        `yaml:"interface" env:"CHATD_SERVER_INTERFACE"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"CHATD_SERVER_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"CHATD_SERVER_WRITE_TIMEOUT"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"CHATD_SERVER_IDLE_TIMEOUT"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Type selects the GORM dialector: postgres, mysql, sqlserver or sqlite
	Type     string         `yaml:"type" env:"CHATD_DATABASE_TYPE"`
	Postgres PostgresConfig `yaml:"postgres"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host" env:"CHATD_POSTGRES_HOST"`
	Port     string `yaml:"port" env:"CHATD_POSTGRES_PORT"`
	User     string `yaml:"user" env:"CHATD_POSTGRES_USER"`
	Password string `yaml:"password" env:"CHATD_POSTGRES_PASSWORD"`
	Database string `yaml:"database" env:"CHATD_POSTGRES_DATABASE"`
	SSLMode  string `yaml:"sslmode" env:"CHATD_POSTGRES_SSL_MODE"`
}

// MySQLConfig holds MySQL and SQL Server configuration (host/port/user form)
type MySQLConfig struct {
	Host     string `yaml:"host" env:"CHATD_MYSQL_HOST"`
	Port     string `yaml:"port" env:"CHATD_MYSQL_PORT"`
	User     string `yaml:"user" env:"CHATD_MYSQL_USER"`
	Password string `yaml:"password" env:"CHATD_MYSQL_PASSWORD"`
	Database string `yaml:"database" env:"CHATD_MYSQL_DATABASE"`
}

// SQLiteConfig holds SQLite configuration
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:" for in-memory
	Path string `yaml:"path" env:"CHATD_SQLITE_PATH"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host" env:"CHATD_REDIS_HOST"`
	Port     string `yaml:"port" env:"CHATD_REDIS_PORT"`
	Password string `yaml:"password" env:"CHATD_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"CHATD_REDIS_DB"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret                  string `yaml:"secret" env:"CHATD_JWT_SECRET"`
	ExpirationSeconds       int    `yaml:"expiration_seconds" env:"CHATD_JWT_EXPIRATION_SECONDS"`
	RefreshExpirationDays   int    `yaml:"refresh_expiration_days" env:"CHATD_JWT_REFRESH_EXPIRATION_DAYS"`
	SigningMethod           string `yaml:"signing_method" env:"CHATD_JWT_SIGNING_METHOD"`
	BcryptCost              int    `yaml:"bcrypt_cost" env:"CHATD_AUTH_BCRYPT_COST"`
	AllowInsecureDevSecret  bool   `yaml:"allow_insecure_dev_secret" env:"CHATD_JWT_ALLOW_INSECURE_DEV_SECRET"`
}

// WebSocketConfig holds real-time transport configuration
type WebSocketConfig struct {
	ReadLimitBytes   int64         `yaml:"read_limit_bytes" env:"CHATD_WS_READ_LIMIT_BYTES"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"CHATD_WS_WRITE_TIMEOUT"`
	PongTimeout      time.Duration `yaml:"pong_timeout" env:"CHATD_WS_PONG_TIMEOUT"`
	PingInterval     time.Duration `yaml:"ping_interval" env:"CHATD_WS_PING_INTERVAL"`
	HistoryWindow    int           `yaml:"history_window" env:"CHATD_WS_HISTORY_WINDOW"`
}

// ResponderConfig holds response-generation configuration
type ResponderConfig struct {
	// Provider selects the responder backend: mock or openai
	Provider     string        `yaml:"provider" env:"CHATD_RESPONDER_PROVIDER"`
	Timeout      time.Duration `yaml:"timeout" env:"CHATD_RESPONDER_TIMEOUT"`
	OpenAIKey    string        `yaml:"openai_key" env:"CHATD_OPENAI_API_KEY"`
	OpenAIModel  string        `yaml:"openai_model" env:"CHATD_OPENAI_MODEL"`
	SystemPrompt string        `yaml:"system_prompt" env:"CHATD_RESPONDER_SYSTEM_PROMPT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"CHATD_LOG_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"CHATD_LOG_IS_DEV"`
	LogDir           string `yaml:"log_dir" env:"CHATD_LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"CHATD_LOG_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"CHATD_LOG_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"CHATD_LOG_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"CHATD_LOG_CONSOLE"`
}

// Default returns the baseline configuration before file and env overrides
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Interface:      "0.0.0.0",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Type: "postgres",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "postgres",
				Password: "",
				Database: "chatd",
				SSLMode:  "disable",
			},
			MySQL: MySQLConfig{
				Host: "localhost",
				Port: "3306",
				User: "root",
			},
			SQLite: SQLiteConfig{
				Path: "chatd.db",
			},
			Redis: RedisConfig{
				Host: "localhost",
				Port: "6379",
				DB:   0,
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				Secret:                "",
				ExpirationSeconds:     1800,
				RefreshExpirationDays: 7,
				SigningMethod:         "HS256",
				BcryptCost:            12,
			},
		},
		WebSocket: WebSocketConfig{
			ReadLimitBytes:    64 * 1024,
			WriteTimeout:      10 * time.Second,
			PongTimeout:       60 * time.Second,
			PingInterval:      30 * time.Second,
			HistoryWindow:     10,
		},
		Responder: ResponderConfig{
			Provider:    "mock",
			Timeout:     30 * time.Second,
			OpenAIModel: "gpt-4o-mini",
		},
		Logging: LoggingConfig{
			Level:            "info",
			IsDev:            false,
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
	}
}

// Load builds configuration from defaults, an optional YAML file, and
// environment variable overrides, in that order
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromYAML(cfg, configFile); err != nil {
			return nil, err
		}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks constraints that would otherwise surface as confusing
// runtime failures
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres", "mysql", "sqlserver", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Auth.JWT.Secret == "" && !c.Auth.JWT.AllowInsecureDevSecret {
		return fmt.Errorf("auth.jwt.secret is required (set CHATD_JWT_SECRET)")
	}
	if c.Auth.JWT.SigningMethod != "HS256" {
		return fmt.Errorf("unsupported JWT signing method: %s", c.Auth.JWT.SigningMethod)
	}
	if c.WebSocket.HistoryWindow <= 0 {
		return fmt.Errorf("websocket.history_window must be positive")
	}
	return nil
}

func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// overrideWithEnv overrides configuration values with environment variables
func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		// time.Duration fields accept Go duration syntax
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind: %s", field.Kind())
	}
	return nil
}
