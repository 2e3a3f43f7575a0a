// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	NATS      NATSConfig
	Directory DirectoryConfig
	Log       LogConfig
}

// ServiceConfig identifies the service in logs and events.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
}

// NATSConfig holds the event bus address. An empty URL disables publishing.
type NATSConfig struct {
	URL string
}

// DirectoryConfig points at the user directory service.
type DirectoryConfig struct {
	BaseURL string
	Timeout time.Duration
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Service.Name = getEnv("SERVICE_NAME", "be-itsm-approvals")
	cfg.Service.Version = getEnv("SERVICE_VERSION", "dev")
	cfg.Service.Environment = getEnv("ENVIRONMENT", "development")

	var err error
	if cfg.Server.Port, err = getEnvInt("APPROVALS_PORT", 8086); err != nil {
		return nil, err
	}
	if cfg.Server.ReadTimeout, err = getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.RequestTimeout, err = getEnvDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	if cfg.Database.Port, err = getEnvInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "itsm_approvals")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	cfg.Database.MaxConns = int32(maxConns)
	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, err
	}
	cfg.Database.MinConns = int32(minConns)
	if cfg.Database.MaxConnTime, err = getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour); err != nil {
		return nil, err
	}
	if cfg.Database.MaxIdleTime, err = getEnvDuration("DB_MAX_CONN_IDLE", 30*time.Minute); err != nil {
		return nil, err
	}

	cfg.NATS.URL = getEnv("NATS_URL", "")

	cfg.Directory.BaseURL = getEnv("DIRECTORY_URL", "http://localhost:8081")
	if cfg.Directory.Timeout, err = getEnvDuration("DIRECTORY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
