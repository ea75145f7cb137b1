package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// StorageConfig holds configuration for metrics storage.
type StorageConfig struct {
	RetentionDays int `yaml:"retention_days"`

	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
}

// PostgreSQLConfig contains the database connection settings.
type PostgreSQLConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// DefaultStorageConfig returns a default storage configuration.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		RetentionDays: 90,
		PostgreSQL: PostgreSQLConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "perfscope",
			User:         "postgres",
			Password:     "",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
	}
}

// LoadStorageConfig loads storage configuration from file, falling back to
// defaults when no file is given or present.
func LoadStorageConfig(path string, log logrus.FieldLogger) (*StorageConfig, error) {
	log = log.WithField("component", "storage_config")

	if path == "" {
		log.Info("No storage config path provided, using defaults")
		return DefaultStorageConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.WithField("path", path).Info("Storage config file not found, using defaults")
		return DefaultStorageConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage config file: %w", err)
	}

	substituted, err := SubstituteEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to substitute environment variables: %w", err)
	}

	cfg := DefaultStorageConfig()
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal storage config: %w", err)
	}

	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.PostgreSQL.MaxOpenConns <= 0 {
		cfg.PostgreSQL.MaxOpenConns = 10
	}
	if cfg.PostgreSQL.MaxIdleConns <= 0 {
		cfg.PostgreSQL.MaxIdleConns = 5
	}
	if cfg.PostgreSQL.SSLMode == "" {
		cfg.PostgreSQL.SSLMode = "disable"
	}

	log.WithFields(logrus.Fields{
		"retention_days": cfg.RetentionDays,
		"pg_host":        cfg.PostgreSQL.Host,
		"pg_port":        cfg.PostgreSQL.Port,
		"pg_database":    cfg.PostgreSQL.Database,
	}).Info("Loaded storage configuration")

	return cfg, nil
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be greater than 0")
	}
	if err := c.PostgreSQL.Validate(); err != nil {
		return fmt.Errorf("invalid PostgreSQL configuration: %w", err)
	}
	return nil
}

// Validate validates the PostgreSQL configuration.
func (c *PostgreSQLConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be greater than 0")
	}
	if c.MaxIdleConns <= 0 {
		return fmt.Errorf("max_idle_conns must be greater than 0")
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgreSQLConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
