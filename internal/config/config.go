package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"studioflow/production-portal/production-portal-backend/pkg/cloud"
	"studioflow/production-portal/production-portal-backend/pkg/logger"
	"studioflow/production-portal/production-portal-backend/pkg/storage"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Auth          AuthConfig          `json:"auth"`
	AWS           cloud.AWSConfig     `json:"aws"`
	Storage       StorageConfig       `json:"storage"`
	Notifications NotificationsConfig `json:"notifications"`
	Escalation    EscalationConfig    `json:"escalation"`
	Retention     RetentionConfig     `json:"retention"`
	Logging       logger.Config       `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout"`

	// AllowedOrigins limits websocket upgrades; empty accepts any origin.
	AllowedOrigins []string `json:"allowed_origins"`
}

// DatabaseConfig represents database configuration. Driver "memory" keeps
// everything in process, for local runs.
type DatabaseConfig struct {
	Driver         string   `json:"driver"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	User           string   `json:"user"`
	Password       string   `json:"password"`
	DBName         string   `json:"db_name"`
	SSLMode        string   `json:"ssl_mode"`
	MaxConnections int      `json:"max_connections"`
	MaxIdleConns   int      `json:"max_idle_conns"`
	MaxLifetime    Duration `json:"max_lifetime"`
	AutoMigrate    bool     `json:"auto_migrate"`
	LogQueries     bool     `json:"log_queries"`
}

// AuthConfig holds the secret used to verify bearer tokens.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer"`
}

// StorageConfig configures the object upload collaborator.
type StorageConfig struct {
	Driver         string `json:"driver"` // s3 or memory
	MaxUploadBytes int64  `json:"max_upload_bytes"`
	storage.S3Config
}

// NotificationsConfig configures the asynchronous dispatcher.
type NotificationsConfig struct {
	QueueSize   int    `json:"queue_size"`
	Workers     int    `json:"workers"`
	EnableEmail bool   `json:"enable_email"`
	EnablePush  bool   `json:"enable_push"`
	EmailFrom   string `json:"email_from"`
}

// EscalationConfig configures the deadline sweep.
type EscalationConfig struct {
	Enabled  bool     `json:"enabled"`
	Interval Duration `json:"interval"`
}

// RetentionConfig sets the hide and hard-delete horizons applied on close.
type RetentionConfig struct {
	HideAfter     Duration `json:"hide_after"`
	DeleteAfter   Duration `json:"delete_after"`
	PurgeSchedule string   `json:"purge_schedule"`
}

// Duration decodes "5m"-style strings as well as integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
			IdleTimeout:  Duration{60 * time.Second},
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "production_portal",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    Duration{time.Hour},
			AutoMigrate:    true,
		},
		Storage: StorageConfig{
			Driver:         "memory",
			MaxUploadBytes: 64 << 20,
			S3Config: storage.S3Config{
				PublicBaseURL: "http://localhost:8080/files",
			},
		},
		Notifications: NotificationsConfig{
			QueueSize: 1024,
			Workers:   4,
		},
		Escalation: EscalationConfig{
			Enabled:  true,
			Interval: Duration{5 * time.Minute},
		},
		Retention: RetentionConfig{
			HideAfter:     Duration{0},
			DeleteAfter:   Duration{30 * 24 * time.Hour},
			PurgeSchedule: "@daily",
		},
		Logging: logger.Config{Level: "info"},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// .env is optional; real environment variables take precedence over it.
	_ = godotenv.Load()

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			config.Database.Port = p
		}
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.AWS.Region = region
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		config.AWS.Endpoint = endpoint
	}
	if bucket := os.Getenv("STORAGE_BUCKET"); bucket != "" {
		config.Storage.Bucket = bucket
		config.Storage.Driver = "s3"
	}
	if from := os.Getenv("NOTIFICATIONS_EMAIL_FROM"); from != "" {
		config.Notifications.EmailFrom = from
	}
	if interval := os.Getenv("ESCALATION_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Escalation.Interval = Duration{d}
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Escalation.Interval.Duration <= 0 {
		return errors.New("escalation interval must be positive")
	}
	if c.Retention.DeleteAfter.Duration < c.Retention.HideAfter.Duration {
		return errors.New("retention delete_after must not be shorter than hide_after")
	}
	if c.Notifications.EnableEmail && c.Notifications.EmailFrom == "" {
		return errors.New("notifications email_from is required when email is enabled")
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
