package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Fare     FareConfig     `mapstructure:"fare"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type CameraConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	WebhookToken string        `mapstructure:"webhook_token"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type FareConfig struct {
	// Policy selects the billing strategy: "daily_window" or "hourly_tiered".
	Policy string `mapstructure:"policy"`
}

type IngestConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	QuickWindow     time.Duration `mapstructure:"quick_window"`
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "plaza")
	v.SetDefault("database.name", "plaza")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("camera.timeout", 5*time.Second)
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("fare.policy", "daily_window")
	v.SetDefault("ingest.poll_interval", 30*time.Second)
	v.SetDefault("ingest.quick_window", 2*time.Minute)
	v.SetDefault("ingest.retention_days", 90)
	v.SetDefault("ingest.cleanup_interval", 6*time.Hour)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/plaza-service")
	}

	v.SetEnvPrefix("PLAZA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	switch cfg.Fare.Policy {
	case "daily_window", "hourly_tiered":
	default:
		return nil, fmt.Errorf("unknown fare.policy %q", cfg.Fare.Policy)
	}

	return &cfg, nil
}
