// Package config loads runtime settings from the environment.
//
// A .env file in the working directory is read first when present, so local
// development needs no exported variables. Values already set in the real
// environment win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Email    EmailConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Port            int
	Env             string // development or production
	AppURL          string // public URL of the web client, used in mail links
	TrustedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  slog.Level
	Format string // text or json
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL           string
	EmailCooldown time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	BcryptCost         int
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

type EmailConfig struct {
	Transport    string // smtp or kafka
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromEmail    string
	FromName     string
	KafkaBrokers []string
	KafkaTopic   string
}

type StorageConfig struct {
	Driver        string // local or cloudinary
	Bucket        string
	LocalDir      string
	PublicBaseURL string
	CloudinaryURL string
}

// Load reads the configuration. It fails only on values the server cannot
// start without or cannot interpret.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := getIntEnv("PORT", 8080)

	cfg := &Config{
		Server: ServerConfig{
			Port:            port,
			Env:             getEnv("APP_ENV", "development"),
			AppURL:          strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
			TrustedOrigins:  getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:3000"}),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  parseLevel(getEnv("LOG_LEVEL", "info")),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", "file:data/crm.db?_pragma=foreign_keys(1)"),
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", ""),
			EmailCooldown: getDurationEnv("EMAIL_COOLDOWN", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          getEnv("JWT_SECRET", ""),
			BcryptCost:         getIntEnv("BCRYPT_COST", 12),
			GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", fmt.Sprintf("http://localhost:%d/api/auth/google/callback", port)),
		},
		Email: EmailConfig{
			Transport:    getEnv("EMAIL_TRANSPORT", "smtp"),
			SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getIntEnv("SMTP_PORT", 587),
			SMTPUser:     getEnv("SMTP_USER", getEnv("GMAIL_USER", "")),
			SMTPPassword: getEnv("SMTP_PASS", getEnv("GMAIL_APP_PASSWORD", "")),
			FromName:     getEnv("FROM_NAME", "FK CRM"),
			KafkaBrokers: getSliceEnv("KAFKA_BROKERS", nil),
			KafkaTopic:   getEnv("KAFKA_MAIL_TOPIC", "crm.mail"),
		},
		Storage: StorageConfig{
			Driver:        getEnv("STORAGE_DRIVER", "local"),
			Bucket:        getEnv("STORAGE_BUCKET", getEnv("SUPABASE_STORAGE_BUCKET", "applications")),
			LocalDir:      getEnv("LOCAL_STORAGE_DIR", "data/uploads"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d/files", port)), "/"),
			CloudinaryURL: getEnv("CLOUDINARY_URL", ""),
		},
	}
	cfg.Email.FromEmail = getEnv("FROM_EMAIL", cfg.Email.SMTPUser)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.Auth.BcryptCost))
	}
	if c.Redis.EmailCooldown <= 0 {
		errs = append(errs, fmt.Errorf("EMAIL_COOLDOWN must be a positive number of seconds, got %s", c.Redis.EmailCooldown))
	}
	switch c.Email.Transport {
	case "smtp":
	case "kafka":
		if len(c.Email.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when EMAIL_TRANSPORT=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMAIL_TRANSPORT must be smtp or kafka, got %q", c.Email.Transport))
	}
	switch c.Storage.Driver {
	case "local":
	case "cloudinary":
		if c.Storage.CloudinaryURL == "" {
			errs = append(errs, errors.New("CLOUDINARY_URL is required when STORAGE_DRIVER=cloudinary"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be local or cloudinary, got %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

// IsProduction controls cookie Secure flags and similar hardening.
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

// GoogleEnabled reports whether Google sign-in can be offered.
func (c *AuthConfig) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// SMTPEnabled reports whether real mail can be sent. Without credentials the
// server logs mail instead.
func (c *EmailConfig) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPUser != "" && c.SMTPPassword != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getDurationEnv reads a whole number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
