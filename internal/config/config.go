// Package config loads the server configuration from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables win over it.
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
	Auth     AuthConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Email    EmailConfig
	Policy   PolicyConfig
	LogLevel slog.Level
}

type ServerConfig struct {
	Port           int
	DBPath         string
	PublicBaseURL  string
	TrustedOrigins []string
}

type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// RedisConfig is optional. With no Addr, token revocation is kept in
// process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig selects the image store: S3 when S3Bucket is set, the
// local UploadDir otherwise.
type StorageConfig struct {
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
	UploadDir   string
}

// EmailConfig is optional. With no SMTPHost, verification links are logged.
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	From         string
}

type PolicyConfig struct {
	ExposeSellerEmail        bool
	RequireEmailVerification bool
}

// UseS3 reports whether images go to an S3 bucket.
func (c StorageConfig) UseS3() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from the environment. Every malformed value is
// reported, not just the first.
func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	var p parser

	cfg := &Config{
		Server: ServerConfig{
			Port:           p.int("PORT", 8080),
			DBPath:         getEnv("DB_PATH", "data/campus.db"),
			TrustedOrigins: getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Auth: AuthConfig{
			JWTSecret:  os.Getenv("JWT_SECRET"),
			TokenTTL:   p.duration("AUTH_TOKEN_TTL", 24*time.Hour),
			BcryptCost: p.int("BCRYPT_COST", 12),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       p.int("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			S3Bucket:    os.Getenv("S3_BUCKET"),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:  os.Getenv("S3_ENDPOINT"),
			S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
			S3SecretKey: os.Getenv("S3_SECRET_KEY"),
			S3PublicURL: os.Getenv("S3_PUBLIC_URL"),
			UploadDir:   getEnv("UPLOAD_DIR", "data/uploads"),
		},
		Email: EmailConfig{
			SMTPHost:     os.Getenv("SMTP_HOST"),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUser:     os.Getenv("SMTP_USER"),
			SMTPPassword: os.Getenv("SMTP_PASSWORD"),
			From:         os.Getenv("SMTP_FROM"),
		},
		Policy: PolicyConfig{
			ExposeSellerEmail:        p.bool("EXPOSE_SELLER_EMAIL", false),
			RequireEmailVerification: p.bool("REQUIRE_EMAIL_VERIFICATION", false),
		},
		LogLevel: p.level("LOG_LEVEL", slog.LevelInfo),
	}
	cfg.Server.PublicBaseURL = strings.TrimRight(
		getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)), "/")

	if len(cfg.Auth.JWTSecret) < 16 {
		p.errs = append(p.errs, errors.New("JWT_SECRET must be set and at least 16 characters"))
	}
	if cfg.Auth.TokenTTL <= 0 {
		p.errs = append(p.errs, errors.New("AUTH_TOKEN_TTL must be positive"))
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

// parser reads typed values and remembers every malformed one.
type parser struct {
	errs []error
}

func (p *parser) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func (p *parser) bool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, value))
		return defaultValue
	}
	return b
}

// duration accepts Go durations ("90m", "24h") or a bare number of seconds.
func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}

func (p *parser) level(key string, defaultValue slog.Level) slog.Level {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(value)); err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a log level", key, value))
		return defaultValue
	}
	return l
}
