package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort     string
	AppMode     string
	LogLevel    string
	AutoMigrate bool

	DatabaseURL string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string
	DBMaxConns  int

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	JWTSecret string
	JWTIssuer string

	AllowedOrigins []string

	MessageRateLimit int

	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Endpoint   string
	S3PublicBase string

	DeletedContentRetention time.Duration
	PurgeCron               string
	PresenceSweepCron       string
	PresenceTTL             time.Duration
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:     getEnv("APP_PORT", "8080"),
		AppMode:     getEnv("APP_MODE", "debug"),
		LogLevel:    getEnv("LOG_LEVEL", ""),
		AutoMigrate: getEnvAsBool("AUTO_MIGRATE", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "pulse_dm"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBMaxConns:  getEnvAsInt("DB_MAX_CONNS", 20),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RedisPoolSize: getEnvAsInt("REDIS_POOL_SIZE", 0),

		JWTSecret: getEnv("JWT_SECRET", "change-me"),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),

		MessageRateLimit: getEnvAsInt("MESSAGE_RATE_LIMIT", 60),

		S3Region:     getEnv("S3_REGION", ""),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		S3PublicBase: getEnv("S3_PUBLIC_BASE", ""),

		DeletedContentRetention: time.Duration(getEnvAsInt("DELETED_CONTENT_RETENTION_DAYS", 30)) * 24 * time.Hour,
		PurgeCron:               getEnv("PURGE_CRON", "@hourly"),
		PresenceSweepCron:       getEnv("PRESENCE_SWEEP_CRON", "@every 1m"),
		PresenceTTL:             time.Duration(getEnvAsInt("PRESENCE_TTL_SECONDS", 300)) * time.Second,
	}
}

// DSN returns DATABASE_URL when set, otherwise a URL assembled from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// AttachmentVerification reports whether S3 settings are present.
func (c *Config) AttachmentVerification() bool {
	return c.S3Region != "" && c.S3Bucket != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
