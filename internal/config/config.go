package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// replicateKeyPrefix marks a Replicate token pasted into the OpenAI slot.
const replicateKeyPrefix = "r8_"

type Config struct {
	HTTPPort      string
	DatabaseURL   string
	UploadDir     string
	PublicBaseURL string
	LogLevel      string
	LogFile       string
	JWTSecret     string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string

	ReplicateAPIToken string

	StripeSecretKey     string
	StripeWebhookSecret string

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		DatabaseURL:         getEnv("DATABASE_URL", "tattoo_studio.db"),
		UploadDir:           getEnv("UPLOAD_DIR", "uploads"),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		LogFile:             getEnv("LOG_FILE", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		ReplicateAPIToken:   getEnv("REPLICATE_API_TOKEN", ""),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		RateLimitRPS:        getEnvAsFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst:      getEnvAsInt("RATE_LIMIT_BURST", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the server cannot boot without.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}
	if c.ReplicateAPIToken == "" {
		errs = append(errs, errors.New("REPLICATE_API_TOKEN environment variable is required"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// ChatEnabled reports whether a usable OpenAI credential is configured.
func (c *Config) ChatEnabled() bool {
	return c.OpenAIAPIKey != "" && !strings.HasPrefix(c.OpenAIAPIKey, replicateKeyPrefix)
}

// PaymentsEnabled requires both the secret key and the webhook signing secret.
func (c *Config) PaymentsEnabled() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != ""
}

func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "DEBUG")
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
