package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the application configuration. It is built once at process
// start by LoadConfig and handed to bootstrap; nothing mutates it afterwards.
type Config struct {
	DatabaseURL         string
	JWTSecret           string
	StripeSecretKey     string
	StripeWebhookSecret string
	// Optional: base URL for running remote HTTP integration tests (e.g., https://api.example.com)
	IntegrationBaseURL string
	// Server ports
	HTTPPort string
	GRPCPort string
	// Logging
	LogLevel  string
	LogFormat string
	// Billing policy
	CancelAtPeriodEnd          bool
	WebhookRetryOnStorageError bool
}

type envVar struct {
	name     string
	envVar   string
	display  string
	required bool
}

var envVars = []envVar{
	{"DatabaseURL", "DATABASE_URL", "Database URL", true},
	{"JWTSecret", "JWT_SECRET", "JWT Secret", true},
	{"StripeSecretKey", "STRIPE_SECRET_KEY", "Stripe Secret Key", true},
	{"StripeWebhookSecret", "STRIPE_WEBHOOK_SECRET", "Stripe Webhook Secret", true},
	// Optional integration base URL for remote tests
	{"IntegrationBaseURL", "INTEGRATION_BASE_URL", "Integration Base URL", false},
	// Optional server ports
	{"HTTPPort", "PORT", "HTTP Port", false},
	{"GRPCPort", "GRPC_PORT", "gRPC Port", false},
	{"LogLevel", "LOG_LEVEL", "Log Level", false},
	{"LogFormat", "LOG_FORMAT", "Log Format", false},
	{"CancelAtPeriodEnd", "CANCEL_AT_PERIOD_END", "Cancel At Period End", false},
	{"WebhookRetryOnStorageError", "WEBHOOK_RETRY_ON_STORAGE_ERROR", "Webhook Retry On Storage Error", false},
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return fromEnv()
}

// loadDotEnv loads the first .env found walking up from the working directory.
// Variables already present in the environment win over the file.
func loadDotEnv() error {
	currentDir, _ := os.Getwd()
	for currentDir != "/" && currentDir != "." && currentDir != "" {
		envPath := filepath.Join(currentDir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return fmt.Errorf("failed to load .env file: %v", err)
			}
			return nil
		}
		currentDir = filepath.Dir(currentDir)
	}
	return nil
}

func fromEnv() (*Config, error) {
	config := &Config{}

	for _, v := range envVars {
		value := os.Getenv(v.envVar)
		if v.required && value == "" {
			return nil, fmt.Errorf("missing required environment variable: %s", v.display)
		}
		configField := reflect.ValueOf(config).Elem().FieldByName(v.name)
		switch configField.Kind() {
		case reflect.Bool:
			if value == "" {
				continue
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("invalid boolean for %s: %q", v.display, value)
			}
			configField.SetBool(b)
		default:
			configField.SetString(value)
		}
	}

	// Defaults
	if config.HTTPPort == "" {
		config.HTTPPort = "8080"
	}
	if config.GRPCPort == "" {
		config.GRPCPort = "50051"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "text"
	}

	return config, nil
}
