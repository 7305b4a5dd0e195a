package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
	}

	// Ollama backend configuration
	Ollama struct {
		BaseURL       string
		Temperature   float64
		NumPredict    int
		StreamTimeout time.Duration
		ProbeTimeout  time.Duration
		Models        []string
		DefaultModel  string
	}

	// Auth configuration
	Auth struct {
		TokenSecret string
		TokenExpiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Feature flags and limits
	Features struct {
		SeedDemoUsers     bool
		MaxMessageSize    int64
		MaxContentLength  int
		MinUsernameLength int
		MinPasswordLength int
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables.
// Uses singleton pattern to ensure only one instance exists.
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "3000")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
		instance.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+instance.Server.Port)

		// Ollama config
		instance.Ollama.BaseURL = getEnvString("OLLAMA_URL", "http://127.0.0.1:11434")
		instance.Ollama.Temperature = getEnvFloat("OLLAMA_TEMPERATURE", 0.7)
		instance.Ollama.NumPredict = getEnvInt("OLLAMA_NUM_PREDICT", 512)
		instance.Ollama.StreamTimeout = getEnvDuration("OLLAMA_STREAM_TIMEOUT", 5*time.Minute)
		instance.Ollama.ProbeTimeout = getEnvDuration("OLLAMA_PROBE_TIMEOUT", 5*time.Second)
		instance.Ollama.Models = getEnvStringSlice("OLLAMA_MODELS", []string{"llama3.2:3b", "mistral", "gemma", "llama2"})
		instance.Ollama.DefaultModel = getEnvString("OLLAMA_DEFAULT_MODEL", instance.Ollama.Models[0])

		// Auth config
		instance.Auth.TokenSecret = getEnvString("AUTH_TOKEN_SECRET", "relay-secret-change-me")
		instance.Auth.TokenExpiry = getEnvDuration("AUTH_TOKEN_EXPIRY", 24*time.Hour)

		// Security config
		instance.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 20)
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")

		// Feature flags
		instance.Features.SeedDemoUsers = getEnvBool("SEED_DEMO_USERS", true)
		instance.Features.MaxMessageSize = getEnvInt64("MAX_MESSAGE_SIZE", 512*1024)
		instance.Features.MaxContentLength = getEnvInt("MAX_CONTENT_LENGTH", 8192)
		instance.Features.MinUsernameLength = getEnvInt("MIN_USERNAME_LENGTH", 3)
		instance.Features.MinPasswordLength = getEnvInt("MIN_PASSWORD_LENGTH", 4)
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
