package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// StoreDriver selects the backing store: "postgres" or "memory".
	// The memory store is for local development only.
	StoreDriver string

	ServerPort string
	ServerHost string

	// FlagSecretKey is the base64-encoded master secret for flag
	// derivation. Generated at startup if unset (dev only).
	FlagSecretKey     string
	FlagDisplayLength int
	SuffixLength      int
	MaxAnswerLength   int

	FirstBloodBonus int
	DecayMaxBonus   int
	DecayWindowMins int
	// DecayAnchor is "activation" or "salt": whether the time-decay
	// bonus window starts at challenge activation or at the latest
	// case-salt rotation.
	DecayAnchor string

	SubmitRateLimit       int
	SubmitRateWindowSecs  int
	AuthRateLimit         int
	AuthRateWindowSecs    int
	RateSweepIntervalMins int

	APIRateLimitRequests   int
	APIRateLimitWindowMins int
	APICORSOrigins         []string

	DebugMode bool
}

func Load() (*Config, error) {
	godotenv.Load("config.env")

	cfg := &Config{
		DBHost:     getEnvString("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBName:     getEnvString("DB_NAME", "casefile_db"),
		DBUser:     getEnvString("DB_USER", "postgres"),
		DBPassword: getEnvString("DB_PASSWORD", ""),
		DBSSLMode:  getEnvString("DB_SSL_MODE", "disable"),

		StoreDriver: getEnvString("STORE_DRIVER", "postgres"),

		ServerPort: getEnvString("SERVER_PORT", "8080"),
		ServerHost: getEnvString("SERVER_HOST", "localhost"),

		FlagSecretKey:     getEnvString("FLAG_SECRET_KEY", ""),
		FlagDisplayLength: getEnvInt("FLAG_DISPLAY_LENGTH", 32),
		SuffixLength:      getEnvInt("ANSWER_SUFFIX_LENGTH", 8),
		MaxAnswerLength:   getEnvInt("MAX_ANSWER_LENGTH", 512),

		FirstBloodBonus: getEnvInt("FIRST_BLOOD_BONUS", 50),
		DecayMaxBonus:   getEnvInt("DECAY_MAX_BONUS", 25),
		DecayWindowMins: getEnvInt("DECAY_WINDOW_MINUTES", 1440),
		DecayAnchor:     getEnvString("DECAY_ANCHOR", "activation"),

		SubmitRateLimit:       getEnvInt("SUBMIT_RATE_LIMIT", 10),
		SubmitRateWindowSecs:  getEnvInt("SUBMIT_RATE_WINDOW_SECONDS", 60),
		AuthRateLimit:         getEnvInt("AUTH_RATE_LIMIT", 5),
		AuthRateWindowSecs:    getEnvInt("AUTH_RATE_WINDOW_SECONDS", 60),
		RateSweepIntervalMins: getEnvInt("RATE_SWEEP_INTERVAL_MINUTES", 5),

		APIRateLimitRequests:   getEnvInt("API_RATE_LIMIT_REQUESTS", 100),
		APIRateLimitWindowMins: getEnvInt("API_RATE_LIMIT_WINDOW_MINUTES", 1),
		APICORSOrigins:         getEnvStringSlice("API_CORS_ORIGINS", []string{"*"}),

		DebugMode: getEnvBool("DEBUG_MODE", false),
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
