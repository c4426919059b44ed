package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Run modes for the clearing engine.
const (
	ModeLocal = "local"
	ModeLive  = "live"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects the ledger backend: "local" for the in-process engine,
	// "live" for the on-chain backend.
	Mode string

	// LogLevel is the zerolog level name ("debug", "info", ...).
	LogLevel string

	// WebPort is the listen port for the status API.
	WebPort string

	// RepStrategy selects the reputation factor strategy: "feed_average" or
	// "composite".
	RepStrategy string

	// DBHost, DBPort, DBUser, DBPassword, DBName, DBSSLMode configure the
	// PostgreSQL connection.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("ACE_MODE")
	if err != nil {
		return err
	}
	Mode = strings.ToLower(Mode)
	if Mode != ModeLocal && Mode != ModeLive {
		return errors.New("environment variable ACE_MODE must be 'local' or 'live', got: " + Mode)
	}

	LogLevel, err = getEnv("LOG_LEVEL")
	if err != nil {
		return err
	}

	WebPort, err = getEnv("WEB_PORT")
	if err != nil {
		return err
	}

	RepStrategy, err = getEnv("REP_STRATEGY")
	if err != nil {
		return err
	}

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}

	DBPort, err = getEnvAsInt("DB_PORT")
	if err != nil {
		return err
	}

	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}

	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}

	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}

	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}

	// Chain endpoints are only required in live mode.
	if Mode == ModeLive {
		if err := loadChainConfig(); err != nil {
			return err
		}
	}

	log.Debug().
		Str("Mode", Mode).
		Str("WebPort", WebPort).
		Str("RepStrategy", RepStrategy).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
