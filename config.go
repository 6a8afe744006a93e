package main

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port            string
	DBPath          string
	JWTSecret       string
	TokenTTL        time.Duration
	AcceptedOrigins []string

	AdminEmail    string
	AdminPassword string
	AdminName     string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	LogLevel  string
	LogFormat string
}

// LoadConfig reads filename into the environment, when it exists, and then
// builds the configuration from environment variables.
func LoadConfig(filename string) (Config, error) {
	if err := godotenv.Load(filename); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
		log.Warn().Str("file", filename).Msg("no env file found, using the environment")
	}

	cfg := Config{
		Port:            getEnv("PORT", "3001"),
		DBPath:          getEnv("DB_PATH", "./devtrack.db"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		TokenTTL:        time.Duration(getInt("TOKEN_TTL_HOURS", 168)) * time.Hour,
		AcceptedOrigins: splitList(getEnv("ACCEPTED_ORIGINS", "*")),
		AdminEmail:      getEnv("ADMIN_EMAIL", ""),
		AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
		AdminName:       getEnv("ADMIN_NAME", "Admin"),
		ReadTimeout:     time.Duration(getInt("READ_TIMEOUT_SECONDS", 15)) * time.Second,
		WriteTimeout:    time.Duration(getInt("WRITE_TIMEOUT_SECONDS", 15)) * time.Second,
		IdleTimeout:     time.Duration(getInt("IDLE_TIMEOUT_SECONDS", 60)) * time.Second,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET must be set")
	}
	return cfg, nil
}

// AllowOrigin reports whether a browser origin may call the API.
func (c Config) AllowOrigin(origin string) bool {
	for _, allowed := range c.AcceptedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// getEnv returns the value of the environment variable key or a fallback value.
func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	asInt, err := strconv.Atoi(s)
	if err != nil {
		log.Warn().Str("key", key).Str("value", s).Msg("not a number, using default")
		return fallback
	}
	return asInt
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
