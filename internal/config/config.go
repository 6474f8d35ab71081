package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Address     string        // Listen address
	Port        int           // Listen port
	Workers     uint          // Connection reader pool size
	ConnTimeout time.Duration // Read deadline per message poll
	LogLevel    zerolog.Level
}

func Default() Config {
	return Config{
		Address:     "0.0.0.0",
		Port:        9001,
		Workers:     10,
		ConnTimeout: time.Second,
		LogLevel:    zerolog.InfoLevel,
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and the
// environment. Priority: ENV > .env file > defaults. Malformed values keep
// the default.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Loading is optional, a missing file is not an error.
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("FENRIR_ADDRESS"); addr != "" {
		cfg.Address = addr
	}
	if port, ok := lookupInt("FENRIR_PORT"); ok && port > 0 && port <= 65535 {
		cfg.Port = port
	}
	if workers, ok := lookupInt("FENRIR_WORKERS"); ok && workers > 0 {
		cfg.Workers = uint(workers)
	}
	if ms, ok := lookupInt("FENRIR_CONN_TIMEOUT_MS"); ok && ms > 0 {
		cfg.ConnTimeout = time.Duration(ms) * time.Millisecond
	}
	if lvl := os.Getenv("FENRIR_LOG_LEVEL"); lvl != "" {
		level, err := zerolog.ParseLevel(lvl)
		if err != nil {
			log.Warn().Err(err).Str("value", lvl).Msg("ignoring FENRIR_LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}

	return cfg
}

func lookupInt(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Str("value", value).Msg("ignoring malformed setting")
		return 0, false
	}
	return n, true
}
