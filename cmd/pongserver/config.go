package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/veloxity343/ft-transcendence-sub001/ponggame"
)

// Config carries the process settings. Values come from the environment,
// optionally seeded from a .env file, with working defaults for every
// field so a bare `pongserver` starts.
type Config struct {
	Addr     string
	LogLevel string

	Game ponggame.Config
}

func loadConfig() Config {
	// Missing .env is not an error; the environment alone is enough.
	_ = godotenv.Load()

	return Config{
		Addr:     getEnv("PONG_ADDR", ":8080"),
		LogLevel: getEnv("PONG_LOG_LEVEL", "info"),
		Game: ponggame.Config{
			TickInterval:     getDuration("PONG_TICK_INTERVAL", 33*time.Millisecond),
			CountdownSeconds: getInt("PONG_COUNTDOWN_SECONDS", 3),
			WinScore:         getInt("PONG_WIN_SCORE", 3),
			ReconnectGrace:   getDuration("PONG_RECONNECT_GRACE", 30*time.Second),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
