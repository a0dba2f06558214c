package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DatabaseURL string
	// AuthToken is the shared opaque token callers must present; empty
	// disables the check for local development.
	AuthToken     string
	TicketTimeout time.Duration
	SessionGrace  time.Duration
	Debug         bool
}

// Load reads configuration from the environment, with .env as a convenience
// overlay for development.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:          getenv("PONG_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		AuthToken:     os.Getenv("PONG_AUTH_TOKEN"),
		TicketTimeout: getenvDuration("PONG_TICKET_TIMEOUT", 2*time.Minute),
		SessionGrace:  getenvDuration("PONG_SESSION_GRACE", 30*time.Second),
		Debug:         os.Getenv("PONG_DEBUG") == "true",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
