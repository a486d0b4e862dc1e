// Package config loads ghpulse's configuration surface from the
// environment, generalizing the teacher's env-var-with-typed-defaults
// pattern to the full surface §6 enumerates.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the process-wide configuration. Values are read once at
// startup and passed explicitly to C4/C5/C6 at construction (§9's
// anti-singleton note) rather than read from globals at call time.
type Config struct {
	// DatabaseURL is database_path generalized to a Postgres DSN (effect:
	// where C2 persists).
	DatabaseURL string
	// GitHubToken is the optional bearer credential, passed only to C3/C6.
	GitHubToken string
	// UserAgent identifies ghpulse in outbound requests.
	UserAgent string
	// PollInterval is the default ingestion cadence; the coordinator raises
	// it to the server-suggested minimum when one is offered.
	PollInterval time.Duration
	// MaxEventsPerFetch caps events kept per fetch call; zero means no cap.
	MaxEventsPerFetch int
	// TargetRepositories, when non-empty, makes ingestion fan out per-repo
	// instead of polling the global feed.
	TargetRepositories []string
	// APIHost and APIPort configure the external HTTP listener.
	APIHost string
	APIPort string
	// LogLevel is observability only; it has no behavioral effect.
	LogLevel string
	// Env holds ENV (default "development"). No other package reads this
	// field; the external API's CORS middleware reads ENV from the
	// environment itself, where an unset ENV is not treated as development.
	Env string
}

// Load reads configuration from environment variables, returning an error
// if a required variable is missing. Only DATABASE_URL is required;
// GITHUB_TOKEN is optional and may be empty.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	ghToken := os.Getenv("GITHUB_TOKEN")

	maxEvents, err := getInt("MAX_EVENTS_PER_FETCH", 0)
	if err != nil {
		return nil, err
	}
	pollSeconds, err := getInt("POLL_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:        dbURL,
		GitHubToken:        ghToken,
		UserAgent:          getEnv("USER_AGENT", "ghpulse/1.0"),
		PollInterval:       time.Duration(pollSeconds) * time.Second,
		MaxEventsPerFetch:  maxEvents,
		TargetRepositories: getList("TARGET_REPOSITORIES"),
		APIHost:            getEnv("API_HOST", "0.0.0.0"),
		APIPort:            getEnv("API_PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Env:                getEnv("ENV", "development"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
