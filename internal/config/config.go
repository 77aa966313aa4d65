package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServiceName string
	LogLevel    string

	DatabaseURL    string
	HTTPListenAddr string

	// DockerHost is the engine socket, e.g. unix:///var/run/docker.sock.
	DockerHost    string
	EngineTimeout time.Duration

	ReconcileInterval time.Duration
	StatsInterval     time.Duration
	// SampleWindow is the number of resource samples retained per container.
	SampleWindow int

	ProxySitesDir  string
	ProxyReloadCmd string
	ProxyDebounce  time.Duration

	// TransitionMaxAttempts bounds retries on a transiently unavailable engine.
	TransitionMaxAttempts int
	SessionTTL            time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:    getEnv("SERVICE_NAME", "stevedored"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
		DockerHost:     getEnv("DOCKER_HOST", "unix:///var/run/docker.sock"),
		ProxySitesDir:  getEnv("PROXY_SITES_DIR", "/etc/nginx/stevedore-sites"),
		ProxyReloadCmd: getEnv("PROXY_RELOAD_CMD", "nginx -s reload"),
	}

	var err error
	if cfg.EngineTimeout, err = getDuration("ENGINE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatsInterval, err = getDuration("STATS_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProxyDebounce, err = getDuration("PROXY_DEBOUNCE", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SampleWindow, err = getInt("SAMPLE_WINDOW", 60); err != nil {
		return nil, err
	}
	if cfg.TransitionMaxAttempts, err = getInt("TRANSITION_MAX_ATTEMPTS", 4); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that everything the daemon needs is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DockerHost == "" {
		return fmt.Errorf("DOCKER_HOST is required")
	}
	if c.SampleWindow < 1 {
		return fmt.Errorf("SAMPLE_WINDOW must be at least 1")
	}
	if c.TransitionMaxAttempts < 1 {
		return fmt.Errorf("TRANSITION_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
