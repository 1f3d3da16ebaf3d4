// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the server needs to start. Values come from the
// environment; defaults cover local development against a bare MongoDB.
type Config struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	MongoURI       string        `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	RedisURL       string        `env:"REDIS_URL"` // empty means in-memory presence views
	JWTSecret      string        `env:"JWT_SECRET"`
	JWTKeys        string        `env:"JWT_KEYS"`       // optional "kid:secret,kid:secret" rotation set
	JWTActiveKid   string        `env:"JWT_ACTIVE_KID"` // which kid signs new tokens
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	RateLimitRPM   int           `env:"RATE_LIMIT_RPM" envDefault:"120"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"30"`
}

// Load reads a .env file if present, then parses the environment into a
// Config. A missing .env file is not an error; a missing JWT secret is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.JWTSecret == "" && cfg.JWTKeys == "" {
		return nil, errors.New("JWT_SECRET (or JWT_KEYS) must be set")
	}
	return cfg, nil
}

// SigningKeys returns the JWT key set and the active kid. When JWT_KEYS is
// unset the single JWT_SECRET is used under a fixed kid.
func (c *Config) SigningKeys() (map[string]string, string, error) {
	if c.JWTKeys == "" {
		return map[string]string{"default": c.JWTSecret}, "default", nil
	}

	keys := make(map[string]string)
	for _, pair := range strings.Split(c.JWTKeys, ",") {
		kid, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || kid == "" || secret == "" {
			return nil, "", fmt.Errorf("malformed JWT_KEYS entry %q", pair)
		}
		keys[kid] = secret
	}

	active := c.JWTActiveKid
	if active == "" {
		return nil, "", errors.New("JWT_ACTIVE_KID must be set when JWT_KEYS is used")
	}
	if _, ok := keys[active]; !ok {
		return nil, "", fmt.Errorf("JWT_ACTIVE_KID %q not present in JWT_KEYS", active)
	}
	return keys, active, nil
}
