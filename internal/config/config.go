package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the accessd binary needs from the environment.
type Config struct {
	AppPort int

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	RedisHost     string
	RedisPort     int
	RedisPassword string

	AmqpURI string

	// JWTSecret signs root-authority tokens.
	JWTSecret string
	TokenTTL  time.Duration

	// RootOperators maps operator name to the bcrypt hash of their
	// credential, parsed from ROOT_OPERATORS ("alice:$2a$...;bob:$2a$...").
	RootOperators map[string]string

	LockoutThreshold int
	SweepInterval    time.Duration
	CacheTTL         time.Duration

	// ReadOnlyOpen exposes list/detail endpoints without an authority
	// token.
	ReadOnlyOpen bool
}

// LoadConfig reads configuration from the environment, loading a .env
// file first if one is present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppPort:          envInt("APP_PORT", 8080),
		PostgresHost:     envString("POSTGRES_HOST", "localhost"),
		PostgresPort:     envInt("POSTGRES_PORT", 5432),
		PostgresUser:     envString("POSTGRES_USER", "tempaccess"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       envString("POSTGRES_DB", "tempaccess"),
		RedisHost:        envString("REDIS_HOST", "localhost"),
		RedisPort:        envInt("REDIS_PORT", 6379),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		AmqpURI:          os.Getenv("AMQP_URI"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		TokenTTL:         envDuration("TOKEN_TTL", 15*time.Minute),
		LockoutThreshold: envInt("LOCKOUT_THRESHOLD", 3),
		SweepInterval:    envDuration("SWEEP_INTERVAL", time.Minute),
		CacheTTL:         envDuration("CACHE_TTL", 30*time.Minute),
		ReadOnlyOpen:     envBool("READONLY_OPEN", false),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	operators, err := parseOperators(os.Getenv("ROOT_OPERATORS"))
	if err != nil {
		return nil, err
	}
	cfg.RootOperators = operators

	return cfg, nil
}

// parseOperators parses "name:bcrypthash" pairs separated by semicolons.
func parseOperators(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("ROOT_OPERATORS is required")
	}

	operators := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, hash, ok := strings.Cut(pair, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("malformed ROOT_OPERATORS entry %q", pair)
		}
		operators[name] = hash
	}
	if len(operators) == 0 {
		return nil, fmt.Errorf("ROOT_OPERATORS is required")
	}
	return operators, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
