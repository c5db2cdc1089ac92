package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLength = 32

var ErrMissingSecret = errors.New("JWT_SECRET must be set to at least 32 bytes")

type Config struct {
	Env         string
	Port        int
	CORSOrigins []string

	UserStore    string // memory|postgres
	SessionStore string // memory|redis
	DBURL        string
	DBMaxConns   int32
	RedisAddr    string
	RedisPass    string
	RedisDB      int

	JWTSecret        string
	JWTIssuer        string
	AccessTokenTTL   time.Duration
	SessionTTL       time.Duration
	RememberMeTTL    time.Duration
	BindTokens       bool
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	LoginTimeout     time.Duration
	HashIterations   int
	HashWorkers      int
	SweepInterval    time.Duration
	TOTPIssuer       string

	LoginRateLimit  int
	LoginRateWindow time.Duration

	AdminEmail    string
	AdminPassword string
	AdminName     string

	OTelEndpoint string
}

// Load reads the environment, after an optional .env file. It fails when
// no usable signing secret is configured; there is no fallback secret.
func Load() (Config, error) {
	// .env is a convenience for local runs
	_ = godotenv.Load()

	cfg := Config{
		Env:         getEnv("APP_ENV", "dev"),
		Port:        getEnvInt("PORT", 8080),
		CORSOrigins: getEnvList("CORS_ORIGINS"),

		UserStore:    getEnv("USER_STORE", "memory"),
		SessionStore: getEnv("SESSION_STORE", "memory"),
		DBURL:        buildDBURL(),
		DBMaxConns:   int32(getEnvInt("DB_MAX_CONNS", 5)),
		RedisAddr:    getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPass:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:      getEnvInt("REDIS_DB", 0),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTIssuer:        getEnv("JWT_ISSUER", "authcore"),
		AccessTokenTTL:   getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		SessionTTL:       getEnvDuration("SESSION_TTL", 24*time.Hour),
		RememberMeTTL:    getEnvDuration("REMEMBER_ME_TTL", 30*24*time.Hour),
		BindTokens:       getEnvBool("BIND_TOKENS_TO_SESSION", true),
		MaxLoginAttempts: getEnvInt("MAX_LOGIN_ATTEMPTS", 5),
		LockoutDuration:  getEnvDuration("LOCKOUT_DURATION", 30*time.Minute),
		LoginTimeout:     getEnvDuration("LOGIN_TIMEOUT", 10*time.Second),
		HashIterations:   getEnvInt("HASH_ITERATIONS", 10000),
		HashWorkers:      getEnvInt("HASH_WORKERS", 0),
		SweepInterval:    getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		TOTPIssuer:       getEnv("TOTP_ISSUER", "authcore"),

		LoginRateLimit:  getEnvInt("LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: getEnvDuration("LOGIN_RATE_WINDOW", time.Minute),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminName:     getEnv("ADMIN_NAME", "Administrator"),

		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.JWTSecret) < minSecretLength {
		return ErrMissingSecret
	}

	switch c.UserStore {
	case "memory", "postgres":
	default:
		return fmt.Errorf("USER_STORE must be memory or postgres, got %q", c.UserStore)
	}

	switch c.SessionStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("SESSION_STORE must be memory or redis, got %q", c.SessionStore)
	}

	if c.AccessTokenTTL <= 0 || c.SessionTTL <= 0 || c.RememberMeTTL <= 0 {
		return errors.New("token and session TTLs must be positive")
	}
	if c.MaxLoginAttempts <= 0 || c.LockoutDuration <= 0 {
		return errors.New("MAX_LOGIN_ATTEMPTS and LOCKOUT_DURATION must be positive")
	}
	return nil
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "authcore")
	pass := getEnv("DB_PASSWORD", "authcore")
	name := getEnv("DB_NAME", "authcore")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}
		return num
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "15m") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
