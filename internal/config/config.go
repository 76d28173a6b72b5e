package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gamma-omg/icy-auth/internal/pkg/env"
	"golang.org/x/crypto/bcrypt"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTP        httpConfig
	JWT         jwtConfig
	Google      googleConfig
	Store       storeConfig
	Redis       redisConfig
	Lock        lockConfig
	Password    passwordConfig
	UserCache   userCacheConfig
	FrontendURL string
	CORSOrigins []string
	LogLevel    slog.Level
	LogJSON     bool
}

type httpConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type jwtConfig struct {
	Secret    string
	Algorithm string
	Issuer    string
	AccessTTL time.Duration
}

type googleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	ClockSkew    time.Duration
}

type storeConfig struct {
	Driver   string
	Timeout  time.Duration
	Mongo    mongoConfig
	Postgres postgresConfig
}

type mongoConfig struct {
	URI      string
	Database string
}

type postgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// redisConfig enables the shared identity lock when Addr is set.
type redisConfig struct {
	Addr     string
	Password string
	DB       int
}

type lockConfig struct {
	TTL  time.Duration
	Wait time.Duration
}

// userCacheConfig disables the cache when TTL or Size is zero.
type userCacheConfig struct {
	Size int64
	TTL  time.Duration
}

type passwordConfig struct {
	BcryptCost int
}

// FromEnv reads the configuration from the environment. It panics when a required variable is missing or
// malformed.
func FromEnv() Config {
	cfg := Config{
		HTTP: httpConfig{
			ListenAddr:      env.String("HTTP_LISTEN_ADDR", ":8000"),
			ReadTimeout:     env.Duration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    env.Duration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     env.Duration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: env.Duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		JWT: jwtConfig{
			Secret:    env.RequireString("JWT_SECRET"),
			Algorithm: strings.ToUpper(env.OneOf("JWT_ALGORITHM", "hs256", "hs256", "hs384", "hs512")),
			Issuer:    env.String("JWT_ISSUER", "icy-auth"),
			AccessTTL: accessTTL(),
		},
		Google: googleConfig{
			ClientID:     env.RequireString("GOOGLE_CLIENT_ID"),
			ClientSecret: env.String("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  env.String("GOOGLE_REDIRECT_URL", "postmessage"),
			ClockSkew:    env.Duration("GOOGLE_CLOCK_SKEW", 10*time.Second),
		},
		Store: storeConfig{
			Driver:  env.OneOf("STORE_DRIVER", DriverMongo, DriverMongo, DriverPostgres),
			Timeout: env.Duration("STORE_TIMEOUT", 5*time.Second),
		},
		Redis: redisConfig{
			Addr:     env.String("REDIS_ADDR", ""),
			Password: env.String("REDIS_PASSWORD", ""),
			DB:       env.Int("REDIS_DB", 0),
		},
		Lock: lockConfig{
			TTL:  env.Duration("LOCK_TTL", 10*time.Second),
			Wait: env.Duration("LOCK_WAIT", 5*time.Second),
		},
		Password: passwordConfig{
			BcryptCost: env.Int("PASSWORD_BCRYPT_COST", bcrypt.DefaultCost),
		},
		UserCache: userCacheConfig{
			Size: int64(env.Int("USER_CACHE_SIZE", 10000)),
			TTL:  env.Duration("USER_CACHE_TTL", time.Minute),
		},
		FrontendURL: env.String("FRONTEND_URL", "http://localhost:3000"),
		LogLevel:    logLevel(),
		LogJSON:     env.Bool("LOG_JSON", true),
	}
	cfg.CORSOrigins = env.List("CORS_ORIGINS", []string{cfg.FrontendURL})

	switch cfg.Store.Driver {
	case DriverMongo:
		cfg.Store.Mongo = mongoConfig{
			URI:      env.RequireString("MONGODB_URI"),
			Database: env.String("MONGODB_DATABASE", "google-auth"),
		}
	case DriverPostgres:
		cfg.Store.Postgres = postgresConfig{
			Host:     env.String("DB_HOST", "localhost"),
			Port:     env.String("DB_PORT", "5432"),
			User:     env.RequireString("DB_USER"),
			Password: env.RequireString("DB_PASSWORD"),
			Name:     env.String("DB_NAME", "icy_auth"),
		}
	}

	return cfg
}

// accessTTL honours ACCESS_TOKEN_EXPIRE_MINUTES over JWT_ACCESS_TTL when both are set.
func accessTTL() time.Duration {
	if minutes := env.Int("ACCESS_TOKEN_EXPIRE_MINUTES", 0); minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}

	return env.Duration("JWT_ACCESS_TTL", 30*time.Minute)
}

func logLevel() slog.Level {
	switch env.OneOf("LOG_LEVEL", "info", "debug", "info", "warn", "error") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
