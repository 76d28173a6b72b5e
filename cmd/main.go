package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gamma-omg/icy-auth/internal/cache"
	"github.com/gamma-omg/icy-auth/internal/config"
	"github.com/gamma-omg/icy-auth/internal/lock"
	"github.com/gamma-omg/icy-auth/internal/oauth"
	"github.com/gamma-omg/icy-auth/internal/password"
	"github.com/gamma-omg/icy-auth/internal/pkg/env"
	"github.com/gamma-omg/icy-auth/internal/pkg/middleware"
	"github.com/gamma-omg/icy-auth/internal/pkg/router"
	"github.com/gamma-omg/icy-auth/internal/provider"
	"github.com/gamma-omg/icy-auth/internal/rest"
	"github.com/gamma-omg/icy-auth/internal/service"
	"github.com/gamma-omg/icy-auth/internal/store"
	"github.com/gamma-omg/icy-auth/internal/token"
)

func run(ctx context.Context) error {
	cfg := config.FromEnv()
	slog.SetDefault(newLogger(cfg))
	slog.Info("starting auth service", "store", cfg.Store.Driver)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open user store: %w", err)
	}
	defer closeStore()

	checks := []rest.APIOption{
		rest.WithFrontendURL(cfg.FrontendURL),
		rest.WithReadyCheck("store", st.Ping),
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Addr != "" {
		rl := lock.NewRedis(lock.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Lock.TTL,
		})
		defer rl.Close()

		locker = rl
		checks = append(checks, rest.WithReadyCheck("redis", rl.Ping))
	}

	auth := oauth.NewAuthenticator()
	if err := registerProviders(ctx, auth, cfg); err != nil {
		return fmt.Errorf("failed to register oauth providers: %w", err)
	}

	hasher := password.NewHasher(cfg.Password.BcryptCost)
	tokens, err := token.NewJWTIssuer(token.JwtConfig{
		Secret:    token.NewSecretString(cfg.JWT.Secret),
		Algorithm: cfg.JWT.Algorithm,
		Issuer:    cfg.JWT.Issuer,
		TTL:       cfg.JWT.AccessTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	slog.Info("credentials configured",
		"jwt_algorithm", cfg.JWT.Algorithm,
		"token_ttl", tokens.TTL(),
		"bcrypt_cost", hasher.Cost())

	opts := []service.AuthOption{
		service.WithAuthenticator(auth),
		service.WithStore(st),
		service.WithAccessToken(tokens),
		service.WithHasher(hasher),
		service.WithLocker(locker),
		service.WithLockWait(cfg.Lock.Wait),
	}
	if cfg.UserCache.TTL > 0 && cfg.UserCache.Size > 0 {
		users := cache.NewUsers(cfg.UserCache.Size, cfg.UserCache.TTL)
		defer users.Close()

		opts = append(opts, service.WithUserCache(users))
	}

	srv := service.NewAuth(opts...)

	root := router.New()
	root.Use(middleware.Log(), middleware.Recover(), middleware.CORS(cfg.CORSOrigins...))
	root.Handle("/", rest.NewAPI(srv, tokens, checks...))

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Handler:      root,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := store.NewPostgresDB(store.PostgresConfig{
			Host:     cfg.Store.Postgres.Host,
			Port:     cfg.Store.Postgres.Port,
			User:     cfg.Store.Postgres.User,
			Password: cfg.Store.Postgres.Password,
			DB:       cfg.Store.Postgres.Name,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}

		if err := store.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}

		return store.NewPostgresStore(db, cfg.Store.Timeout), func() { _ = db.Close() }, nil

	default:
		client, err := store.NewMongoClient(ctx, cfg.Store.Mongo.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}

		disconnect := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				slog.Warn("failed to disconnect from mongo", "error", err)
			}
		}

		ms := store.NewMongoStore(client.Database(cfg.Store.Mongo.Database), cfg.Store.Timeout)
		if err := ms.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("create mongo indexes: %w", err)
		}

		return ms, disconnect, nil
	}
}

func registerProviders(ctx context.Context, auth *oauth.Authenticator, cfg config.Config) error {
	prvGoogle, err := provider.NewGoogle(ctx, provider.GoogleConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		ClockSkew:    cfg.Google.ClockSkew,
	})
	if err != nil {
		return fmt.Errorf("failed to create google oauth provider: %w", err)
	}

	return auth.Use(service.GoogleProvider, prvGoogle)
}

func main() {
	if err := env.Load(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("auth service terminated with error", "error", err)
		os.Exit(1)
	}
}
