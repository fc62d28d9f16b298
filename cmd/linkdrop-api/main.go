package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/auth"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/config"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/creators"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/database"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/logging"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "linkdrop-api",
		Short: "linkdrop sharing backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	flags.String("links-backend", defaults.GetString("links.backend"), "Link storage backend (database, redis)")
	flags.Int("active-limit", defaults.GetInt("links.active_limit"), "Maximum active links per creator")
	flags.Int("reap-interval-seconds", defaults.GetInt("links.reap_interval_seconds"), "Expired link purge interval, 0 disables")
	flags.Bool("cache-enabled", defaults.GetBool("links.cache_enabled"), "Cache code lookups in memory")
	flags.String("redis-address", defaults.GetString("redis.address"), "Redis address")
	flags.Int("redis-db", defaults.GetInt("redis.db"), "Redis database index")
	flags.String("signing-secret", "", "Token signing secret (overrides env)")
	flags.Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Creator token TTL in minutes")
	flags.Float64("lookups-per-second", defaults.GetFloat64("ratelimit.lookups_per_second"), "Code lookups allowed per client per second")
	flags.Int("lookup-burst", defaults.GetInt("ratelimit.burst"), "Code lookup burst per client")
	flags.StringSlice("cors-allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Allowed CORS origins")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "links.backend", "links-backend")
	bindFlag(cmd, "links.active_limit", "active-limit")
	bindFlag(cmd, "links.reap_interval_seconds", "reap-interval-seconds")
	bindFlag(cmd, "links.cache_enabled", "cache-enabled")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "redis.db", "redis-db")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "ratelimit.lookups_per_second", "lookups-per-second")
	bindFlag(cmd, "ratelimit.burst", "lookup-burst")
	bindFlag(cmd, "cors.allowed_origins", "cors-allowed-origins")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	linkStore, closeLinks, err := buildLinkStore(appConfig, db, logger)
	if err != nil {
		return err
	}
	defer closeLinks()

	registry, err := creators.NewRegistry(creators.RegistryConfig{
		Database:   db,
		IDProvider: creators.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Creators:     registry,
		Links:        linkStore,
		LookupLimiter: server.NewLookupLimiter(server.LookupLimiterConfig{
			RequestsPerSecond: appConfig.LookupsPerSecond,
			Burst:             appConfig.LookupBurst,
		}),
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if purger, ok := links.PurgerOf(linkStore); ok {
		reaper := links.NewReaper(links.ReaperConfig{
			Purger:   purger,
			Interval: appConfig.ReapInterval,
			Logger:   logger,
		})
		go reaper.Run(signalCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.String("links_backend", appConfig.LinksBackend),
			zap.Bool("cache_enabled", appConfig.CacheEnabled))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildLinkStore selects the configured backend and optionally wraps it with the lookup cache.
func buildLinkStore(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (links.RemoteStore, func(), error) {
	closers := make([]func(), 0, 2)
	closeAll := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			closers[index]()
		}
	}

	var store links.RemoteStore
	switch appConfig.LinksBackend {
	case config.LinksBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		closers = append(closers, func() { _ = client.Close() })
		repository, err := links.NewRedisRepository(links.RedisRepositoryConfig{
			Client:      client,
			ActiveLimit: appConfig.ActiveLimit,
			Logger:      logger,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		store = repository
	default:
		repository, err := links.NewGormRepository(links.GormRepositoryConfig{
			Database:    db,
			ActiveLimit: appConfig.ActiveLimit,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		store = repository
	}

	if appConfig.CacheEnabled {
		cached, err := links.NewCachedRepository(links.CachedRepositoryConfig{Backend: store, Logger: logger})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, cached.Close)
		store = cached
	}
	return store, closeAll, nil
}
