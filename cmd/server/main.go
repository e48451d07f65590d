package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/insurge/chatd/api"
	"github.com/insurge/chatd/api/models"
	"github.com/insurge/chatd/auth"
	"github.com/insurge/chatd/auth/db"
	"github.com/insurge/chatd/internal/config"
	"github.com/insurge/chatd/internal/slogging"
)

func main() {
	configFile := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "chatd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := slogging.Get()
	defer func() {
		_ = logger.Close()
	}()

	gormDB, err := db.NewGormDB(gormConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = gormDB.Close()
	}()

	if err := gormDB.DB().AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}

	redisDB, err := db.NewRedisDB(db.RedisConfig{
		Host:     cfg.Database.Redis.Host,
		Port:     cfg.Database.Redis.Port,
		Password: cfg.Database.Redis.Password,
		DB:       cfg.Database.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() {
		_ = redisDB.Close()
	}()

	authService, err := auth.NewService(gormDB.DB(), redisDB, cfg.Auth.JWT)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	registry := api.NewConnectionRegistry(cfg.WebSocket.WriteTimeout)
	store := api.NewGormChatStore(gormDB.DB())
	responder, err := buildResponder(cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(authService, store, registry, responder, cfg)

	addr := net.JoinHostPort(cfg.Server.Interface, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting chatd on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown did not complete cleanly: %v", err)
		}
		registry.CloseAll()
		return nil
	})

	return g.Wait()
}

func gormConfigFrom(cfg *config.Config) db.GormConfig {
	return db.GormConfig{
		Type: db.DatabaseType(cfg.Database.Type),

		PostgresHost:     cfg.Database.Postgres.Host,
		PostgresPort:     cfg.Database.Postgres.Port,
		PostgresUser:     cfg.Database.Postgres.User,
		PostgresPassword: cfg.Database.Postgres.Password,
		PostgresDatabase: cfg.Database.Postgres.Database,
		PostgresSSLMode:  cfg.Database.Postgres.SSLMode,

		SQLHost:     cfg.Database.MySQL.Host,
		SQLPort:     cfg.Database.MySQL.Port,
		SQLUser:     cfg.Database.MySQL.User,
		SQLPassword: cfg.Database.MySQL.Password,
		SQLDatabase: cfg.Database.MySQL.Database,

		SQLitePath: cfg.Database.SQLite.Path,
	}
}

// buildResponder selects the response backend from configuration. The mock
// responder is the default; openai requires an API key.
func buildResponder(cfg *config.Config) (api.Responder, error) {
	var inner api.Responder
	switch cfg.Responder.Provider {
	case "", "mock":
		inner = api.NewMockResponder()
	case "openai":
		llm, err := api.NewLLMResponder(cfg.Responder.OpenAIKey, cfg.Responder.OpenAIModel, cfg.Responder.SystemPrompt)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai responder: %w", err)
		}
		inner = llm
	default:
		return nil, fmt.Errorf("unknown responder provider: %s", cfg.Responder.Provider)
	}
	return api.NewSafeResponder(inner, cfg.Responder.Timeout), nil
}
