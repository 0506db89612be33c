package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/conversation"
	"github.com/chatrelay/internal/delivery"
	"github.com/chatrelay/internal/dispatch"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/messaging"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/startup"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/storage/memory"
	"github.com/chatrelay/internal/ws"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep all data in process memory (no PostgreSQL)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	ctx := context.Background()

	var store storage.ChatStore
	if *inMemory {
		logger.Info("using in-memory stores; data is lost on exit")
		store = memory.NewChatStore()
	} else {
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			logger.Errorf("parse db config: %v", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 4

		pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second, "")
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer pool.Close()

		migCtx, migCancel := context.WithTimeout(ctx, 30*time.Second)
		err = startup.Migrate(migCtx, pool)
		migCancel()
		if err != nil {
			logger.Errorf("migrations: %v", err)
			os.Exit(1)
		}
		if *migrate {
			return
		}
		logger.Info("database connected, migrations applied")
		store = repository.New(pool)
	}

	tokens, err := startup.TokenStore(ctx, cfg.Redis.URL, 30*time.Second, "")
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer tokens.Close()

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	resolver := auth.NewResolver(authenticator, tokens, store)

	registry := presence.NewRegistry()
	dispatcher := dispatch.New(registry)
	convs := conversation.New(store, store, store, dispatcher)
	msgs := messaging.New(convs, store, dispatcher)
	deliv := delivery.New(store, store, dispatcher)

	hubCtx, hubCancel := context.WithCancel(ctx)
	hub := ws.NewHub(ws.Services{
		Registry:      registry,
		Dispatcher:    dispatcher,
		Conversations: convs,
		Messages:      msgs,
		Delivery:      deliv,
		Users:         store,
	}, wsSettings(cfg))
	reaper := presence.NewReaper(registry, cfg.Presence.ReaperInterval, cfg.Presence.IdleThreshold)

	var bgWg sync.WaitGroup
	bgWg.Add(2)
	go func() {
		defer bgWg.Done()
		hub.Run(hubCtx)
	}()
	go func() {
		defer bgWg.Done()
		reaper.Run(hubCtx)
	}()

	r := newRouter(cfg, routerDeps{
		resolver:   resolver,
		tokens:     tokens,
		users:      store,
		registry:   registry,
		dispatcher: dispatcher,
		convs:      convs,
		msgs:       msgs,
		delivery:   deliv,
		hub:        hub,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	bgWg.Wait()
	logger.Info("hub and reaper stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func wsSettings(cfg *config.Config) ws.Settings {
	s := ws.DefaultSettings()
	if cfg.MaxWSConnections > 0 {
		s.MaxConns = cfg.MaxWSConnections
	}
	if cfg.WSSendBufferSize > 0 {
		s.SendBufSize = cfg.WSSendBufferSize
	}
	if cfg.WSWriteTimeout > 0 {
		s.WriteWait = time.Duration(cfg.WSWriteTimeout) * time.Second
	}
	if cfg.WSPongTimeout > 0 {
		s.PongWait = time.Duration(cfg.WSPongTimeout) * time.Second
	}
	if cfg.WSMaxMessageSize > 0 {
		s.MaxMessageSize = int64(cfg.WSMaxMessageSize)
	}
	if cfg.WSEventsPerSecond > 0 {
		s.EventsPerSecond = float64(cfg.WSEventsPerSecond)
	}
	if cfg.WSEventBurst > 0 {
		s.EventBurst = cfg.WSEventBurst
	}
	return s
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatrelay"
		password = "chatrelay_secret"
		database = "chatrelay"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
