package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"webnotes-server/internal/config"
	"webnotes-server/internal/handler"
	"webnotes-server/internal/logging"
	"webnotes-server/internal/repository"
	"webnotes-server/internal/service"
	"webnotes-server/internal/websocket"
	"webnotes-server/pkg/hash"
	"webnotes-server/pkg/policy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "webnotes-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logging.New(os.Stdout, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	repos := repository.NewPostgresManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return err
	}

	var versionRepo repository.NoteVersionRepository = repository.NopNoteVersionRepository{}
	if cfg.Versions.CouchURL != "" {
		versionRepo, err = repository.NewNoteVersionRepository(ctx, cfg.Versions.CouchURL, cfg.Versions.DBName)
		if err != nil {
			return err
		}
		log.Info(ctx, "note version archive enabled", "db", cfg.Versions.DBName)
	}

	wsManager := websocket.NewManager(websocket.Options{
		MaxConnPerUser: cfg.WebSocket.MaxConnPerUser,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
	}, log)
	go wsManager.Run(ctx)

	clock := clockwork.NewRealClock()

	authService := service.NewAuthService(db, repos, hash.New(hash.DefaultCost), cfg.JWT.Secret, cfg.JWT.Expiration, log)
	userService := service.NewUserService(db, repos)
	lockService := service.NewLockService(db, repos, cfg.Lock.Lease, clock, wsManager, log)
	noteService := service.NewNoteService(db, repos, versionRepo, cfg.Lock.Lease, clock, wsManager, log)

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(lockService, wsManager, log))

	v := policy.NewValidator()
	router := handler.NewRouter(handler.Handlers{
		Auth:      handler.NewAuthHandler(authService, v, log),
		User:      handler.NewUserHandler(userService, authService, v, log),
		Note:      handler.NewNoteHandler(noteService, lockService, v, log),
		WebSocket: handler.NewWebSocketHandler(wsManager, nil, log),
	}, authService, handler.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
	}, log)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting webnotes server", "addr", addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info(shutdownCtx, "server stopped gracefully")
	return nil
}
