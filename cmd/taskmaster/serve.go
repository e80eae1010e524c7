package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskmaster/api"
	"taskmaster/assistant"
	"taskmaster/board"
	"taskmaster/client"
	"taskmaster/config"
	"taskmaster/storage"
)

const serviceSubject = "taskmaster"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task store, board and chat API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeStore, err := storage.Open(ctx, storageOptions(cfg))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var rc *redis.Client
	if cfg.Redis.ConnectionString != "" {
		opts, err := config.ParseRedis(cfg.Redis.ConnectionString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
		backend = storage.NewCache(backend, rc, cfg.Storage.BoardID, cfg.Redis.CacheTTL)
	} else {
		log.Info("no redis configured: cache, change feed and idempotency keys disabled")
	}
	feed := board.NewChangeFeed(rc, cfg.Redis.Channel, logger)

	var auth *api.Auth
	if cfg.Auth.Enabled() {
		auth, err = newAuth(cfg.Auth)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	store := client.New(storeURL(cfg, ln.Addr()), storeToken(cfg), cfg.Store.Timeout)
	rec := board.NewReconciler(store, logger)

	deps := api.Deps{
		Tasks:     storage.NewTaskService(backend),
		Publisher: feed,
		Board:     rec,
		KeepAlive: cfg.SSEKeepAlive,
	}
	if auth != nil {
		deps.Auth = auth
	}
	if rc != nil {
		deps.Deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
	}
	if chat, err := newAssistant(ctx, cfg, store, rec, logger); err != nil {
		log.WithError(err).Warn("chat disabled")
	} else {
		deps.Chat = chat
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(middleware.Decompress())
	api.Register(e, deps, logger)

	e.Listener = ln
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start("") }()
	log.Infof("listening on %s", ln.Addr())

	if err := rec.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial board load")
	}
	if rc != nil {
		go feed.Follow(ctx, rec)
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func storageOptions(cfg config.Config) storage.Options {
	return storage.Options{
		Driver:           cfg.Storage.Driver,
		ConnectionString: cfg.Storage.ConnectionString,
		TasksTable:       cfg.Storage.TasksTable,
		BoardID:          cfg.Storage.BoardID,
		SQLitePath:       cfg.Storage.SQLitePath,
		PostgresURL:      cfg.Storage.PostgresURL,
	}
}

func newAuth(cfg config.Auth) (*api.Auth, error) {
	if cfg.Secret != "" {
		return api.NewAuth(nil, []byte(cfg.Secret), cfg.Audience, cfg.Issuer), nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, nil, cfg.Audience, cfg.Issuer), nil
}

// storeURL defaults to this server's own listener.
func storeURL(cfg config.Config, addr net.Addr) string {
	if cfg.Store.URL != "" {
		return cfg.Store.URL
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	return "http://" + net.JoinHostPort("127.0.0.1", port)
}

func storeToken(cfg config.Config) string {
	if cfg.Store.Token != "" || cfg.Auth.Secret == "" {
		return cfg.Store.Token
	}
	token, err := api.MintToken([]byte(cfg.Auth.Secret), serviceSubject, cfg.Auth.Audience, cfg.Auth.Issuer, 0)
	if err != nil {
		log.Fatalf("mint store token: %v", err)
	}
	return token
}

func newAssistant(ctx context.Context, cfg config.Config, store *client.TaskStore, rec *board.Reconciler, logger *log.Logger) (*assistant.Assistant, error) {
	gen, err := assistant.NewGenerator(ctx, assistant.ProviderConfig{
		Driver:  cfg.Model.Driver,
		Model:   cfg.Model.Name,
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
		Timeout: cfg.Model.Timeout,
	})
	if err != nil {
		return nil, err
	}
	contexts := assistant.NewContextBuilder(store, logger)
	contexts.MaxTasks = cfg.Assistant.MaxTasks
	contexts.MaxTitleRunes = cfg.Assistant.MaxTitleRunes
	dispatcher := assistant.NewDispatcher(store)
	dispatcher.BulkLimit = cfg.Assistant.BulkLimit
	return assistant.New(
		contexts,
		assistant.NewResolver(gen),
		assistant.NewValidator(cfg.Assistant.Placeholders...),
		dispatcher,
		rec,
		assistant.NewTranscript(cfg.Assistant.TranscriptLimit),
		logger,
	), nil
}
