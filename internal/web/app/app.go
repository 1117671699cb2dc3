package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	httpapi "github.com/steepleworks/steeple/internal/web/http"
	"github.com/steepleworks/steeple/internal/web/notify"
	"github.com/steepleworks/steeple/internal/web/pipeline"
	"github.com/steepleworks/steeple/internal/web/service"
	"github.com/steepleworks/steeple/internal/web/store"
	redisdriver "github.com/steepleworks/steeple/internal/web/store/drivers/redis"
	"github.com/steepleworks/steeple/internal/web/store/drivers/sqlite"
	"github.com/steepleworks/steeple/pkg/cryptox"
	"github.com/steepleworks/steeple/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// HKDF purposes for the keys derived from the master secret.
const (
	keyPurposeCSRF   = "csrf-token-signing"
	keyPurposeMarker = "twofactor-marker-signing"
)

// Application wires the store, services, security pipeline and HTTP server
// together.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db   store.Store
	sink notify.Sink

	sessionService      *service.SessionService
	twoFactorService    *service.TwoFactorService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "steeple",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}
	app.sink = notify.NewLogSink(app.logger)

	if app.cfg.MasterSecret == "" {
		// Ephemeral secret: every signed token dies with the process.
		app.cfg.MasterSecret = cryptox.MustGenerateToken(cryptox.TokenSize256)
		app.logger.Warn("STEEPLE_MASTER_SECRET not set, using an ephemeral secret; " +
			"csrf tokens and markers will not survive a restart")
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("steeple starting",
		"port", app.cfg.Port, "version", BuildVersion, "store", app.cfg.StoreDriver)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains in-flight requests, stops the sweeper and closes the
// store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down steeple...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("steeple stopped")
	return nil
}

func (app *Application) initStore() error {
	switch app.cfg.StoreDriver {
	case "sqlite", "":
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		app.db = db
	case "redis":
		app.db = redisdriver.NewStore(goredis.NewClient(&goredis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		}))
	default:
		return fmt.Errorf("unknown store driver %q", app.cfg.StoreDriver)
	}

	if err := app.db.ApplyMigrations(); err != nil {
		_ = app.db.Close()
		return fmt.Errorf("failed to apply store migrations: %w", err)
	}

	app.logger.Info("store initialized", "driver", app.cfg.StoreDriver)
	return nil
}

func (app *Application) initServices() {
	app.sessionService = &service.SessionService{
		Store: app.db,
		TTL:   app.cfg.SessionTTL,
	}
	app.twoFactorService = &service.TwoFactorService{
		Store:        app.db,
		Issuer:       app.cfg.Issuer,
		ChallengeTTL: app.cfg.ChallengeTTL,
	}
	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.sink,
		app.cfg.HousekeepingInterval,
	)
}

func (app *Application) initHTTP() {
	master := []byte(app.cfg.MasterSecret)

	classifier := pipeline.NewClassifier(app.cfg.TwoFactorPrefixes...)
	guard := &pipeline.CSRFGuard{
		Codec:        cryptox.NewCodec(cryptox.MustDeriveKey(master, keyPurposeCSRF, 32), app.cfg.CSRFMaxAge),
		Classifier:   classifier,
		CookieName:   app.cfg.CSRFCookie,
		CookieSecure: app.cfg.CookieSecure,
	}
	marker := &pipeline.Marker{
		Key:          cryptox.MustDeriveKey(master, keyPurposeMarker, 32),
		CookieName:   app.cfg.MarkerCookie,
		CookieSecure: app.cfg.CookieSecure,
		TTL:          app.cfg.MarkerTTL,
	}

	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)
	router.Guard = guard
	router.Marker = marker
	router.Cookies = httpapi.CookieConfig{
		SessionName: app.cfg.SessionCookie,
		Secure:      app.cfg.CookieSecure,
		SessionTTL:  app.cfg.SessionTTL,
	}
	router.SessionService = app.sessionService
	router.TwoFactorService = app.twoFactorService
	router.Pipeline = &pipeline.Pipeline{
		Stages: []pipeline.Stage{
			guard,
			&pipeline.SessionStage{
				Sessions:   app.sessionService,
				Sink:       app.sink,
				CookieName: app.cfg.SessionCookie,
			},
			&pipeline.ClassifyStage{Classifier: classifier},
			&pipeline.TwoFactorGate{
				Users:         app.db.Users(),
				Marker:        marker,
				Sink:          app.sink,
				ChallengePath: "/auth/2fa",
			},
		},
		Next: router.Mux,
		HSTS: app.cfg.HSTS,
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
