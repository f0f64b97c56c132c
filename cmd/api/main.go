package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/tillpoint/pos-gateway/internal/api/http"
	"github.com/tillpoint/pos-gateway/internal/api/http/handlers"
	"github.com/tillpoint/pos-gateway/internal/apiclient"
	"github.com/tillpoint/pos-gateway/internal/auth"
	"github.com/tillpoint/pos-gateway/internal/config"
	"github.com/tillpoint/pos-gateway/internal/events"
	"github.com/tillpoint/pos-gateway/internal/observability"
	"github.com/tillpoint/pos-gateway/internal/persistence"
	"github.com/tillpoint/pos-gateway/internal/repository"
	"github.com/tillpoint/pos-gateway/internal/service"
	"github.com/tillpoint/pos-gateway/internal/session"
	"github.com/tillpoint/pos-gateway/internal/tokenstore"
	"github.com/tillpoint/pos-gateway/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	readiness := map[string]handlers.Pinger{}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var auditRepo repository.SessionAuditRepository
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		auditRepo = repository.NewSessionAuditRepository(pg.PoolHandle())
		readiness["postgres"] = pg
	}

	auditService := service.NewAuditService(dispatcher, auditRepo, logger, metrics)
	auditService.RegisterHandlers()

	store := newTokenStore(ctx, cfg, logger)
	readiness["token_store"] = store

	httpClient := apiclient.NewHTTPClient(cfg.API.Timeout())
	authAPI, err := apiclient.NewAuthAPI(cfg.API.BaseURL, httpClient, cfg.API.LoginPath, cfg.API.RefreshPath)
	if err != nil {
		logger.Fatal("failed to build auth api", zap.Error(err))
	}

	manager, err := session.New(ctx, session.Options{
		Store:        store,
		Auth:         authAPI,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Metrics:      metrics,
		RefreshAhead: cfg.Session.RefreshAhead(),
	})
	if err != nil {
		logger.Fatal("failed to restore session", zap.Error(err))
	}

	client, err := apiclient.New(apiclient.Options{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: httpClient,
		Session:    manager,
		LoginRoute: cfg.Routes.Login,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		logger.Fatal("failed to build api client", zap.Error(err))
	}

	guard := auth.NewGuard(auth.GuardOptions{
		Tokens:         manager,
		ForbiddenRoute: cfg.Routes.Forbidden,
		Dispatcher:     dispatcher,
		Logger:         logger,
		Metrics:        metrics,
	})

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness),
		Session:        handlers.NewSessionHandler(manager, logger),
		Views:          handlers.NewViewsHandler(auditService),
		Proxy:          handlers.NewProxyHandler(client),
		Guard:          guard,
		SessionMW:      auth.NewSessionMiddleware(manager),
		Metrics:        metrics.Handler(),
		LoginRoute:     cfg.Routes.Login,
		ForbiddenRoute: cfg.Routes.Forbidden,
	})

	sweeperDone := worker.StartSessionSweeper(ctx, manager, cfg.Session.SweepInterval(), logger)

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	<-sweeperDone
	_ = app.Shutdown()
}

func newTokenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) tokenstore.Store {
	if cfg.TokenStore.Backend != config.StoreRedis {
		logger.Info("token store", zap.String("backend", config.StoreMemory))
		return tokenstore.NewMemoryStore()
	}
	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	logger.Info("token store", zap.String("backend", config.StoreRedis), zap.String("prefix", cfg.TokenStore.KeyPrefix))
	return tokenstore.NewRedisStore(redis.Client, cfg.TokenStore.KeyPrefix)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
