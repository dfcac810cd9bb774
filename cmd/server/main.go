package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/erp/postingengine/docs"
	"github.com/erp/postingengine/internal/bootstrap"
	"github.com/erp/postingengine/internal/infrastructure/config"
	"github.com/erp/postingengine/internal/interfaces/http/handler"
	"github.com/erp/postingengine/internal/interfaces/http/middleware"
	"github.com/erp/postingengine/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//go:generate swag init -d ../../ -g cmd/server/main.go -o ../../docs --parseInternal

//	@title			Posting Engine API
//	@version		1.0
//	@description	Product governance and transactional stock posting

//	@host		localhost:8080
//	@BasePath	/api/v1

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log, logs, err := bootstrap.NewLogger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting posting engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	app, err := bootstrap.New(ctx, cfg, log, logs)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	app.StartBackground(bgCtx)

	engine, err := newHTTPEngine(cfg, app)
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	log.Info("Server exited")
}

func newHTTPEngine(cfg *config.Config, app *bootstrap.App) (*gin.Engine, error) {
	if err := middleware.SetupValidator(); err != nil {
		return nil, err
	}

	mode := gin.DebugMode
	if cfg.App.Env == "production" {
		mode = gin.ReleaseMode
	}
	engine, err := router.NewEngine(router.EngineConfig{
		Mode:           mode,
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, app.Logger)
	if err != nil {
		return nil, err
	}

	sqlDB, err := app.DB.DB.DB()
	if err != nil {
		return nil, err
	}

	retry := handler.RetryPolicy{
		MaxAttempts:     cfg.Posting.RetryMaxAttempts,
		InitialInterval: cfg.Posting.RetryInitialInterval,
		MaxInterval:     cfg.Posting.RetryMaxInterval,
	}

	r := router.NewRouter(engine,
		router.WithAPIVersion("v1"),
		router.WithSwagger(middleware.SwaggerConfig{
			Enabled:    cfg.Swagger.Enabled,
			AllowedIPs: cfg.Swagger.AllowedIPs,
		}))
	deps := map[string]handler.Pinger{"database": sqlDB}
	if app.Redis != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		})
	}
	r.RegisterPublic(handler.NewSystemHandler(version, deps))
	r.Register(handler.NewCatalogHandler(app.Governance)).
		Register(handler.NewDocumentHandler(app.Documents, app.Posting, app.Validator, retry)).
		Register(handler.NewAuditHandler(app.Audit))
	r.Setup()

	return engine, nil
}
