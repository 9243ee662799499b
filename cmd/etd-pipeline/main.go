package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/etd-pipeline/api/swagger"
	"github.com/noah-isme/etd-pipeline/internal/bootstrap"
	"github.com/noah-isme/etd-pipeline/internal/handler"
	"github.com/noah-isme/etd-pipeline/internal/middleware"
	"github.com/noah-isme/etd-pipeline/pkg/config"
	"github.com/noah-isme/etd-pipeline/pkg/logger"
	reqidmiddleware "github.com/noah-isme/etd-pipeline/pkg/middleware/requestid"
)

// @title ETD Pipeline API
// @version 1.0.0
// @description Publication, preservation and catalog export pipeline for electronic theses.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Sugar().Fatalw("pipeline stopped", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	p, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer p.Close()

	p.Queue.Start(ctx)
	p.Jobs.RecoverPendingJobs(ctx)
	p.Jobs.StartCleanup(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(p.Metrics))

	handler.Register(r, r.Group(cfg.APIPrefix), handler.Handlers{
		Publication: handler.NewPublicationHandler(p.Stages.Publication, p.Validator),
		Jobs:        handler.NewJobHandler(p.Jobs),
		Files:       handler.NewFileHandler(p.Artifacts),
		Metrics: handler.NewMetricsHandler(p.Metrics, map[string]handler.Pinger{
			"postgres": p.DB.PingContext,
			"redis":    func(ctx context.Context) error { return p.Redis.Ping(ctx).Err() },
		}),
	})
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logr.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
