// Package bootstrap wires the pipeline's stores, stages and worker pool from
// configuration. The HTTP server and the operator CLI share it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/repository"
	"github.com/noah-isme/etd-pipeline/internal/service"
	"github.com/noah-isme/etd-pipeline/pkg/cache"
	"github.com/noah-isme/etd-pipeline/pkg/channel"
	"github.com/noah-isme/etd-pipeline/pkg/config"
	"github.com/noah-isme/etd-pipeline/pkg/database"
	"github.com/noah-isme/etd-pipeline/pkg/jobs"
	"github.com/noah-isme/etd-pipeline/pkg/notify"
	"github.com/noah-isme/etd-pipeline/pkg/storage"
)

// transientPrefixes hold exports swept by artifact cleanup; preservation and
// vendor batches are kept.
var transientPrefixes = []string{"marc", "dspace"}

// Pipeline holds every wired component.
type Pipeline struct {
	DB        *sqlx.DB
	Redis     *redis.Client
	Theses    *repository.ThesisRepository
	Artifacts *service.ArtifactService
	Metrics   *service.MetricsService
	Validator *validator.Validate
	Queue     *jobs.Queue
	Jobs      *service.JobService
	Stages    service.Stages
}

// New connects to Postgres and Redis and builds the pipeline. The queue is
// wired but not started.
func New(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*Pipeline, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	store, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		db.Close()  //nolint:errcheck
		rdb.Close() //nolint:errcheck
		return nil, fmt.Errorf("init storage: %w", err)
	}

	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	artifacts := service.NewArtifactService(store, signer, service.ArtifactConfig{
		DownloadBaseURL: cfg.PublicBaseURL + cfg.APIPrefix,
		ResultTTL:       cfg.Storage.ArtifactTTL,
	}, logr, nil)

	theses := repository.NewThesisRepository(db)
	jobRepo := repository.NewJobRepository(db)
	locks := repository.NewLockRepository(rdb, cfg.Locks.TTL, logr)
	notifier := notify.NewService(cfg.Notifications, logr)
	metrics := service.NewMetricsService()
	validate := validator.New()

	router := jobs.NewRouter()
	queue := jobs.NewQueue("pipeline", router.Handle, jobs.QueueConfig{
		Workers:    cfg.Queue.Workers,
		BufferSize: cfg.Queue.BufferSize,
		MaxRetries: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
		Logger:     logr,
	})
	jobService := service.NewJobService(jobRepo, queue, theses, artifacts, validate, service.JobServiceConfig{
		StaleAfter:      cfg.Queue.StaleAfter,
		CleanupInterval: cfg.Storage.CleanupInterval,
		CleanupPrefixes: transientPrefixes,
	}, logr)

	stages := service.Stages{
		Publication: service.NewPublicationService(service.PublicationDeps{
			Theses:    theses,
			Artifacts: artifacts,
			Publisher: channel.NewPublisher(rdb),
			Locks:     locks,
			Jobs:      jobService,
			Metrics:   metrics,
		}, cfg.DSpace, logr),
		Reconcile: service.NewReconcileService(service.ReconcileDeps{
			Consumer: channel.NewConsumer(rdb, channel.ConsumerConfig{
				Stream:    cfg.DSpace.ResultStream,
				Group:     cfg.DSpace.ConsumerGroup,
				Consumer:  cfg.DSpace.ConsumerName,
				ClaimIdle: cfg.DSpace.ClaimIdle,
			}),
			Theses:   theses,
			Locks:    locks,
			Reports:  artifacts,
			Notifier: notifier,
			Metrics:  metrics,
		}, cfg.DSpace, logr),
		Preservation: service.NewPreservationService(service.PreservationDeps{
			Theses:    theses,
			Payloads:  repository.NewPayloadRepository(db),
			Artifacts: artifacts,
			Locks:     locks,
			Notifier:  notifier,
			Metrics:   metrics,
		}, cfg.Archivematica, cfg.DSpace.HandleBaseURL, logr),
		Proquest: service.NewProquestExportService(service.ProquestDeps{
			Theses:     theses,
			Candidates: theses,
			Batches:    repository.NewProquestRepository(db),
			Artifacts:  artifacts,
			Notifier:   notifier,
			Metrics:    metrics,
		}, logr),
		Marc: service.NewMarcService(theses, artifacts, cfg.Marc, cfg.DSpace.HandleBaseURL, logr),
	}
	service.NewPipelineWorker(jobRepo, stages.Runners(), cfg.Queue.MaxRetries, metrics, logr).Attach(router)

	return &Pipeline{
		DB:        db,
		Redis:     rdb,
		Theses:    theses,
		Artifacts: artifacts,
		Metrics:   metrics,
		Validator: validate,
		Queue:     queue,
		Jobs:      jobService,
		Stages:    stages,
	}, nil
}

// Close stops the worker pool and releases the database and Redis connections.
func (p *Pipeline) Close() {
	p.Queue.Stop()
	p.Redis.Close() //nolint:errcheck
	p.DB.Close()    //nolint:errcheck
}
