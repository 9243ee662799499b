package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/dto"
	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/internal/repository"
	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
	"github.com/noah-isme/etd-pipeline/pkg/jobs"
	"github.com/noah-isme/etd-pipeline/pkg/logger"
	"github.com/noah-isme/etd-pipeline/pkg/middleware/requestid"
)

type pipelineJobStore interface {
	Create(ctx context.Context, job *models.PipelineJob) error
	GetByID(ctx context.Context, id string) (*models.PipelineJob, error)
	Update(ctx context.Context, id string, params repository.UpdateJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.PipelineJob, error)
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type artifactCleaner interface {
	Cleanup(prefix string)
}

type thesisSelector interface {
	ListIDsByStatus(ctx context.Context, status models.PublicationStatus, limit int) ([]int64, error)
	ListIDsByGraduation(ctx context.Context, status models.PublicationStatus, graduation time.Time) ([]int64, error)
}

// JobService persists pipeline jobs and hands them to the worker pool.
type JobService struct {
	repo      pipelineJobStore
	queue     jobDispatcher
	selector  thesisSelector
	artifacts artifactCleaner
	validator *validator.Validate
	cfg       JobServiceConfig
	logger    *zap.Logger
}

// JobServiceConfig governs recovery and artifact cleanup.
type JobServiceConfig struct {
	// StaleAfter is how long a job may sit in PROCESSING before recovery
	// assumes its worker died.
	StaleAfter      time.Duration
	CleanupInterval time.Duration
	CleanupPrefixes []string
}

// NewJobService constructs the job service.
func NewJobService(repo pipelineJobStore, queue jobDispatcher, selector thesisSelector, artifacts artifactCleaner, validate *validator.Validate, cfg JobServiceConfig, logger *zap.Logger) *JobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	return &JobService{
		repo:      repo,
		queue:     queue,
		selector:  selector,
		artifacts: artifacts,
		validator: validate,
		cfg:       cfg,
		logger:    logger,
	}
}

// Submit resolves the selection and queues a job for it. Stages that act on
// explicit theses reject an empty selection.
func (s *JobService) Submit(ctx context.Context, jobType models.JobType, sel dto.ThesisSelection) (*models.PipelineJob, error) {
	if err := s.validator.Struct(sel); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid thesis selection")
	}
	ids, err := s.Resolve(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 && requiresTheses(jobType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "selection matched no theses")
	}
	return s.CreateJob(ctx, jobType, models.JobParams{ThesisIDs: ids})
}

func requiresTheses(jobType models.JobType) bool {
	return jobType != models.JobTypeReconcile && jobType != models.JobTypeProquestExport
}

// Resolve turns a selection into thesis ids. Explicit ids win over a graduation
// period, which wins over a bare status. An empty selection resolves to nil.
func (s *JobService) Resolve(ctx context.Context, sel dto.ThesisSelection) ([]int64, error) {
	if len(sel.ThesisIDs) > 0 {
		return sel.ThesisIDs, nil
	}
	if sel.Status == "" && sel.GraduationPeriod == "" {
		return nil, nil
	}
	if s.selector == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "selection by status or period is not available")
	}
	status := models.PublicationStatusPublished
	if sel.Status != "" {
		parsed, err := models.ParsePublicationStatus(sel.Status)
		if err != nil {
			return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "unknown publication status")
		}
		status = parsed
	}
	if strings.TrimSpace(sel.GraduationPeriod) != "" {
		graduation, err := dateparse.ParseIn(strings.TrimSpace(sel.GraduationPeriod), time.UTC)
		if err != nil {
			return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "unrecognised graduation period")
		}
		ids, err := s.selector.ListIDsByGraduation(ctx, status, graduation)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to select theses")
		}
		return ids, nil
	}
	ids, err := s.selector.ListIDsByStatus(ctx, status, sel.Limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to select theses")
	}
	return ids, nil
}

// CreateJob persists the job and enqueues it for processing.
func (s *JobService) CreateJob(ctx context.Context, jobType models.JobType, params models.JobParams) (*models.PipelineJob, error) {
	if !jobType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported job type %q", jobType))
	}
	job := &models.PipelineJob{
		Type:   jobType,
		Params: params,
		Status: models.JobStatusQueued,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create pipeline job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		failed := models.JobStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		_ = s.repo.Update(ctx, job.ID, repository.UpdateJobParams{
			Status:       &failed,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue pipeline job")
	}
	s.logger.Sugar().Infow("pipeline job queued",
		"job_id", job.ID,
		"type", job.Type,
		"theses", len(params.ThesisIDs),
		"request_id", requestid.FromContext(ctx),
	)
	return job, nil
}

// GetStatus returns the persisted job.
func (s *JobService) GetStatus(ctx context.Context, id string) (*models.PipelineJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pipeline job")
	}
	return job, nil
}

// RecoverPendingJobs replays queued jobs after a restart, including ones a
// dead worker left in PROCESSING.
func (s *JobService) RecoverPendingJobs(ctx context.Context) {
	if n, err := s.repo.RequeueStale(ctx, time.Now().UTC().Add(-s.cfg.StaleAfter)); err != nil {
		s.logger.Sugar().Warnw("failed to requeue stale pipeline jobs", "error", err)
	} else if n > 0 {
		s.logger.Sugar().Infow("requeued stale pipeline jobs", "count", n)
	}
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued pipeline jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", job.ID, "error", err)
		}
	}
}

// StartCleanup boots a goroutine that purges expired artifacts periodically.
func (s *JobService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 || s.artifacts == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, prefix := range s.cfg.CleanupPrefixes {
					s.artifacts.Cleanup(prefix)
				}
			}
		}
	}()
}

// JobRunner executes one pipeline stage for a job's parameters.
type JobRunner func(ctx context.Context, params models.JobParams) (*models.RunSummary, error)

// Stages groups the services a pipeline job can run.
type Stages struct {
	Publication  *PublicationService
	Reconcile    *ReconcileService
	Preservation *PreservationService
	Proquest     *ProquestExportService
	Marc         *MarcService
}

// Runners maps every job type to the stage that executes it.
func (s Stages) Runners() map[models.JobType]JobRunner {
	return map[models.JobType]JobRunner{
		models.JobTypePublish: s.Publication.PublishJob,
		models.JobTypeReconcile: func(ctx context.Context, _ models.JobParams) (*models.RunSummary, error) {
			return s.Reconcile.Reconcile(ctx)
		},
		models.JobTypePreserve: func(ctx context.Context, p models.JobParams) (*models.RunSummary, error) {
			return s.Preservation.PreserveBatch(ctx, p.ThesisIDs)
		},
		models.JobTypeProquestExport: func(ctx context.Context, p models.JobParams) (*models.RunSummary, error) {
			return s.Proquest.Export(ctx, p.ThesisIDs)
		},
		models.JobTypeMarcExport: func(ctx context.Context, p models.JobParams) (*models.RunSummary, error) {
			return s.Marc.ExportBatch(ctx, p.ThesisIDs)
		},
	}
}

// PipelineWorker bridges queue jobs to pipeline stages.
type PipelineWorker struct {
	repo       pipelineJobStore
	runners    map[models.JobType]JobRunner
	metrics    *MetricsService
	maxRetries int
	now        func() time.Time
	logger     *zap.Logger
}

// NewPipelineWorker constructs a worker.
func NewPipelineWorker(repo pipelineJobStore, runners map[models.JobType]JobRunner, maxRetries int, metrics *MetricsService, logger *zap.Logger) *PipelineWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &PipelineWorker{
		repo:       repo,
		runners:    runners,
		metrics:    metrics,
		maxRetries: maxRetries,
		now:        time.Now,
		logger:     logger,
	}
}

// Attach registers the worker on router for every job type it can run.
func (w *PipelineWorker) Attach(router *jobs.Router) {
	for jobType := range w.runners {
		router.Register(string(jobType), w.Handle)
	}
}

// Handle processes a queue job.
func (w *PipelineWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Permanent(fmt.Errorf("pipeline job %s not found", job.ID))
		}
		return err
	}
	if record.Status == models.JobStatusFinished || record.Status == models.JobStatusFailed {
		return nil
	}
	log := logger.ForJob(w.logger, job.ID, string(record.Type))
	run, ok := w.runners[record.Type]
	if !ok {
		w.fail(ctx, record, fmt.Sprintf("no runner for job type %s", record.Type))
		return jobs.Permanent(fmt.Errorf("no runner for job type %q", record.Type))
	}

	processing := models.JobStatusProcessing
	if err := w.repo.Update(ctx, job.ID, repository.UpdateJobParams{Status: &processing}); err != nil {
		return err
	}

	started := w.now()
	summary, err := runStage(ctx, run, record.Params)
	if err != nil {
		msg := err.Error()
		permanent := isPermanentStageError(err)
		if permanent || job.Attempt >= w.maxRetries {
			w.fail(ctx, record, msg)
			w.metrics.ObserveJob(record.Type, models.JobStatusFailed, w.now().Sub(started))
			if permanent {
				return jobs.Permanent(err)
			}
		} else {
			queued := models.JobStatusQueued
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateJobParams{
				Status:       &queued,
				ErrorMessage: &msg,
			}); updateErr != nil {
				log.Sugar().Warnw("failed to mark job queued", "error", updateErr)
			}
		}
		return err
	}

	if summary == nil {
		summary = &models.RunSummary{}
	}
	finished := models.JobStatusFinished
	now := w.now().UTC()
	clear := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateJobParams{
		Status:       &finished,
		Result:       summary,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		log.Sugar().Warnw("failed to mark job finished", "error", err)
		return err
	}
	w.metrics.ObserveJob(record.Type, models.JobStatusFinished, now.Sub(started))
	log.Sugar().Infow("pipeline job finished",
		"total", summary.Total, "processed", summary.Processed, "errors", len(summary.Errors))
	return nil
}

func (w *PipelineWorker) fail(ctx context.Context, record *models.PipelineJob, msg string) {
	failed := models.JobStatusFailed
	now := w.now().UTC()
	if err := w.repo.Update(ctx, record.ID, repository.UpdateJobParams{
		Status:       &failed,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark job failed", "job_id", record.ID, "error", err)
	}
}

// isPermanentStageError reports failures a retry cannot fix.
func isPermanentStageError(err error) bool {
	return jobs.IsPermanent(err) ||
		errors.Is(err, appErrors.ErrValidation) ||
		errors.Is(err, appErrors.ErrNotPublishable) ||
		errors.Is(err, appErrors.ErrNotBaggable)
}

// runStage converts a stage panic into a permanent error so the job record
// is failed instead of being left in PROCESSING.
func runStage(ctx context.Context, run JobRunner, params models.JobParams) (summary *models.RunSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = jobs.Permanent(fmt.Errorf("stage panicked: %v", r))
		}
	}()
	return run(ctx, params)
}
