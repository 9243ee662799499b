package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/dto"
	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/internal/repository"
	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
	"github.com/noah-isme/etd-pipeline/pkg/jobs"
)

type jobRepoStub struct {
	jobs    map[string]*models.PipelineJob
	stale   int64
	updates int
}

func newJobRepoStub() *jobRepoStub {
	return &jobRepoStub{jobs: map[string]*models.PipelineJob{}}
}

func (r *jobRepoStub) Create(_ context.Context, job *models.PipelineJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *jobRepoStub) GetByID(_ context.Context, id string) (*models.PipelineJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("get pipeline job: %w", sql.ErrNoRows)
	}
	return job, nil
}

func (r *jobRepoStub) Update(_ context.Context, id string, params repository.UpdateJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return errors.New("not found")
	}
	r.updates++
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Result != nil {
		job.Result = params.Result
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *jobRepoStub) ListQueued(_ context.Context, _ int) ([]models.PipelineJob, error) {
	var queued []models.PipelineJob
	for _, job := range r.jobs {
		if job.Status == models.JobStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *jobRepoStub) RequeueStale(_ context.Context, _ time.Time) (int64, error) {
	for _, job := range r.jobs {
		if job.Status == models.JobStatusProcessing {
			job.Status = models.JobStatusQueued
			r.stale++
		}
	}
	return r.stale, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func TestJobServiceCreateJob(t *testing.T) {
	repo := newJobRepoStub()
	queue := &queueStub{}
	svc := NewJobService(repo, queue, nil, nil, nil, JobServiceConfig{}, zap.NewNop())

	job, err := svc.CreateJob(context.Background(), models.JobTypePreserve, models.JobParams{ThesisIDs: []int64{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, job.ID, queue.jobs[0].ID)
	assert.Equal(t, string(models.JobTypePreserve), queue.jobs[0].Type)

	_, err = svc.CreateJob(context.Background(), models.JobType("bogus"), models.JobParams{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestJobServiceCreateJobEnqueueFailure(t *testing.T) {
	repo := newJobRepoStub()
	svc := NewJobService(repo, &queueStub{err: errors.New("queue stopped")}, nil, nil, nil, JobServiceConfig{}, nil)

	_, err := svc.CreateJob(context.Background(), models.JobTypeReconcile, models.JobParams{})
	require.Error(t, err)
	require.Len(t, repo.jobs, 1)
	for _, job := range repo.jobs {
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.NotNil(t, job.FinishedAt)
	}
}

type selectorStub struct {
	status     models.PublicationStatus
	graduation time.Time
	limit      int
	ids        []int64
}

func (s *selectorStub) ListIDsByStatus(_ context.Context, status models.PublicationStatus, limit int) ([]int64, error) {
	s.status, s.limit = status, limit
	return s.ids, nil
}

func (s *selectorStub) ListIDsByGraduation(_ context.Context, status models.PublicationStatus, graduation time.Time) ([]int64, error) {
	s.status, s.graduation = status, graduation
	return s.ids, nil
}

func TestJobServiceSubmitResolvesSelection(t *testing.T) {
	selector := &selectorStub{ids: []int64{3, 4}}
	queue := &queueStub{}
	svc := NewJobService(newJobRepoStub(), queue, selector, nil, nil, JobServiceConfig{}, nil)

	job, err := svc.Submit(context.Background(), models.JobTypeMarcExport, dto.ThesisSelection{GraduationPeriod: "2021-06"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, job.Params.ThesisIDs)
	assert.Equal(t, models.PublicationStatusPublished, selector.status)
	assert.Equal(t, 2021, selector.graduation.Year())
	assert.Equal(t, time.June, selector.graduation.Month())

	job, err = svc.Submit(context.Background(), models.JobTypePublish, dto.ThesisSelection{Status: "Ready for publication", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, models.PublicationStatusReady, selector.status)
	assert.Equal(t, 20, selector.limit)

	job, err = svc.Submit(context.Background(), models.JobTypePreserve, dto.ThesisSelection{ThesisIDs: []int64{9}})
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, job.Params.ThesisIDs)
	assert.Len(t, queue.jobs, 3)
}

func TestJobServiceSubmitRejectsBadSelections(t *testing.T) {
	svc := NewJobService(newJobRepoStub(), &queueStub{}, &selectorStub{}, nil, nil, JobServiceConfig{}, nil)
	ctx := context.Background()

	_, err := svc.Submit(ctx, models.JobTypeMarcExport, dto.ThesisSelection{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = svc.Submit(ctx, models.JobTypeMarcExport, dto.ThesisSelection{ThesisIDs: []int64{0}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = svc.Submit(ctx, models.JobTypeMarcExport, dto.ThesisSelection{Status: "Archived"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = svc.Submit(ctx, models.JobTypeMarcExport, dto.ThesisSelection{GraduationPeriod: "not a date"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	job, err := svc.Submit(ctx, models.JobTypeReconcile, dto.ThesisSelection{})
	require.NoError(t, err)
	assert.Empty(t, job.Params.ThesisIDs)
}

func TestJobServiceGetStatusNotFound(t *testing.T) {
	svc := NewJobService(newJobRepoStub(), &queueStub{}, nil, nil, nil, JobServiceConfig{}, nil)
	_, err := svc.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestJobServiceRecoverPendingJobs(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["a"] = &models.PipelineJob{ID: "a", Type: models.JobTypeMarcExport, Status: models.JobStatusQueued}
	repo.jobs["b"] = &models.PipelineJob{ID: "b", Type: models.JobTypeReconcile, Status: models.JobStatusProcessing}
	repo.jobs["c"] = &models.PipelineJob{ID: "c", Type: models.JobTypePublish, Status: models.JobStatusFinished}
	queue := &queueStub{}

	NewJobService(repo, queue, nil, nil, nil, JobServiceConfig{}, nil).RecoverPendingJobs(context.Background())

	assert.Equal(t, int64(1), repo.stale)
	ids := make([]string, 0, len(queue.jobs))
	for _, j := range queue.jobs {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func newTestWorker(repo *jobRepoStub, run JobRunner) *PipelineWorker {
	return NewPipelineWorker(repo, map[models.JobType]JobRunner{models.JobTypeMarcExport: run}, 2, NewMetricsService(), nil)
}

func TestPipelineWorkerHandleSuccess(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["j1"] = &models.PipelineJob{ID: "j1", Type: models.JobTypeMarcExport, Status: models.JobStatusQueued, Params: models.JobParams{ThesisIDs: []int64{7}}}
	var got models.JobParams
	worker := newTestWorker(repo, func(_ context.Context, p models.JobParams) (*models.RunSummary, error) {
		got = p
		return &models.RunSummary{Total: 1, Processed: 1}, nil
	})

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "j1", Type: string(models.JobTypeMarcExport)}))

	job := repo.jobs["j1"]
	assert.Equal(t, []int64{7}, got.ThesisIDs)
	assert.Equal(t, models.JobStatusFinished, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, 1, job.Result.Processed)
	assert.Equal(t, "", *job.ErrorMessage)
	assert.NotNil(t, job.FinishedAt)

	// Replays of a finished job are no-ops.
	updates := repo.updates
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "j1"}))
	assert.Equal(t, updates, repo.updates)
}

func TestPipelineWorkerRetryThenFail(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["j1"] = &models.PipelineJob{ID: "j1", Type: models.JobTypeMarcExport, Status: models.JobStatusQueued}
	worker := newTestWorker(repo, func(context.Context, models.JobParams) (*models.RunSummary, error) {
		return nil, appErrors.Clone(appErrors.ErrLocked, "thesis 7 is locked")
	})

	err := worker.Handle(context.Background(), jobs.Job{ID: "j1", Attempt: 0})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusQueued, repo.jobs["j1"].Status)
	assert.Equal(t, "thesis 7 is locked", *repo.jobs["j1"].ErrorMessage)

	err = worker.Handle(context.Background(), jobs.Job{ID: "j1", Attempt: 2})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, repo.jobs["j1"].Status)
	assert.NotNil(t, repo.jobs["j1"].FinishedAt)
}

func TestPipelineWorkerFailsFastOnPermanentStageError(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["j1"] = &models.PipelineJob{ID: "j1", Type: models.JobTypeMarcExport, Status: models.JobStatusQueued}
	worker := newTestWorker(repo, func(context.Context, models.JobParams) (*models.RunSummary, error) {
		return nil, appErrors.Clone(appErrors.ErrNotPublishable, "thesis 7 has no files")
	})

	err := worker.Handle(context.Background(), jobs.Job{ID: "j1", Attempt: 0})
	assert.True(t, jobs.IsPermanent(err))
	assert.Equal(t, models.JobStatusFailed, repo.jobs["j1"].Status)
}

func TestPipelineWorkerFailsJobWhenStagePanics(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["j1"] = &models.PipelineJob{ID: "j1", Type: models.JobTypeMarcExport, Status: models.JobStatusQueued}
	worker := newTestWorker(repo, func(context.Context, models.JobParams) (*models.RunSummary, error) {
		panic("nil thesis")
	})

	err := worker.Handle(context.Background(), jobs.Job{ID: "j1"})
	assert.True(t, jobs.IsPermanent(err))
	assert.Equal(t, models.JobStatusFailed, repo.jobs["j1"].Status)
	assert.Contains(t, *repo.jobs["j1"].ErrorMessage, "stage panicked: nil thesis")
}

func TestPipelineWorkerWithoutRetriesFailsOnFirstError(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["j1"] = &models.PipelineJob{ID: "j1", Type: models.JobTypeMarcExport, Status: models.JobStatusQueued}
	worker := NewPipelineWorker(repo, map[models.JobType]JobRunner{
		models.JobTypeMarcExport: func(context.Context, models.JobParams) (*models.RunSummary, error) {
			return nil, appErrors.Clone(appErrors.ErrLocked, "thesis 7 is locked")
		},
	}, 0, NewMetricsService(), nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "j1", Attempt: 0})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, repo.jobs["j1"].Status)
}

func TestPipelineWorkerUnknownJob(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["j1"] = &models.PipelineJob{ID: "j1", Type: models.JobTypeProquestExport, Status: models.JobStatusQueued}
	worker := newTestWorker(repo, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "j1"})
	assert.True(t, jobs.IsPermanent(err))
	assert.Equal(t, models.JobStatusFailed, repo.jobs["j1"].Status)

	err = worker.Handle(context.Background(), jobs.Job{ID: "missing"})
	assert.True(t, jobs.IsPermanent(err))
}

func TestPipelineWorkerAttachRoutesJobs(t *testing.T) {
	repo := newJobRepoStub()
	repo.jobs["j1"] = &models.PipelineJob{ID: "j1", Type: models.JobTypeMarcExport, Status: models.JobStatusQueued}
	called := false
	worker := newTestWorker(repo, func(context.Context, models.JobParams) (*models.RunSummary, error) {
		called = true
		return nil, nil
	})
	router := jobs.NewRouter()
	worker.Attach(router)

	require.NoError(t, router.Handle(context.Background(), jobs.Job{ID: "j1", Type: string(models.JobTypeMarcExport)}))
	assert.True(t, called)
	assert.True(t, jobs.IsPermanent(router.Handle(context.Background(), jobs.Job{ID: "j1", Type: "other"})))
}

func TestStagesRunnersCoverEveryJobType(t *testing.T) {
	runners := Stages{}.Runners()
	for _, jobType := range []models.JobType{
		models.JobTypePublish, models.JobTypeReconcile, models.JobTypePreserve,
		models.JobTypeProquestExport, models.JobTypeMarcExport,
	} {
		assert.Contains(t, runners, jobType)
	}
}
