package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/etd-pipeline/internal/dto"
	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/internal/repository"
	"github.com/noah-isme/etd-pipeline/internal/service"
	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
)

type publicationServiceMock struct {
	thesis     *models.Thesis
	publishErr error
	batch      *service.BatchSubmission
	batchIDs   []int64
	updates    []repository.AuthorUpdate
}

func (m *publicationServiceMock) Thesis(_ context.Context, id int64) (*models.Thesis, error) {
	if m.thesis == nil || m.thesis.ID != id {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
	}
	return m.thesis, nil
}

func (m *publicationServiceMock) Publish(context.Context, int64) error { return m.publishErr }

func (m *publicationServiceMock) PublishBatch(_ context.Context, ids []int64) (*service.BatchSubmission, error) {
	m.batchIDs = ids
	return m.batch, nil
}

func (m *publicationServiceMock) UpdateAuthors(_ context.Context, _ int64, updates []repository.AuthorUpdate) (*models.Thesis, error) {
	m.updates = updates
	return m.thesis, nil
}

type jobServiceMock struct {
	jobType models.JobType
	sel     dto.ThesisSelection
	job     *models.PipelineJob
	err     error
}

func (m *jobServiceMock) Submit(_ context.Context, jobType models.JobType, sel dto.ThesisSelection) (*models.PipelineJob, error) {
	m.jobType, m.sel = jobType, sel
	if m.err != nil {
		return nil, m.err
	}
	return &models.PipelineJob{ID: "job-1", Type: jobType, Status: models.JobStatusQueued}, nil
}

func (m *jobServiceMock) GetStatus(_ context.Context, id string) (*models.PipelineJob, error) {
	if m.job == nil || m.job.ID != id {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
	}
	return m.job, nil
}

type downloaderMock struct {
	path string
	err  error
}

func (m downloaderMock) Download(string) (*os.File, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	f, err := os.Open(m.path)
	return f, filepath.Base(m.path), err
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error.Code
}

func testThesis() *models.Thesis {
	handle := "1721.1/1"
	return &models.Thesis{ID: 42, Title: "T", PublicationStatus: models.PublicationStatusPending, DSpaceHandle: &handle, LockVersion: 2}
}

func TestPublicationHandlerPublish(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &publicationServiceMock{thesis: testThesis()}
	h := NewPublicationHandler(mock, nil)

	c, w := newGinContext(http.MethodPost, "/theses/42/publish", nil)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.Publish(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	var env struct {
		Data dto.ThesisStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, models.PublicationStatusPending, env.Data.PublicationStatus)
	assert.Equal(t, "1721.1/1", env.Data.Handle)

	mock.publishErr = appErrors.Clone(appErrors.ErrNotPublishable, "thesis has no files")
	c, w = newGinContext(http.MethodPost, "/theses/42/publish", nil)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.Publish(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NOT_PUBLISHABLE", errorCode(t, w))

	c, w = newGinContext(http.MethodPost, "/theses/abc/publish", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.Publish(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicationHandlerPublishBatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &publicationServiceMock{batch: &service.BatchSubmission{Jobs: []service.QueuedJob{{ThesisID: 1, JobID: "j"}}}}
	h := NewPublicationHandler(mock, nil)

	c, w := newGinContext(http.MethodPost, "/publications/batch", []byte(`{"thesisIds":[1]}`))
	h.PublishBatch(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []int64{1}, mock.batchIDs)

	c, w = newGinContext(http.MethodPost, "/publications/batch", []byte(`{"thesisIds":[]}`))
	h.PublishBatch(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestPublicationHandlerUpdateAuthors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &publicationServiceMock{thesis: testThesis()}
	h := NewPublicationHandler(mock, nil)

	c, w := newGinContext(http.MethodPatch, "/theses/42/authors", []byte(`{"authors":[{"authorId":5,"graduationConfirmed":true}]}`))
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.UpdateAuthors(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, mock.updates, 1)
	assert.Equal(t, int64(5), mock.updates[0].AuthorID)
	assert.True(t, *mock.updates[0].GraduationConfirmed)
	assert.Nil(t, mock.updates[0].ProquestAllowed)

	c, w = newGinContext(http.MethodPatch, "/theses/42/authors", []byte(`{"authors":[{"authorId":0}]}`))
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.UpdateAuthors(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobHandlerSubmit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &jobServiceMock{}
	h := NewJobHandler(mock)

	c, w := newGinContext(http.MethodPost, "/reconciliations", nil)
	h.Reconcile(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.JobTypeReconcile, mock.jobType)

	c, w = newGinContext(http.MethodPost, "/marc/exports", []byte(`{"graduationPeriod":"2021-06"}`))
	h.MarcExport(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.JobTypeMarcExport, mock.jobType)
	assert.Equal(t, "2021-06", mock.sel.GraduationPeriod)

	c, w = newGinContext(http.MethodPost, "/preservations", []byte(`{"thesisIds":"nope"}`))
	h.Preserve(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	mock.err = appErrors.Clone(appErrors.ErrValidation, "selection matched no theses")
	c, w = newGinContext(http.MethodPost, "/proquest/exports", []byte(`{"status":"Published"}`))
	h.ProquestExport(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.JobTypeProquestExport, mock.jobType)
}

func TestJobHandlerStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	msg := ""
	mock := &jobServiceMock{job: &models.PipelineJob{
		ID: "job-1", Type: models.JobTypeMarcExport, Status: models.JobStatusFinished,
		Result: &models.RunSummary{Total: 2, Processed: 2}, ErrorMessage: &msg,
	}}
	h := NewJobHandler(mock)

	c, w := newGinContext(http.MethodGet, "/jobs/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	h.Status(c)
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data dto.JobStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, 2, env.Data.Result.Processed)
	assert.Nil(t, env.Data.Error)

	c, w = newGinContext(http.MethodGet, "/jobs/other", nil)
	c.Params = gin.Params{{Key: "id", Value: "other"}}
	h.Status(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "budget_3.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o644))

	h := NewFileHandler(downloaderMock{path: path})
	c, w := newGinContext(http.MethodGet, "/files/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a,b\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "budget_3.csv")

	h = NewFileHandler(downloaderMock{err: appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")})
	c, w = newGinContext(http.MethodGet, "/files/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	h.Download(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsHandlerHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	c, w := newGinContext(http.MethodGet, "/health", nil)
	h.Health(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestRegisterMountsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	jobs := &jobServiceMock{}
	Register(r, r.Group("/api/v1"), Handlers{
		Publication: NewPublicationHandler(&publicationServiceMock{thesis: testThesis()}, nil),
		Jobs:        NewJobHandler(jobs),
		Files:       NewFileHandler(downloaderMock{err: appErrors.ErrNotFound}),
		Metrics:     NewMetricsHandler(service.NewMetricsService(), nil),
	})

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/theses/42", http.StatusOK},
		{http.MethodPost, "/api/v1/reconciliations", http.StatusAccepted},
		{http.MethodGet, "/api/v1/jobs/unknown", http.StatusNotFound},
		{http.MethodGet, "/api/v1/files/abc.def", http.StatusNotFound},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.path, nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, "%s %s", tc.method, tc.path)
	}
}
