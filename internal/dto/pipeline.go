package dto

import (
	"time"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

// ThesisSelection picks the theses a pipeline job acts on. Explicit ids win;
// otherwise theses are selected by graduation period or by status.
type ThesisSelection struct {
	ThesisIDs []int64 `json:"thesisIds" validate:"omitempty,max=500,dive,gt=0"`
	// Status is a publication status label such as "Published".
	Status string `json:"status,omitempty"`
	// GraduationPeriod accepts free-form dates such as "2021-06" or "June 1, 2021".
	GraduationPeriod string `json:"graduationPeriod,omitempty"`
	Limit            int    `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
}

// PublishBatchRequest captures POST /publications/batch.
type PublishBatchRequest struct {
	ThesisIDs []int64 `json:"thesisIds" validate:"required,min=1,max=500,dive,gt=0"`
}

// AuthorFlagsRequest updates the workflow flags of one author.
type AuthorFlagsRequest struct {
	AuthorID            int64 `json:"authorId" validate:"required,gt=0"`
	GraduationConfirmed *bool `json:"graduationConfirmed,omitempty"`
	ProquestAllowed     *bool `json:"proquestAllowed,omitempty"`
}

// UpdateAuthorsRequest captures PATCH /theses/:id/authors.
type UpdateAuthorsRequest struct {
	Authors []AuthorFlagsRequest `json:"authors" validate:"required,min=1,dive"`
}

// JobResponse is returned after enqueueing a pipeline job.
type JobResponse struct {
	ID     string           `json:"id"`
	Type   models.JobType   `json:"type"`
	Status models.JobStatus `json:"status"`
}

// JobStatusResponse exposes job progress and its run summary.
type JobStatusResponse struct {
	ID         string             `json:"id"`
	Type       models.JobType     `json:"type"`
	Status     models.JobStatus   `json:"status"`
	Result     *models.RunSummary `json:"result,omitempty"`
	Error      *string            `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
}

// NewJobStatusResponse maps a persisted job to its API shape.
func NewJobStatusResponse(job *models.PipelineJob) JobStatusResponse {
	resp := JobStatusResponse{
		ID:         job.ID,
		Type:       job.Type,
		Status:     job.Status,
		Result:     job.Result,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp
}

// ThesisStatusResponse summarises a thesis's position in the pipeline.
type ThesisStatusResponse struct {
	ID                int64                    `json:"id"`
	Title             string                   `json:"title"`
	PublicationStatus models.PublicationStatus `json:"publicationStatus"`
	ProquestExported  models.ProquestExported  `json:"proquestExported"`
	Handle            string                   `json:"handle,omitempty"`
	Publishable       bool                     `json:"publishable"`
	Baggable          bool                     `json:"baggable"`
	LockVersion       int                      `json:"lockVersion"`
}

// NewThesisStatusResponse maps a thesis to its API shape.
func NewThesisStatusResponse(t *models.Thesis) ThesisStatusResponse {
	return ThesisStatusResponse{
		ID:                t.ID,
		Title:             t.Title,
		PublicationStatus: t.PublicationStatus,
		ProquestExported:  t.ProquestExported,
		Handle:            t.Handle(),
		Publishable:       t.Publishable(),
		Baggable:          t.Baggable(),
		LockVersion:       t.LockVersion,
	}
}
