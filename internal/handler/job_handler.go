package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/etd-pipeline/internal/dto"
	"github.com/noah-isme/etd-pipeline/internal/models"
	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
	"github.com/noah-isme/etd-pipeline/pkg/response"
)

type jobService interface {
	Submit(ctx context.Context, jobType models.JobType, sel dto.ThesisSelection) (*models.PipelineJob, error)
	GetStatus(ctx context.Context, id string) (*models.PipelineJob, error)
}

// JobHandler queues pipeline stages and reports on their progress.
type JobHandler struct {
	jobs jobService
}

// NewJobHandler constructs the handler.
func NewJobHandler(jobs jobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) submit(c *gin.Context, jobType models.JobType) {
	var sel dto.ThesisSelection
	// An empty body selects nothing explicitly.
	if err := c.ShouldBindJSON(&sel); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid selection payload"))
		return
	}
	job, err := h.jobs.Submit(c.Request.Context(), jobType, sel)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, dto.JobResponse{ID: job.ID, Type: job.Type, Status: job.Status}, nil)
}

// Reconcile godoc
// @Summary Queue a pass over the publication result channel
// @Tags Pipeline
// @Produce json
// @Success 202 {object} response.Envelope
// @Router /reconciliations [post]
func (h *JobHandler) Reconcile(c *gin.Context) {
	h.submit(c, models.JobTypeReconcile)
}

// Preserve godoc
// @Summary Queue preservation packaging
// @Tags Pipeline
// @Accept json
// @Produce json
// @Param payload body dto.ThesisSelection true "Theses to preserve"
// @Success 202 {object} response.Envelope
// @Router /preservations [post]
func (h *JobHandler) Preserve(c *gin.Context) {
	h.submit(c, models.JobTypePreserve)
}

// ProquestExport godoc
// @Summary Queue a dissertation vendor export batch
// @Description Without a selection every eligible published thesis is exported.
// @Tags Pipeline
// @Accept json
// @Produce json
// @Param payload body dto.ThesisSelection false "Theses to export"
// @Success 202 {object} response.Envelope
// @Router /proquest/exports [post]
func (h *JobHandler) ProquestExport(c *gin.Context) {
	h.submit(c, models.JobTypeProquestExport)
}

// MarcExport godoc
// @Summary Queue a MARC catalog export
// @Tags Pipeline
// @Accept json
// @Produce json
// @Param payload body dto.ThesisSelection true "Theses to catalog"
// @Success 202 {object} response.Envelope
// @Router /marc/exports [post]
func (h *JobHandler) MarcExport(c *gin.Context) {
	h.submit(c, models.JobTypeMarcExport)
}

// Status godoc
// @Summary Pipeline job status
// @Tags Pipeline
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /jobs/{id} [get]
func (h *JobHandler) Status(c *gin.Context) {
	job, err := h.jobs.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewJobStatusResponse(job), nil)
}
