package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/etd-pipeline/internal/dto"
	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/internal/repository"
	"github.com/noah-isme/etd-pipeline/internal/service"
	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
	"github.com/noah-isme/etd-pipeline/pkg/response"
)

type publicationService interface {
	Thesis(ctx context.Context, thesisID int64) (*models.Thesis, error)
	Publish(ctx context.Context, thesisID int64) error
	PublishBatch(ctx context.Context, ids []int64) (*service.BatchSubmission, error)
	UpdateAuthors(ctx context.Context, thesisID int64, updates []repository.AuthorUpdate) (*models.Thesis, error)
}

// PublicationHandler exposes thesis publication endpoints.
type PublicationHandler struct {
	service   publicationService
	validator *validator.Validate
}

// NewPublicationHandler constructs the handler.
func NewPublicationHandler(svc publicationService, validate *validator.Validate) *PublicationHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &PublicationHandler{service: svc, validator: validate}
}

func thesisIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "thesis id must be a positive integer"))
		return 0, false
	}
	return id, true
}

// Get godoc
// @Summary Thesis pipeline status
// @Tags Publication
// @Produce json
// @Param id path int true "Thesis ID"
// @Success 200 {object} response.Envelope
// @Router /theses/{id} [get]
func (h *PublicationHandler) Get(c *gin.Context) {
	id, ok := thesisIDParam(c)
	if !ok {
		return
	}
	thesis, err := h.service.Thesis(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewThesisStatusResponse(thesis), nil)
}

// Publish godoc
// @Summary Submit one thesis to the repository
// @Description Submits synchronously; the final outcome arrives through reconciliation.
// @Tags Publication
// @Produce json
// @Param id path int true "Thesis ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /theses/{id}/publish [post]
func (h *PublicationHandler) Publish(c *gin.Context) {
	id, ok := thesisIDParam(c)
	if !ok {
		return
	}
	if err := h.service.Publish(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	thesis, err := h.service.Thesis(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, dto.NewThesisStatusResponse(thesis), nil)
}

// PublishBatch godoc
// @Summary Queue publication of several theses
// @Tags Publication
// @Accept json
// @Produce json
// @Param payload body dto.PublishBatchRequest true "Theses to publish"
// @Success 202 {object} response.Envelope
// @Router /publications/batch [post]
func (h *PublicationHandler) PublishBatch(c *gin.Context) {
	var req dto.PublishBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid publish payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid publish payload"))
		return
	}
	result, err := h.service.PublishBatch(c.Request.Context(), req.ThesisIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, result, nil)
}

// UpdateAuthors godoc
// @Summary Update author workflow flags
// @Description Changes graduation confirmation or vendor consent and recomputes the thesis status.
// @Tags Publication
// @Accept json
// @Produce json
// @Param id path int true "Thesis ID"
// @Param payload body dto.UpdateAuthorsRequest true "Author flags"
// @Success 200 {object} response.Envelope
// @Router /theses/{id}/authors [patch]
func (h *PublicationHandler) UpdateAuthors(c *gin.Context) {
	id, ok := thesisIDParam(c)
	if !ok {
		return
	}
	var req dto.UpdateAuthorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid authors payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid authors payload"))
		return
	}
	updates := make([]repository.AuthorUpdate, 0, len(req.Authors))
	for _, a := range req.Authors {
		updates = append(updates, repository.AuthorUpdate{
			AuthorID:            a.AuthorID,
			GraduationConfirmed: a.GraduationConfirmed,
			ProquestAllowed:     a.ProquestAllowed,
		})
	}
	thesis, err := h.service.UpdateAuthors(c.Request.Context(), id, updates)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewThesisStatusResponse(thesis), nil)
}
