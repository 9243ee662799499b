package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/internal/repository"
	"github.com/noah-isme/etd-pipeline/pkg/channel"
	"github.com/noah-isme/etd-pipeline/pkg/config"
	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
)

type thesisUpdater interface {
	thesisLoader
	Update(ctx context.Context, id int64, lockVersion int, params repository.UpdateThesisParams) (int, error)
}

type thesisWriter interface {
	thesisUpdater
	UpdateAuthors(ctx context.Context, thesisID int64, updates []repository.AuthorUpdate) error
}

type submissionPublisher interface {
	Publish(ctx context.Context, stream string, msg channel.Message) (string, error)
}

type submissionArtifacts interface {
	Store(key string, data []byte) (*Artifact, error)
	Delete(key string) error
	FileURL(file models.ThesisFile) (string, error)
}

type jobCreator interface {
	CreateJob(ctx context.Context, jobType models.JobType, params models.JobParams) (*models.PipelineJob, error)
}

// QueuedJob links a thesis to the background job publishing it.
type QueuedJob struct {
	ThesisID int64  `json:"thesis_id"`
	JobID    string `json:"job_id"`
}

// BatchSubmission reports which theses were queued for publication.
type BatchSubmission struct {
	Jobs   []QueuedJob            `json:"jobs"`
	Errors []models.PipelineError `json:"errors,omitempty"`
}

// PublicationService drives theses through submission to the repository.
type PublicationService struct {
	theses    thesisWriter
	artifacts submissionArtifacts
	publisher submissionPublisher
	locks     thesisLocker
	jobs      jobCreator
	dspace    *DSpaceMetadataService
	cfg       config.DSpaceConfig
	metrics   *MetricsService
	now       func() time.Time
	logger    *zap.Logger
}

// PublicationDeps bundles collaborators of the publication service.
type PublicationDeps struct {
	Theses    thesisWriter
	Artifacts submissionArtifacts
	Publisher submissionPublisher
	Locks     thesisLocker
	Jobs      jobCreator
	Metrics   *MetricsService
}

// NewPublicationService constructs the service.
func NewPublicationService(deps PublicationDeps, cfg config.DSpaceConfig, logger *zap.Logger) *PublicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := deps.Locks
	if locks == nil {
		locks = noopLocker{}
	}
	return &PublicationService{
		theses:    deps.Theses,
		artifacts: deps.Artifacts,
		publisher: deps.Publisher,
		locks:     locks,
		jobs:      deps.Jobs,
		dspace:    NewDSpaceMetadataService(),
		cfg:       cfg,
		metrics:   deps.Metrics,
		now:       time.Now,
		logger:    logger,
	}
}

// CollectionHandle routes a thesis by its highest degree type.
func (s *PublicationService) CollectionHandle(thesis *models.Thesis) string {
	switch {
	case thesis.HasDegreeType(models.DegreeTypeDoctoral):
		return s.cfg.DoctoralCollection
	case thesis.HasDegreeType(models.DegreeTypeMaster), thesis.HasDegreeType(models.DegreeTypeEngineer):
		return s.cfg.GraduateCollection
	default:
		return s.cfg.UndergraduateCollection
	}
}

// Publish regenerates the metadata document and submission envelope for a
// thesis and hands it to the publication service. Submission failures leave
// the thesis in Publication error; calling Publish again retries from scratch.
func (s *PublicationService) Publish(ctx context.Context, thesisID int64) error {
	release, err := s.locks.Acquire(ctx, thesisID)
	if err != nil {
		return err
	}
	defer release()

	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return err
	}
	if !thesis.Publishable() {
		return appErrors.Clone(appErrors.ErrNotPublishable, publishableReason(thesis))
	}

	metadataKey, submitErr := s.submit(ctx, thesis)
	status := models.PublicationStatusPending
	if submitErr != nil {
		status = models.PublicationStatusError
		s.metrics.ObserveMessage("out", "error")
		s.logger.Sugar().Warnw("thesis submission failed", "thesis_id", thesisID, "error", submitErr)
	} else {
		s.metrics.ObserveMessage("out", "published")
	}

	if err := s.persist(ctx, thesis, status, metadataKey); err != nil {
		if submitErr != nil {
			return fmt.Errorf("%v; %w", submitErr, err)
		}
		return err
	}
	if submitErr != nil {
		return submitErr
	}
	s.logger.Sugar().Infow("thesis submitted", "thesis_id", thesisID, "package_id", models.PackageID(thesisID))
	return nil
}

// Thesis returns the thesis with its pipeline state.
func (s *PublicationService) Thesis(ctx context.Context, thesisID int64) (*models.Thesis, error) {
	return s.load(ctx, thesisID)
}

func (s *PublicationService) load(ctx context.Context, thesisID int64) (*models.Thesis, error) {
	thesis, err := s.theses.Get(ctx, thesisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	return thesis, nil
}

// submit returns the key of the freshly stored metadata document, also when
// a later step failed.
func (s *PublicationService) submit(ctx context.Context, thesis *models.Thesis) (string, error) {
	doc, err := s.dspace.Marshal(thesis)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build metadata")
	}
	key := fmt.Sprintf("dspace/%d/metadata_%s.json", thesis.ID, s.now().UTC().Format("20060102T150405"))
	metadata, err := s.artifacts.Store(key, doc)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store metadata")
	}

	body := models.SubmissionBody{
		SubmissionSystem: s.cfg.SubmissionSystem,
		CollectionHandle: s.CollectionHandle(thesis),
		MetadataLocation: metadata.URL,
		Files:            []models.SubmissionFile{},
	}
	for _, f := range thesis.SubmissionFiles() {
		url, err := s.artifacts.FileURL(f)
		if err != nil {
			return metadata.Key, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign file url")
		}
		body.Files = append(body.Files, models.SubmissionFile{
			BitstreamName:        f.Filename,
			FileLocation:         url,
			BitstreamDescription: f.DescriptionText(),
		})
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return metadata.Key, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode submission")
	}

	msg := channel.Message{
		Attributes: map[string]string{
			models.AttrPackageID:        models.PackageID(thesis.ID),
			models.AttrSubmissionSource: s.cfg.SubmissionSource,
			models.AttrOutputQueue:      s.cfg.ResultStream,
		},
		Body: raw,
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.SubmissionStream, msg); err != nil {
		return metadata.Key, appErrors.WrapAs(err, appErrors.ErrChannel, "failed to submit thesis")
	}
	return metadata.Key, nil
}

// persist records the new status and swaps in the new metadata document.
func (s *PublicationService) persist(ctx context.Context, thesis *models.Thesis, status models.PublicationStatus, metadataKey string) error {
	params := repository.UpdateThesisParams{PublicationStatus: &status}
	if metadataKey != "" {
		params.DSpaceMetadataKey = &metadataKey
	}
	version, err := s.theses.Update(ctx, thesis.ID, thesis.LockVersion, params)
	if err != nil {
		if errors.Is(err, repository.ErrStaleThesis) {
			return appErrors.WrapAs(err, appErrors.ErrConflict, "thesis changed during publication")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update thesis")
	}
	previous := deref(thesis.DSpaceMetadataKey)
	thesis.PublicationStatus = status
	thesis.LockVersion = version
	if metadataKey == "" {
		return nil
	}
	thesis.DSpaceMetadataKey = &metadataKey
	if previous != "" && previous != metadataKey {
		if err := s.artifacts.Delete(previous); err != nil {
			s.logger.Sugar().Warnw("failed to delete superseded metadata", "thesis_id", thesis.ID, "key", previous, "error", err)
		}
	}
	return nil
}

// PublishBatch queues one independent publish job per thesis.
func (s *PublicationService) PublishBatch(ctx context.Context, ids []int64) (*BatchSubmission, error) {
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one thesis id is required")
	}
	result := &BatchSubmission{Jobs: make([]QueuedJob, 0, len(ids))}
	for _, id := range ids {
		job, err := s.jobs.CreateJob(ctx, models.JobTypePublish, models.JobParams{ThesisIDs: []int64{id}})
		if err != nil {
			result.Errors = append(result.Errors, models.PipelineError{ThesisID: id, Message: err.Error()})
			continue
		}
		result.Jobs = append(result.Jobs, QueuedJob{ThesisID: id, JobID: job.ID})
	}
	return result, nil
}

// PublishJob runs a queued publish job. A busy thesis is retried by the queue;
// every other failure is reported in the summary.
func (s *PublicationService) PublishJob(ctx context.Context, params models.JobParams) (*models.RunSummary, error) {
	summary := &models.RunSummary{Total: len(params.ThesisIDs)}
	for _, id := range params.ThesisIDs {
		err := s.Publish(ctx, id)
		switch {
		case err == nil:
			summary.Processed++
		case errors.Is(err, appErrors.ErrLocked):
			return summary, err
		default:
			summary.AddError(id, "%s", err.Error())
		}
	}
	s.metrics.ObserveRun(string(models.JobTypePublish), *summary)
	return summary, nil
}

// DerivedStatus is the editorial status implied by the thesis content.
// Pipeline owned states and Ready for publication are left alone.
func DerivedStatus(thesis *models.Thesis) models.PublicationStatus {
	current := thesis.PublicationStatus
	if current.PipelineOwned() {
		return current
	}
	if thesis.AuthorsGraduationConfirmed() && thesis.Publishable() {
		if current == models.PublicationStatusReady {
			return current
		}
		return models.PublicationStatusReview
	}
	return models.PublicationStatusNotReady
}

// UpdateAuthors applies author flag changes and recomputes the thesis status.
func (s *PublicationService) UpdateAuthors(ctx context.Context, thesisID int64, updates []repository.AuthorUpdate) (*models.Thesis, error) {
	release, err := s.locks.Acquire(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.load(ctx, thesisID); err != nil {
		return nil, err
	}
	if err := s.theses.UpdateAuthors(ctx, thesisID, updates); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update authors")
	}
	thesis, err := s.load(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	return thesis, s.RecomputeStatus(ctx, thesis)
}

// RecomputeStatus persists DerivedStatus when it differs from the stored one.
func (s *PublicationService) RecomputeStatus(ctx context.Context, thesis *models.Thesis) error {
	next := DerivedStatus(thesis)
	if next == thesis.PublicationStatus {
		return nil
	}
	version, err := s.theses.Update(ctx, thesis.ID, thesis.LockVersion, repository.UpdateThesisParams{PublicationStatus: &next})
	if err != nil {
		if errors.Is(err, repository.ErrStaleThesis) {
			return appErrors.WrapAs(err, appErrors.ErrConflict, "thesis changed while recomputing status")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update thesis status")
	}
	s.logger.Sugar().Infow("thesis status recomputed", "thesis_id", thesis.ID, "from", thesis.PublicationStatus.String(), "to", next.String())
	thesis.PublicationStatus = next
	thesis.LockVersion = version
	return nil
}

func publishableReason(thesis *models.Thesis) string {
	switch {
	case len(thesis.Files) == 0:
		return "thesis has no files"
	case thesis.DuplicateFilenames():
		return "thesis has duplicate filenames"
	case thesis.Copyright == nil:
		return "thesis has no copyright"
	}
	return "thesis is not publishable"
}
