package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/sethgrid/pester"
	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/pkg/checksum"
	"github.com/noah-isme/etd-pipeline/pkg/config"
	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
	"github.com/noah-isme/etd-pipeline/pkg/notify"
)

const (
	packagingAction         = "create-bagit-zip"
	preservationMetadataCSV = "data/metadata/metadata.csv"
)

type payloadStore interface {
	CountForThesis(ctx context.Context, thesisID int64) (int, error)
	Create(ctx context.Context, payload *models.ArchivematicaPayload) error
	MarkPreserved(ctx context.Context, id int64, at time.Time) error
}

type artifactReporter interface {
	Store(key string, data []byte) (*Artifact, error)
	SummaryPDF(title string, summary models.RunSummary) ([]byte, error)
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PreservationService packages published theses for digital preservation.
type PreservationService struct {
	theses    thesisLoader
	payloads  payloadStore
	artifacts artifactReporter
	locks     thesisLocker
	csv       *MetadataCSVService
	client    httpDoer
	notifier  notify.Service
	cfg       config.ArchivematicaConfig
	metrics   *MetricsService
	now       func() time.Time
	logger    *zap.Logger
}

// PreservationDeps bundles collaborators of the preservation service.
type PreservationDeps struct {
	Theses    thesisLoader
	Payloads  payloadStore
	Artifacts artifactReporter
	Locks     thesisLocker
	Notifier  notify.Service
	Metrics   *MetricsService
	// Client overrides the retrying HTTP client, mainly for tests.
	Client httpDoer
}

// NewPreservationService constructs the service.
func NewPreservationService(deps PreservationDeps, cfg config.ArchivematicaConfig, handleBaseURL string, logger *zap.Logger) *PreservationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := deps.Locks
	if locks == nil {
		locks = noopLocker{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Noop()
	}
	client := deps.Client
	if client == nil {
		client = newPackagingClient(cfg)
	}
	return &PreservationService{
		theses:    deps.Theses,
		payloads:  deps.Payloads,
		artifacts: deps.Artifacts,
		locks:     locks,
		csv:       NewMetadataCSVService(handleBaseURL),
		client:    client,
		notifier:  notifier,
		cfg:       cfg,
		metrics:   deps.Metrics,
		now:       time.Now,
		logger:    logger,
	}
}

func newPackagingClient(cfg config.ArchivematicaConfig) *pester.Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = attempts
	client.Timeout = timeout
	return client
}

// BagName derives the package name from the handle and the attempt number.
func BagName(handle string, attempt int) string {
	return strings.ReplaceAll(handle, "/", "_") + "_thesis_" + strconv.Itoa(attempt)
}

// OutputZipURI is where the packaging service drops the finished bag.
func OutputZipURI(bucket string, thesis *models.Thesis, bagName string) string {
	return fmt.Sprintf("s3://%s/etdsip/%04d/%02d/%s/%s.zip",
		bucket, thesis.GraduationDate.Year(), int(thesis.GraduationDate.Month()), thesis.Accession(), bagName)
}

// Preserve builds, persists and submits one preservation package.
func (s *PreservationService) Preserve(ctx context.Context, thesisID int64) (*models.ArchivematicaPayload, error) {
	release, err := s.locks.Acquire(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	defer release()

	thesis, err := s.theses.Get(ctx, thesisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "thesis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	if !thesis.Baggable() {
		return nil, appErrors.Clone(appErrors.ErrNotBaggable, baggableReason(thesis))
	}

	payload, err := s.buildPayload(ctx, thesis)
	if err != nil {
		return nil, err
	}
	if err := s.payloads.Create(ctx, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist payload")
	}

	if err := s.post(ctx, []byte(payload.PayloadJSON)); err != nil {
		s.logger.Sugar().Warnw("packaging request failed", "thesis_id", thesisID, "bag", payload.BagName, "error", err)
		return payload, err
	}

	preservedAt := s.now().UTC()
	if err := s.payloads.MarkPreserved(ctx, payload.ID, preservedAt); err != nil {
		return payload, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark payload preserved")
	}
	payload.PreservationStatus = models.PreservationPreserved
	payload.PreservedAt = &preservedAt
	s.logger.Sugar().Infow("thesis sent to preservation", "thesis_id", thesisID, "bag", payload.BagName)
	return payload, nil
}

func (s *PreservationService) buildPayload(ctx context.Context, thesis *models.Thesis) (*models.ArchivematicaPayload, error) {
	prior, err := s.payloads.CountForThesis(ctx, thesis.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count payloads")
	}
	bagName := BagName(thesis.Handle(), prior+1)

	sheet, err := s.csv.Build(thesis)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build metadata csv")
	}
	csvArtifact, err := s.artifacts.Store(fmt.Sprintf("preservation/%d/%s/metadata.csv", thesis.ID, bagName), sheet.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store metadata csv")
	}

	inputs := make([]models.PackagingInputFile, 0, len(thesis.Files)+1)
	for _, f := range thesis.Files {
		md5, err := checksum.Base64ToHex(f.Checksum)
		if err != nil {
			return nil, appErrors.WrapAs(err, appErrors.ErrValidation, fmt.Sprintf("file %s has an invalid checksum", f.Filename))
		}
		inputs = append(inputs, models.PackagingInputFile{
			URI:       s.inputURI(f.Key),
			Filepath:  f.Filename,
			Checksums: map[string]string{"md5": md5},
		})
	}
	inputs = append(inputs, models.PackagingInputFile{
		URI:       s.inputURI(csvArtifact.Key),
		Filepath:  preservationMetadataCSV,
		Checksums: map[string]string{"md5": sheet.MD5},
	})

	request := models.PackagingRequest{
		Action:              packagingAction,
		ChallengeSecret:     s.cfg.ChallengeSecret,
		Verbose:             s.cfg.Verbose,
		InputFiles:          inputs,
		ChecksumsToGenerate: []string{"md5"},
		OutputZipS3URI:      OutputZipURI(s.cfg.OutputBucket, thesis, bagName),
		CompressZip:         s.cfg.Compress,
	}
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode payload")
	}

	return &models.ArchivematicaPayload{
		ThesisID:            thesis.ID,
		PreservationStatus:  models.PreservationUnpreserved,
		PayloadJSON:         string(raw),
		MetadataCSVKey:      csvArtifact.Key,
		MetadataCSVChecksum: sheet.MD5,
		BagName:             bagName,
	}, nil
}

func (s *PreservationService) inputURI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.cfg.InputBucket, key)
}

type packagingResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *PreservationService) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPackaging, "failed to build packaging request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPackaging, "packaging service unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPackaging, "failed to read packaging response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return appErrors.Clone(appErrors.ErrPackaging, fmt.Sprintf("packaging service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	var result packagingResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPackaging, "packaging response is not valid JSON")
	}
	if !result.Success {
		msg := "packaging service reported failure"
		if result.Message != "" {
			msg += ": " + result.Message
		}
		return appErrors.Clone(appErrors.ErrPackaging, msg)
	}
	return nil
}

// PreserveBatch preserves each thesis independently and reports the run.
func (s *PreservationService) PreserveBatch(ctx context.Context, ids []int64) (*models.RunSummary, error) {
	summary := &models.RunSummary{Total: len(ids)}
	var bags []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		payload, err := s.Preserve(ctx, id)
		if err != nil {
			summary.AddError(id, "%s", err.Error())
			continue
		}
		summary.Processed++
		bags = append(bags, payload.BagName)
	}
	s.metrics.ObserveRun(string(models.JobTypePreserve), *summary)

	if summary.Reportable() {
		report := notify.Summary{
			Title:     "Preservation submission",
			Processed: summary.Processed,
			Errors:    summary.ErrorLines(),
			Lines:     bags,
		}
		if pdf, err := s.artifacts.SummaryPDF("Preservation submission", *summary); err == nil {
			report.Attachment = pdf
			report.AttachmentName = "preservation-summary.pdf"
		}
		if err := s.notifier.NotifyPreservation(ctx, report); err != nil {
			s.logger.Sugar().Warnw("preservation notification failed", "error", err)
		}
	}
	return summary, nil
}

func baggableReason(thesis *models.Thesis) string {
	switch {
	case !thesis.Publishable():
		return publishableReason(thesis)
	case thesis.Handle() == "":
		return "thesis has no handle"
	case thesis.Accession() == "":
		return "no accession number for the degree period"
	case models.ValidateAccessionNumber(thesis.Accession()) != nil:
		return fmt.Sprintf("accession number %q must match YYYY_NNN", thesis.Accession())
	}
	return "thesis is not baggable"
}
