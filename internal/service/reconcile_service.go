package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/internal/repository"
	"github.com/noah-isme/etd-pipeline/pkg/channel"
	"github.com/noah-isme/etd-pipeline/pkg/checksum"
	"github.com/noah-isme/etd-pipeline/pkg/config"
	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
	"github.com/noah-isme/etd-pipeline/pkg/notify"
)

type resultConsumer interface {
	EnsureGroup(ctx context.Context) error
	Receive(ctx context.Context, max int, wait time.Duration) ([]channel.Message, error)
	Ack(ctx context.Context, ids ...string) error
}

type summaryRenderer interface {
	SummaryPDF(title string, summary models.RunSummary) ([]byte, error)
}

// ReconcileService applies publication results to theses.
type ReconcileService struct {
	consumer resultConsumer
	theses   thesisUpdater
	locks    thesisLocker
	reports  summaryRenderer
	notifier notify.Service
	cfg      config.DSpaceConfig
	metrics  *MetricsService
	now      func() time.Time
	logger   *zap.Logger
}

// ReconcileDeps bundles collaborators of the reconciler.
type ReconcileDeps struct {
	Consumer resultConsumer
	Theses   thesisUpdater
	Locks    thesisLocker
	Reports  summaryRenderer
	Notifier notify.Service
	Metrics  *MetricsService
}

// NewReconcileService constructs the service.
func NewReconcileService(deps ReconcileDeps, cfg config.DSpaceConfig, logger *zap.Logger) *ReconcileService {
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
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &ReconcileService{
		consumer: deps.Consumer,
		theses:   deps.Theses,
		locks:    locks,
		reports:  deps.Reports,
		notifier: notifier,
		cfg:      cfg,
		metrics:  deps.Metrics,
		now:      time.Now,
		logger:   logger,
	}
}

// Reconcile drains the result channel until it stays quiet for the idle
// timeout. Each message is acknowledged only after its outcome is stored, so
// a crash replays results instead of losing them.
func (s *ReconcileService) Reconcile(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{}
	if err := s.consumer.EnsureGroup(ctx); err != nil {
		summary.AddError(0, "result channel unavailable: %v", err)
		s.report(ctx, summary)
		return summary, nil
	}

	lastActivity := s.now()
	for {
		if err := ctx.Err(); err != nil {
			s.report(ctx, summary)
			return summary, err
		}
		messages, err := s.consumer.Receive(ctx, s.cfg.BatchSize, s.cfg.ReceiveWait)
		if err != nil {
			summary.AddError(0, "failed to read result channel: %v", err)
			break
		}
		if len(messages) == 0 {
			if s.now().Sub(lastActivity) >= s.cfg.IdleTimeout {
				break
			}
			continue
		}
		lastActivity = s.now()
		for _, msg := range messages {
			if s.handle(ctx, msg, summary) {
				if err := s.consumer.Ack(ctx, msg.ID); err != nil {
					s.logger.Sugar().Warnw("failed to acknowledge result", "message_id", msg.ID, "error", err)
				}
			}
		}
	}

	s.metrics.ObserveRun(string(models.JobTypeReconcile), *summary)
	s.report(ctx, summary)
	return summary, nil
}

var errUnreadableAttributes = errors.New("unreadable message attributes")

// handle processes one result and reports whether it may be acknowledged.
func (s *ReconcileService) handle(ctx context.Context, msg channel.Message, summary *models.RunSummary) bool {
	if msg.Attributes == nil {
		summary.Total++
		s.malformed(summary, 0, msg, errUnreadableAttributes)
		return true
	}
	if msg.Attribute(models.AttrSubmissionSource) != s.cfg.SubmissionSource {
		s.metrics.ObserveMessage("in", "foreign")
		return true
	}
	summary.Total++

	packageID := msg.Attribute(models.AttrPackageID)
	thesisID, err := models.ParsePackageID(packageID)
	if err != nil {
		s.malformed(summary, 0, msg, err)
		return true
	}
	var result models.ResultBody
	if err := json.Unmarshal(msg.Body, &result); err != nil {
		s.malformed(summary, thesisID, msg, err)
		return true
	}

	release, err := s.locks.Acquire(ctx, thesisID)
	if err != nil {
		if errors.Is(err, appErrors.ErrLocked) {
			// Left pending; the entry is reclaimed on a later run.
			summary.Total--
			s.metrics.ObserveMessage("in", "deferred")
			s.logger.Sugar().Infow("thesis busy, deferring result", "thesis_id", thesisID, "message_id", msg.ID)
			return false
		}
		summary.AddError(thesisID, "failed to lock thesis: %v", err)
		return false
	}
	defer release()

	thesis, err := s.theses.Get(ctx, thesisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			summary.AddError(thesisID, "thesis not found for package %s", packageID)
			return true
		}
		summary.AddError(thesisID, "failed to load thesis: %v", err)
		return false
	}

	status, handle, problem := Outcome(thesis, result)
	params := repository.UpdateThesisParams{PublicationStatus: &status}
	if handle != "" {
		params.DSpaceHandle = &handle
	}
	if _, err := s.theses.Update(ctx, thesis.ID, thesis.LockVersion, params); err != nil {
		summary.AddError(thesisID, "failed to store result: %v", err)
		return false
	}

	if problem != "" {
		summary.AddError(thesisID, "%s", problem)
		s.metrics.ObserveMessage("in", "error")
		s.logger.Sugar().Warnw("publication result rejected", "thesis_id", thesisID, "problem", problem)
		return true
	}
	summary.Processed++
	s.metrics.ObserveMessage("in", "published")
	s.logger.Sugar().Infow("thesis published", "thesis_id", thesisID, "handle", handle)
	return true
}

func (s *ReconcileService) malformed(summary *models.RunSummary, thesisID int64, msg channel.Message, err error) {
	summary.AddError(thesisID, "malformed result message %s: %v", msg.ID, err)
	s.metrics.ObserveMessage("in", "malformed")
	s.logger.Sugar().Warnw("malformed result message", "message_id", msg.ID, "error", err)
}

// Outcome maps a publication result onto the new thesis status, the handle to
// store and, for anything but a clean publication, the problem to report.
func Outcome(thesis *models.Thesis, result models.ResultBody) (models.PublicationStatus, string, string) {
	switch result.ResultType {
	case models.ResultTypeSuccess:
		handle := strings.TrimSpace(result.ItemHandle)
		if handle == "" {
			return models.PublicationStatusError, "", "publication succeeded but no handle was returned"
		}
		if err := VerifyChecksums(thesis, result.Bitstreams); err != nil {
			return models.PublicationStatusError, handle, err.Error()
		}
		return models.PublicationStatusPublished, handle, ""
	case models.ResultTypeError:
		return models.PublicationStatusError, "", "publication service reported an error: " + remoteDetail(result)
	default:
		return models.PublicationStatusError, "", fmt.Sprintf("unknown status %q", result.ResultType)
	}
}

// VerifyChecksums requires every reported digest to match a local file. The
// remote side may echo only a subset of the files.
func VerifyChecksums(thesis *models.Thesis, reported []models.ResultBitstream) error {
	if len(thesis.Files) == 0 {
		return appErrors.Clone(appErrors.ErrChecksumMismatch, "cannot validate checksums, thesis has no local files")
	}
	expected := make(map[string]struct{}, len(thesis.Files))
	for _, f := range thesis.Files {
		digest, err := checksum.Base64ToHex(f.Checksum)
		if err != nil {
			return appErrors.WrapAs(err, appErrors.ErrChecksumMismatch, fmt.Sprintf("stored checksum of %s is invalid", f.Filename))
		}
		expected[digest] = struct{}{}
	}
	var got []string
	missing := false
	for _, b := range reported {
		digest := strings.ToLower(strings.TrimSpace(b.BitstreamChecksum.Value))
		got = append(got, digest)
		if _, ok := expected[digest]; !ok {
			missing = true
		}
	}
	if !missing {
		return nil
	}
	local := make([]string, 0, len(expected))
	for d := range expected {
		local = append(local, d)
	}
	sort.Strings(local)
	sort.Strings(got)
	return appErrors.Clone(appErrors.ErrChecksumMismatch, fmt.Sprintf("checksum mismatch: reported [%s], local [%s]",
		strings.Join(got, ", "), strings.Join(local, ", ")))
}

func remoteDetail(result models.ResultBody) string {
	for _, detail := range []interface{}{result.DSpaceResponse, result.ErrorInfo, result.ExceptionTraceback} {
		if detail == nil {
			continue
		}
		if text, ok := detail.(string); ok {
			return text
		}
		raw, err := json.Marshal(detail)
		if err == nil {
			return string(raw)
		}
	}
	return "no detail supplied"
}

func (s *ReconcileService) report(ctx context.Context, summary *models.RunSummary) {
	if !summary.Reportable() {
		return
	}
	report := notify.Summary{
		Title:     "Publication results",
		Processed: summary.Processed,
		Errors:    summary.ErrorLines(),
		Lines:     []string{fmt.Sprintf("Results considered: %d", summary.Total)},
	}
	if s.reports != nil {
		if pdf, err := s.reports.SummaryPDF("Publication results", *summary); err == nil {
			report.Attachment = pdf
			report.AttachmentName = "publication-results.pdf"
		} else {
			s.logger.Sugar().Warnw("failed to render results pdf", "error", err)
		}
	}
	if err := s.notifier.NotifyReconciliation(ctx, report); err != nil {
		s.logger.Sugar().Warnw("reconciliation notification failed", "error", err)
	}
}
