package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/internal/repository"
	"github.com/noah-isme/etd-pipeline/pkg/export"
	"github.com/noah-isme/etd-pipeline/pkg/notify"
)

var budgetHeaders = []string{"author name(s)", "department(s)", "degree type(s)", "degree period", "handle", "export date"}

type proquestStore interface {
	CreateBatch(ctx context.Context, marks []repository.ExportMark) (*models.ProquestExportBatch, error)
	AttachFiles(ctx context.Context, batchID int64, exportJSONKey, budgetCSVKey string) error
}

type artifactStore interface {
	Store(key string, data []byte) (*Artifact, error)
}

type proquestCandidateLister interface {
	ListProquestCandidateIDs(ctx context.Context) ([]int64, error)
}

// ProquestExportService exports published theses whose authors consented to
// the dissertation vendor.
type ProquestExportService struct {
	theses     *thesisBatchLoader
	candidates proquestCandidateLister
	batches    proquestStore
	artifacts  artifactStore
	csv        *export.CSVExporter
	notifier   notify.Service
	metrics    *MetricsService
	logger     *zap.Logger
}

// ProquestDeps bundles collaborators of the export service.
type ProquestDeps struct {
	Theses     thesisLoader
	Candidates proquestCandidateLister
	Batches    proquestStore
	Artifacts  artifactStore
	Notifier   notify.Service
	Metrics    *MetricsService
}

// NewProquestExportService constructs the service.
func NewProquestExportService(deps ProquestDeps, logger *zap.Logger) *ProquestExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Noop()
	}
	return &ProquestExportService{
		theses:     newThesisBatchLoader(deps.Theses, 4),
		candidates: deps.Candidates,
		batches:    deps.Batches,
		artifacts:  deps.Artifacts,
		csv:        export.NewCSVExporter(),
		notifier:   notifier,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

func proquestIneligibility(thesis *models.Thesis) string {
	switch {
	case thesis.PublicationStatus != models.PublicationStatusPublished:
		return fmt.Sprintf("not published (%s)", thesis.PublicationStatus)
	case thesis.ProquestExported != models.ProquestNotExported:
		return fmt.Sprintf("already exported (%s)", thesis.ProquestExported)
	case thesis.Handle() == "":
		return "thesis has no handle"
	}
	if consent := thesis.ProquestConsent(); consent != models.ProquestConsentOptIn {
		return fmt.Sprintf("author consent is %s", consent)
	}
	return ""
}

// Export builds one export batch. With no ids every candidate thesis is
// considered and ineligible ones are skipped quietly; explicitly requested ids
// that are not eligible are reported.
func (s *ProquestExportService) Export(ctx context.Context, ids []int64) (*models.RunSummary, error) {
	explicit := len(ids) > 0
	if !explicit {
		var err error
		if ids, err = s.candidates.ListProquestCandidateIDs(ctx); err != nil {
			return nil, fmt.Errorf("list proquest candidates: %w", err)
		}
	}
	summary := &models.RunSummary{Total: len(ids)}

	var partial, full []*models.Thesis
	for _, thesis := range s.theses.Load(ctx, ids, summary) {
		if reason := proquestIneligibility(thesis); reason != "" {
			if explicit {
				summary.AddError(thesis.ID, "not eligible for export: %s", reason)
			}
			continue
		}
		if thesis.HasDegreeType(models.DegreeTypeDoctoral) {
			full = append(full, thesis)
		} else {
			partial = append(partial, thesis)
		}
	}
	if len(partial)+len(full) == 0 {
		return summary, nil
	}

	// Mark first so the generated files reflect the persisted harvest state.
	marks := make([]repository.ExportMark, 0, len(partial)+len(full))
	for _, t := range partial {
		t.ProquestExported = models.ProquestPartialHarvest
		marks = append(marks, repository.ExportMark{ThesisID: t.ID, LockVersion: t.LockVersion, State: t.ProquestExported})
	}
	for _, t := range full {
		t.ProquestExported = models.ProquestFullHarvest
		marks = append(marks, repository.ExportMark{ThesisID: t.ID, LockVersion: t.LockVersion, State: t.ProquestExported})
	}
	batch, err := s.batches.CreateBatch(ctx, marks)
	if err != nil {
		return summary, fmt.Errorf("create proquest batch: %w", err)
	}
	for _, t := range append(append([]*models.Thesis{}, partial...), full...) {
		t.ProquestExportBatchID = &batch.ID
		t.LockVersion++
	}

	manifest, err := ExportManifest(partial, full)
	if err != nil {
		return summary, err
	}
	budget, err := s.BudgetCSV(partial, batch)
	if err != nil {
		return summary, err
	}

	jsonArtifact, err := s.artifacts.Store(fmt.Sprintf("proquest/%d/export_%d.json", batch.ID, batch.ID), manifest)
	if err != nil {
		return summary, fmt.Errorf("store proquest export: %w", err)
	}
	csvArtifact, err := s.artifacts.Store(fmt.Sprintf("proquest/%d/budget_%d.csv", batch.ID, batch.ID), budget)
	if err != nil {
		return summary, fmt.Errorf("store proquest budget: %w", err)
	}
	if err := s.batches.AttachFiles(ctx, batch.ID, jsonArtifact.Key, csvArtifact.Key); err != nil {
		return summary, fmt.Errorf("attach proquest files: %w", err)
	}

	summary.Processed = len(partial) + len(full)
	summary.AddArtifact("export_json", jsonArtifact.Key)
	summary.AddArtifact("budget_csv", csvArtifact.Key)
	s.metrics.ObserveRun(string(models.JobTypeProquestExport), *summary)
	s.logger.Sugar().Infow("proquest batch exported", "batch_id", batch.ID, "partial", len(partial), "full", len(full))

	report := notify.Summary{
		Title:     fmt.Sprintf("ProQuest export batch %d", batch.ID),
		Processed: summary.Processed,
		Errors:    summary.ErrorLines(),
		Lines: []string{
			fmt.Sprintf("Full harvest: %d", len(full)),
			fmt.Sprintf("Partial harvest: %d", len(partial)),
		},
		Attachment:     budget,
		AttachmentName: fmt.Sprintf("budget_%d.csv", batch.ID),
	}
	if err := s.notifier.NotifyProquestExport(ctx, report); err != nil {
		s.logger.Sugar().Warnw("proquest notification failed", "batch_id", batch.ID, "error", err)
	}
	return summary, nil
}

// ExportManifest lists partial harvests first, then full harvests.
func ExportManifest(partial, full []*models.Thesis) ([]byte, error) {
	records := make([]models.ProquestExportRecord, 0, len(partial)+len(full))
	for _, t := range partial {
		records = append(records, models.ProquestExportRecord{Handle: t.Handle(), FullHarvest: false})
	}
	for _, t := range full {
		records = append(records, models.ProquestExportRecord{Handle: t.Handle(), FullHarvest: true})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode proquest export: %w", err)
	}
	return raw, nil
}

// BudgetCSV renders the cost report; only partial harvests are billed.
func (s *ProquestExportService) BudgetCSV(partial []*models.Thesis, batch *models.ProquestExportBatch) ([]byte, error) {
	data := export.Dataset{Headers: budgetHeaders}
	exportDate := batch.CreatedAt.Format("2006-01-02")
	for _, t := range partial {
		data.AddRow(
			strings.Join(t.AuthorNames(), "; "),
			strings.Join(t.DepartmentNames(), "; "),
			strings.Join(t.DegreeTypes(), "; "),
			t.GraduationDate.Format("January 2006"),
			t.Handle(),
			exportDate,
		)
	}
	raw, err := s.csv.Render(data)
	if err != nil {
		return nil, fmt.Errorf("render proquest budget: %w", err)
	}
	return raw, nil
}
