package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/internal/repository"
)

type fakeProquestStore struct {
	candidates []int64
	marks      []repository.ExportMark
	attached   []string
	err        error
}

func (f *fakeProquestStore) ListProquestCandidateIDs(context.Context) ([]int64, error) {
	return f.candidates, nil
}

func (f *fakeProquestStore) CreateBatch(_ context.Context, marks []repository.ExportMark) (*models.ProquestExportBatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.marks = marks
	return &models.ProquestExportBatch{ID: 9, CreatedAt: time.Date(2021, time.September, 1, 12, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeProquestStore) AttachFiles(_ context.Context, _ int64, jsonKey, csvKey string) error {
	f.attached = []string{jsonKey, csvKey}
	return nil
}

func publishedThesis(id int64, handle, degreeType string) *models.Thesis {
	t := sampleThesis()
	t.ID = id
	t.DSpaceHandle = strPtr(handle)
	t.PublicationStatus = models.PublicationStatusPublished
	t.Degrees = []models.Degree{{NameDSpace: degreeType + " degree", DegreeType: degreeType}}
	return t
}

func TestProquestExportSplitsHarvests(t *testing.T) {
	artifacts, store := newTestArtifacts(t)
	doctoral := publishedThesis(1, "1721.1/1", models.DegreeTypeDoctoral)
	master := publishedThesis(2, "1721.1/2", models.DegreeTypeMaster)
	optedOut := publishedThesis(3, "1721.1/3", models.DegreeTypeMaster)
	optedOut.Authors[1].ProquestAllowed = boolPtr(false)

	pq := &fakeProquestStore{candidates: []int64{1, 2, 3}}
	notifier := newRecordingNotifier()
	svc := NewProquestExportService(ProquestDeps{
		Theses:     newFakeTheses(doctoral, master, optedOut),
		Candidates: pq,
		Batches:    pq,
		Artifacts:  artifacts,
		Notifier:   notifier,
	}, nil)

	summary, err := svc.Export(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Empty(t, summary.Errors)

	assert.Equal(t, []repository.ExportMark{
		{ThesisID: 2, LockVersion: 3, State: models.ProquestPartialHarvest},
		{ThesisID: 1, LockVersion: 3, State: models.ProquestFullHarvest},
	}, pq.marks)
	assert.Equal(t, models.ProquestNotExported, optedOut.ProquestExported)
	require.NotNil(t, doctoral.ProquestExportBatchID)
	assert.Equal(t, int64(9), *doctoral.ProquestExportBatchID)

	raw, err := os.ReadFile(store.Path(summary.Artifacts["export_json"]))
	require.NoError(t, err)
	var records []models.ProquestExportRecord
	require.NoError(t, json.Unmarshal(raw, &records))
	assert.Equal(t, []models.ProquestExportRecord{
		{Handle: "1721.1/2", FullHarvest: false},
		{Handle: "1721.1/1", FullHarvest: true},
	}, records)

	budget := parseCSV(t, notifier.proquest[0].Attachment)
	require.Len(t, budget, 2)
	assert.Equal(t, budgetHeaders, budget[0])
	assert.Equal(t, []string{
		"Doe, Jane; Roe, John",
		"Department of Electrical Engineering and Computer Science; Program in Comparative Media Studies",
		"Master",
		"June 2021",
		"1721.1/2",
		"2021-09-01",
	}, budget[1])
	assert.Equal(t, []string{summary.Artifacts["export_json"], summary.Artifacts["budget_csv"]}, pq.attached)
}

func TestProquestExportReportsExplicitIneligible(t *testing.T) {
	artifacts, _ := newTestArtifacts(t)
	pending := publishedThesis(5, "1721.1/5", models.DegreeTypeMaster)
	pending.PublicationStatus = models.PublicationStatusPending
	pq := &fakeProquestStore{}
	svc := NewProquestExportService(ProquestDeps{Theses: newFakeTheses(pending), Candidates: pq, Batches: pq, Artifacts: artifacts}, nil)

	summary, err := svc.Export(context.Background(), []int64{5})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0].Message, "not published (Pending publication)")
	assert.Nil(t, pq.marks)
}

func TestProquestExportAbortsOnStaleThesis(t *testing.T) {
	artifacts, _ := newTestArtifacts(t)
	pq := &fakeProquestStore{candidates: []int64{1}, err: repository.ErrStaleThesis}
	svc := NewProquestExportService(ProquestDeps{
		Theses:     newFakeTheses(publishedThesis(1, "1721.1/1", models.DegreeTypeDoctoral)),
		Candidates: pq,
		Batches:    pq,
		Artifacts:  artifacts,
	}, nil)

	_, err := svc.Export(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrStaleThesis))
	assert.Nil(t, pq.attached)
}
