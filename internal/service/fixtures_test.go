package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/pkg/storage"
)

func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

// sampleThesis is a publishable, baggable doctoral thesis with two authors.
func sampleThesis() *models.Thesis {
	return &models.Thesis{
		ID:                42,
		Title:             "On the Reliability of Asynchronous Pipelines",
		Abstract:          strPtr("First paragraph.\n\nSecond paragraph."),
		GraduationDate:    time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC),
		PublicationStatus: models.PublicationStatusReady,
		DSpaceHandle:      strPtr("1721.1/12345"),
		AccessionNumber:   strPtr("2021_001"),
		LockVersion:       3,
		Files: []models.ThesisFile{
			{ID: 1, ThesisID: 42, Key: "blob-primary", Filename: "thesis.pdf", Purpose: models.FilePurposeThesisPDF, Checksum: "XrY7u+Ae7tCTyyK7j1rNww==", ContentType: "application/pdf"},
			{ID: 2, ThesisID: 42, Key: "blob-data", Filename: "data.zip", Purpose: models.FilePurposeSupplementary, Description: strPtr("Raw data"), Checksum: "1B2M2Y8AsgTpgAmY7PhCfg==", ContentType: "application/zip"},
			{ID: 3, ThesisID: 42, Key: "blob-sig", Filename: "signature.pdf", Purpose: models.FilePurposeSignaturePage, Checksum: "ICy5YqxZB1uWSwcVLSNLcA==", ContentType: "application/pdf"},
		},
		Authors: []models.Author{
			{ID: 1, ThesisID: 42, UserID: 10, Name: "Doe, Jane", GraduationConfirmed: true, ProquestAllowed: boolPtr(true)},
			{ID: 2, ThesisID: 42, UserID: 11, Name: "Roe, John", GraduationConfirmed: true, ProquestAllowed: boolPtr(true)},
		},
		Advisors: []models.Advisor{{ID: 1, Name: "Smith, Alice"}},
		Departments: []models.Department{
			{ID: 1, Code: "6", Name: "Department of Electrical Engineering and Computer Science", NameDSpace: "Massachusetts Institute of Technology. Department of Electrical Engineering and Computer Science"},
			{ID: 2, Code: "CMS", Name: "Program in Comparative Media Studies", NameDSpace: "Program in Comparative Media Studies/Writing"},
		},
		Degrees: []models.Degree{
			{ID: 1, Code: "PhD", NameDSpace: "Doctor of Philosophy", Abbreviation: "Ph.D.", DegreeType: models.DegreeTypeDoctoral},
		},
		Copyright: &models.Copyright{ID: 1, Holder: models.CopyrightHolderAuthor, StatementDSpace: "In Copyright - Educational Use Permitted", URL: strPtr("http://rightsstatements.org/page/InC-EDU/1.0/")},
	}
}

// fakeTheses serves theses from memory.
type fakeTheses struct {
	mu     sync.Mutex
	theses map[int64]*models.Thesis
}

func newFakeTheses(theses ...*models.Thesis) *fakeTheses {
	f := &fakeTheses{theses: map[int64]*models.Thesis{}}
	for _, t := range theses {
		f.theses[t.ID] = t
	}
	return f
}

func (f *fakeTheses) Get(_ context.Context, id int64) (*models.Thesis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.theses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

func newTestArtifacts(t *testing.T) (*ArtifactService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewArtifactService(store, signer, ArtifactConfig{DownloadBaseURL: "http://etd.test/api/v1"}, nil, nil), store
}
