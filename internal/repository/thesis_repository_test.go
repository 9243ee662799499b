package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var thesisRowColumns = []string{"id", "title", "abstract", "grad_date", "publication_status", "proquest_exported",
	"proquest_export_batch_id", "dspace_handle", "dspace_metadata_key", "lock_version", "updated_at"}

func TestThesisRepositoryGetLoadsAssociations(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	grad := time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM theses WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(thesisRowColumns).
			AddRow(42, "Title", "Abstract", grad, "Published", "Not exported", nil, "1721.1/1", nil, 3, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM thesis_files WHERE thesis_id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "thesis_id", "object_key", "filename", "purpose", "description", "checksum", "content_type", "byte_size"}).
			AddRow(1, 42, "abc", "thesis.pdf", "thesis_pdf", nil, "XrY7u+Ae7tCTyyK7j1rNww==", "application/pdf", 10))
	mock.ExpectQuery(regexp.QuoteMeta("FROM authors a JOIN users u")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "thesis_id", "user_id", "name", "graduation_confirmed", "proquest_allowed"}).
			AddRow(5, 42, 9, "Doe, Jane", true, true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM advisors ad")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(3, "Roe, Richard"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM departments d")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "name_dspace"}).
			AddRow(1, "6", "Department of Electrical Engineering and Computer Science", "Massachusetts Institute of Technology. Department of Electrical Engineering and Computer Science"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM degrees dg")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name_dspace", "abbreviation", "degree_type"}).
			AddRow(1, "PhD", "Doctor of Philosophy", "Ph.D.", "Doctoral"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM copyrights c")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "holder", "statement_dspace", "url"}).
			AddRow(1, "Author", "In Copyright - Educational Use Permitted", nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM licenses l")).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM archivematica_accessions a")).
		WithArgs("2021", "June").
		WillReturnRows(sqlmock.NewRows([]string{"accession_number"}).AddRow("2021_001"))

	thesis, err := repo.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, models.PublicationStatusPublished, thesis.PublicationStatus)
	assert.Equal(t, models.ProquestNotExported, thesis.ProquestExported)
	assert.Equal(t, "1721.1/1", thesis.Handle())
	require.Len(t, thesis.Files, 1)
	assert.Equal(t, models.FilePurposeThesisPDF, thesis.Files[0].Purpose)
	require.Len(t, thesis.Authors, 1)
	assert.True(t, *thesis.Authors[0].ProquestAllowed)
	assert.Equal(t, []string{"Doctoral"}, thesis.DegreeTypes())
	require.NotNil(t, thesis.Copyright)
	assert.Nil(t, thesis.License)
	assert.Equal(t, "2021_001", thesis.Accession())
	assert.True(t, thesis.Baggable())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThesisRepositoryGetNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM theses WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 7)
	require.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestThesisRepositoryUpdateChecksLockVersion(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	status := models.PublicationStatusPublished
	handle := "1721.1/99"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE theses SET publication_status = $1, dspace_handle = $2, lock_version = lock_version + 1, updated_at = $3 WHERE id = $4 AND lock_version = $5")).
		WithArgs("Published", handle, sqlmock.AnyArg(), int64(42), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	version, err := repo.Update(context.Background(), 42, 3, UpdateThesisParams{PublicationStatus: &status, DSpaceHandle: &handle})
	require.NoError(t, err)
	assert.Equal(t, 4, version)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE theses SET publication_status = $1")).
		WithArgs("Published", sqlmock.AnyArg(), int64(42), 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = repo.Update(context.Background(), 42, 3, UpdateThesisParams{PublicationStatus: &status})
	require.ErrorIs(t, err, ErrStaleThesis)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThesisRepositoryUpdateAuthors(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	confirmed := true
	allowed := false
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE authors SET graduation_confirmed = $1, proquest_allowed = $2 WHERE id = $3 AND thesis_id = $4")).
		WithArgs(true, false, int64(5), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateAuthors(context.Background(), 42, []AuthorUpdate{
		{AuthorID: 5, GraduationConfirmed: &confirmed, ProquestAllowed: &allowed},
		{AuthorID: 6},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThesisRepositoryListProquestCandidates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM theses WHERE publication_status = $1 AND proquest_exported = $2")).
		WithArgs("Published", "Not exported").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	ids, err := repo.ListProquestCandidateIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestThesisRepositoryListIDsByGraduation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewThesisRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM theses WHERE publication_status = $1 AND grad_date = $2")).
		WithArgs("Published", time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))

	ids, err := repo.ListIDsByGraduation(context.Background(), models.PublicationStatusPublished, time.Date(2021, time.June, 17, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids)
}
