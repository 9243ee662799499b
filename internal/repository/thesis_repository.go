package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

// ErrStaleThesis is returned when an update lost an optimistic lock race.
var ErrStaleThesis = errors.New("thesis was modified concurrently")

// ThesisRepository loads and updates thesis aggregates.
type ThesisRepository struct {
	db *sqlx.DB
}

// NewThesisRepository constructs the repository.
func NewThesisRepository(db *sqlx.DB) *ThesisRepository {
	return &ThesisRepository{db: db}
}

const thesisColumns = `id, title, abstract, grad_date, publication_status, proquest_exported, proquest_export_batch_id,
dspace_handle, dspace_metadata_key, lock_version, updated_at`

// Get loads a thesis with every association the pipeline reads. A missing
// thesis yields sql.ErrNoRows.
func (r *ThesisRepository) Get(ctx context.Context, id int64) (*models.Thesis, error) {
	var thesis models.Thesis
	if err := r.db.GetContext(ctx, &thesis, `SELECT `+thesisColumns+` FROM theses WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get thesis %d: %w", id, err)
	}
	if err := r.loadAssociations(ctx, &thesis); err != nil {
		return nil, err
	}
	return &thesis, nil
}

func (r *ThesisRepository) loadAssociations(ctx context.Context, t *models.Thesis) error {
	const filesQuery = `SELECT id, thesis_id, object_key, filename, purpose, description, checksum, content_type, byte_size
FROM thesis_files WHERE thesis_id = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &t.Files, filesQuery, t.ID); err != nil {
		return fmt.Errorf("load thesis files: %w", err)
	}

	const authorsQuery = `SELECT a.id, a.thesis_id, a.user_id, u.display_name AS name, a.graduation_confirmed, a.proquest_allowed
FROM authors a JOIN users u ON u.id = a.user_id WHERE a.thesis_id = $1 ORDER BY a.id`
	if err := r.db.SelectContext(ctx, &t.Authors, authorsQuery, t.ID); err != nil {
		return fmt.Errorf("load thesis authors: %w", err)
	}

	const advisorsQuery = `SELECT ad.id, ad.name
FROM advisors ad JOIN advisor_theses at ON at.advisor_id = ad.id WHERE at.thesis_id = $1 ORDER BY at.id`
	if err := r.db.SelectContext(ctx, &t.Advisors, advisorsQuery, t.ID); err != nil {
		return fmt.Errorf("load thesis advisors: %w", err)
	}

	const departmentsQuery = `SELECT d.id, d.code, d.name, d.name_dspace
FROM departments d JOIN department_theses dt ON dt.department_id = d.id WHERE dt.thesis_id = $1
ORDER BY dt.is_primary DESC, dt.id`
	if err := r.db.SelectContext(ctx, &t.Departments, departmentsQuery, t.ID); err != nil {
		return fmt.Errorf("load thesis departments: %w", err)
	}

	const degreesQuery = `SELECT dg.id, dg.code, dg.name_dspace, dg.abbreviation, COALESCE(dt.name, '') AS degree_type
FROM degrees dg JOIN degree_theses x ON x.degree_id = dg.id LEFT JOIN degree_types dt ON dt.id = dg.degree_type_id
WHERE x.thesis_id = $1 ORDER BY x.id`
	if err := r.db.SelectContext(ctx, &t.Degrees, degreesQuery, t.ID); err != nil {
		return fmt.Errorf("load thesis degrees: %w", err)
	}

	var copyright models.Copyright
	const copyrightQuery = `SELECT c.id, c.holder, c.statement_dspace, c.url
FROM copyrights c JOIN theses t ON t.copyright_id = c.id WHERE t.id = $1`
	switch err := r.db.GetContext(ctx, &copyright, copyrightQuery, t.ID); {
	case err == nil:
		t.Copyright = &copyright
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("load thesis copyright: %w", err)
	}

	var license models.License
	const licenseQuery = `SELECT l.id, l.display_description, l.url
FROM licenses l JOIN theses t ON t.license_id = l.id WHERE t.id = $1`
	switch err := r.db.GetContext(ctx, &license, licenseQuery, t.ID); {
	case err == nil:
		t.License = &license
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("load thesis license: %w", err)
	}

	var accession string
	const accessionQuery = `SELECT a.accession_number
FROM archivematica_accessions a JOIN degree_periods p ON p.id = a.degree_period_id
WHERE p.grad_year = $1 AND p.grad_month = $2`
	year := strconv.Itoa(t.GraduationDate.Year())
	month := t.GraduationDate.Month().String()
	switch err := r.db.GetContext(ctx, &accession, accessionQuery, year, month); {
	case err == nil:
		t.AccessionNumber = &accession
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("load thesis accession: %w", err)
	}
	return nil
}

// UpdateThesisParams defines the pipeline-mutable fields.
type UpdateThesisParams struct {
	PublicationStatus     *models.PublicationStatus
	DSpaceHandle          *string
	DSpaceMetadataKey     *string
	ProquestExported      *models.ProquestExported
	ProquestExportBatchID *int64
}

// Update applies params when the row still carries lockVersion and returns the
// new version. A stale version yields ErrStaleThesis.
func (r *ThesisRepository) Update(ctx context.Context, id int64, lockVersion int, params UpdateThesisParams) (int, error) {
	return r.update(ctx, r.db, id, lockVersion, params)
}

func (r *ThesisRepository) update(ctx context.Context, exec sqlx.ExecerContext, id int64, lockVersion int, params UpdateThesisParams) (int, error) {
	set := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)
	argPos := 1

	if params.PublicationStatus != nil {
		set = append(set, fmt.Sprintf("publication_status = $%d", argPos))
		args = append(args, *params.PublicationStatus)
		argPos++
	}
	if params.DSpaceHandle != nil {
		set = append(set, fmt.Sprintf("dspace_handle = $%d", argPos))
		args = append(args, *params.DSpaceHandle)
		argPos++
	}
	if params.DSpaceMetadataKey != nil {
		set = append(set, fmt.Sprintf("dspace_metadata_key = $%d", argPos))
		args = append(args, *params.DSpaceMetadataKey)
		argPos++
	}
	if params.ProquestExported != nil {
		set = append(set, fmt.Sprintf("proquest_exported = $%d", argPos))
		args = append(args, *params.ProquestExported)
		argPos++
	}
	if params.ProquestExportBatchID != nil {
		set = append(set, fmt.Sprintf("proquest_export_batch_id = $%d", argPos))
		args = append(args, *params.ProquestExportBatchID)
		argPos++
	}
	if len(set) == 0 {
		return lockVersion, nil
	}

	set = append(set, "lock_version = lock_version + 1", fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++

	query := fmt.Sprintf("UPDATE theses SET %s WHERE id = $%d AND lock_version = $%d",
		strings.Join(set, ", "), argPos, argPos+1)
	args = append(args, id, lockVersion)

	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update thesis %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update thesis %d: %w", id, err)
	}
	if affected == 0 {
		return 0, ErrStaleThesis
	}
	return lockVersion + 1, nil
}

// ListIDsByStatus returns thesis ids currently in status, oldest first.
func (r *ThesisRepository) ListIDsByStatus(ctx context.Context, status models.PublicationStatus, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id FROM theses WHERE publication_status = $1 ORDER BY updated_at ASC LIMIT $2`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, status, limit); err != nil {
		return nil, fmt.Errorf("list theses by status: %w", err)
	}
	return ids, nil
}

// ListIDsByGraduation returns thesis ids in status that graduated in the
// month of graduation.
func (r *ThesisRepository) ListIDsByGraduation(ctx context.Context, status models.PublicationStatus, graduation time.Time) ([]int64, error) {
	const query = `SELECT id FROM theses WHERE publication_status = $1 AND grad_date = $2 ORDER BY id`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, status, models.NormalizeGraduationDate(graduation)); err != nil {
		return nil, fmt.Errorf("list theses by graduation: %w", err)
	}
	return ids, nil
}

// ListProquestCandidateIDs returns published theses never exported to ProQuest.
func (r *ThesisRepository) ListProquestCandidateIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT id FROM theses WHERE publication_status = $1 AND proquest_exported = $2 ORDER BY id`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, models.PublicationStatusPublished, models.ProquestNotExported); err != nil {
		return nil, fmt.Errorf("list proquest candidates: %w", err)
	}
	return ids, nil
}

// AuthorUpdate changes the flags of one author row.
type AuthorUpdate struct {
	AuthorID            int64
	GraduationConfirmed *bool
	ProquestAllowed     *bool
}

// UpdateAuthors applies a batch of author flag changes in one transaction.
func (r *ThesisRepository) UpdateAuthors(ctx context.Context, thesisID int64, updates []AuthorUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin author update tx: %w", err)
	}
	for _, u := range updates {
		set := make([]string, 0, 2)
		args := make([]interface{}, 0, 4)
		argPos := 1
		if u.GraduationConfirmed != nil {
			set = append(set, fmt.Sprintf("graduation_confirmed = $%d", argPos))
			args = append(args, *u.GraduationConfirmed)
			argPos++
		}
		if u.ProquestAllowed != nil {
			set = append(set, fmt.Sprintf("proquest_allowed = $%d", argPos))
			args = append(args, *u.ProquestAllowed)
			argPos++
		}
		if len(set) == 0 {
			continue
		}
		query := fmt.Sprintf("UPDATE authors SET %s WHERE id = $%d AND thesis_id = $%d", strings.Join(set, ", "), argPos, argPos+1)
		args = append(args, u.AuthorID, thesisID)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update author %d: %w", u.AuthorID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit author update tx: %w", err)
	}
	return nil
}
