package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

// ProquestRepository persists export batches and the export marker on theses.
type ProquestRepository struct {
	db *sqlx.DB
}

// NewProquestRepository constructs the repository.
func NewProquestRepository(db *sqlx.DB) *ProquestRepository {
	return &ProquestRepository{db: db}
}

// ExportMark assigns a harvest type to one thesis.
type ExportMark struct {
	ThesisID    int64
	LockVersion int
	State       models.ProquestExported
}

// CreateBatch inserts a batch and marks every thesis in one transaction. A
// thesis changed since it was loaded aborts the whole batch with ErrStaleThesis.
func (r *ProquestRepository) CreateBatch(ctx context.Context, marks []ExportMark) (*models.ProquestExportBatch, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin proquest batch tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	batch := &models.ProquestExportBatch{CreatedAt: time.Now().UTC()}
	if err := tx.QueryRowxContext(ctx, `INSERT INTO proquest_export_batches (created_at) VALUES ($1) RETURNING id`, batch.CreatedAt).
		Scan(&batch.ID); err != nil {
		return nil, fmt.Errorf("create proquest batch: %w", err)
	}

	const mark = `UPDATE theses SET proquest_exported = $1, proquest_export_batch_id = $2, lock_version = lock_version + 1, updated_at = $3
WHERE id = $4 AND lock_version = $5`
	for _, m := range marks {
		res, err := tx.ExecContext(ctx, mark, m.State, batch.ID, batch.CreatedAt, m.ThesisID, m.LockVersion)
		if err != nil {
			return nil, fmt.Errorf("mark thesis %d exported: %w", m.ThesisID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("mark thesis %d exported: %w", m.ThesisID, err)
		}
		if affected == 0 {
			return nil, fmt.Errorf("mark thesis %d exported: %w", m.ThesisID, ErrStaleThesis)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit proquest batch tx: %w", err)
	}
	committed = true
	return batch, nil
}

// AttachFiles records the generated export artifacts on a batch.
func (r *ProquestRepository) AttachFiles(ctx context.Context, batchID int64, exportJSONKey, budgetCSVKey string) error {
	const query = `UPDATE proquest_export_batches SET export_json_key = $1, budget_csv_key = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, exportJSONKey, budgetCSVKey, batchID); err != nil {
		return fmt.Errorf("attach proquest batch files: %w", err)
	}
	return nil
}
