package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

// PayloadRepository persists preservation packaging attempts.
type PayloadRepository struct {
	db *sqlx.DB
}

// NewPayloadRepository constructs the repository.
func NewPayloadRepository(db *sqlx.DB) *PayloadRepository {
	return &PayloadRepository{db: db}
}

// CountForThesis returns how many packaging attempts exist for a thesis.
func (r *PayloadRepository) CountForThesis(ctx context.Context, thesisID int64) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM archivematica_payloads WHERE thesis_id = $1`, thesisID); err != nil {
		return 0, fmt.Errorf("count payloads: %w", err)
	}
	return count, nil
}

// Create inserts a new attempt and fills its id and creation time.
func (r *PayloadRepository) Create(ctx context.Context, payload *models.ArchivematicaPayload) error {
	if payload.CreatedAt.IsZero() {
		payload.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO archivematica_payloads (thesis_id, preservation_status, payload_json, metadata_csv_key, metadata_csv_checksum, bag_name, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		payload.ThesisID,
		payload.PreservationStatus,
		payload.PayloadJSON,
		payload.MetadataCSVKey,
		payload.MetadataCSVChecksum,
		payload.BagName,
		payload.CreatedAt,
	).Scan(&payload.ID); err != nil {
		return fmt.Errorf("create payload: %w", err)
	}
	return nil
}

// MarkPreserved flags an attempt as accepted by the packaging service.
func (r *PayloadRepository) MarkPreserved(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE archivematica_payloads SET preservation_status = $1, preserved_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, models.PreservationPreserved, at, id); err != nil {
		return fmt.Errorf("mark payload preserved: %w", err)
	}
	return nil
}

// ListForThesis returns attempts for a thesis, newest first.
func (r *PayloadRepository) ListForThesis(ctx context.Context, thesisID int64) ([]models.ArchivematicaPayload, error) {
	const query = `SELECT id, thesis_id, preservation_status, payload_json, metadata_csv_key, metadata_csv_checksum, bag_name, preserved_at, created_at
FROM archivematica_payloads WHERE thesis_id = $1 ORDER BY id DESC`
	var payloads []models.ArchivematicaPayload
	if err := r.db.SelectContext(ctx, &payloads, query, thesisID); err != nil {
		return nil, fmt.Errorf("list payloads: %w", err)
	}
	return payloads, nil
}
