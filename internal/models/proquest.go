package models

import "time"

// ProquestExportBatch is one bulk export to the discovery vendor.
type ProquestExportBatch struct {
	ID            int64     `db:"id" json:"id"`
	ExportJSONKey *string   `db:"export_json_key" json:"export_json_key,omitempty"`
	BudgetCSVKey  *string   `db:"budget_csv_key" json:"budget_csv_key,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ProquestExportRecord is one entry of the export manifest.
type ProquestExportRecord struct {
	Handle      string `json:"handle"`
	FullHarvest bool   `json:"full_harvest"`
}
