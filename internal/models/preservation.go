package models

import (
	"fmt"
	"regexp"
	"time"
)

// ArchivematicaPayload is one preservation packaging attempt. Rows are append-only;
// only PreservationStatus and PreservedAt change after the request is posted.
type ArchivematicaPayload struct {
	ID                  int64              `db:"id" json:"id"`
	ThesisID            int64              `db:"thesis_id" json:"thesis_id"`
	PreservationStatus  PreservationStatus `db:"preservation_status" json:"preservation_status"`
	PayloadJSON         string             `db:"payload_json" json:"payload_json"`
	MetadataCSVKey      string             `db:"metadata_csv_key" json:"metadata_csv_key"`
	MetadataCSVChecksum string             `db:"metadata_csv_checksum" json:"metadata_csv_checksum"`
	BagName             string             `db:"bag_name" json:"bag_name"`
	PreservedAt         *time.Time         `db:"preserved_at" json:"preserved_at,omitempty"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
}

// PackagingInputFile describes one file the packaging service pulls into the bag.
type PackagingInputFile struct {
	URI       string            `json:"uri"`
	Filepath  string            `json:"filepath"`
	Checksums map[string]string `json:"checksums"`
}

// PackagingRequest is the body posted to the bag packaging service.
type PackagingRequest struct {
	Action              string               `json:"action"`
	ChallengeSecret     string               `json:"challenge_secret"`
	Verbose             bool                 `json:"verbose"`
	InputFiles          []PackagingInputFile `json:"input_files"`
	ChecksumsToGenerate []string             `json:"checksums_to_generate"`
	OutputZipS3URI      string               `json:"output_zip_s3_uri"`
	CompressZip         bool                 `json:"compress_zip"`
}

var accessionPattern = regexp.MustCompile(`^\d{4}_\d{3}$`)

// ValidateAccessionNumber enforces the YYYY_NNN format.
func ValidateAccessionNumber(number string) error {
	if !accessionPattern.MatchString(number) {
		return fmt.Errorf("accession number %q must match YYYY_NNN", number)
	}
	return nil
}
