package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"
)

// JobType enumerates pipeline units of work.
type JobType string

const (
	JobTypePublish        JobType = "publish_thesis"
	JobTypeReconcile      JobType = "reconcile_results"
	JobTypePreserve       JobType = "preserve_theses"
	JobTypeProquestExport JobType = "proquest_export"
	JobTypeMarcExport     JobType = "marc_export"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypePublish, JobTypeReconcile, JobTypePreserve, JobTypeProquestExport, JobTypeMarcExport:
		return true
	}
	return false
}

// JobStatus captures background job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusFinished   JobStatus = "FINISHED"
	JobStatusFailed     JobStatus = "FAILED"
)

// PipelineJob is the persisted record of a unit of work; queued rows are
// replayed when the worker pool starts.
type PipelineJob struct {
	ID           string      `db:"id" json:"id"`
	Type         JobType     `db:"type" json:"type"`
	Params       JobParams   `db:"params" json:"params"`
	Status       JobStatus   `db:"status" json:"status"`
	Result       *RunSummary `db:"result" json:"result,omitempty"`
	ErrorMessage *string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
}

// JobParams stores request-scoped options persisted as JSONB.
type JobParams struct {
	ThesisIDs []int64           `json:"thesisIds,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// Value marshals params to JSON for persistence.
func (p JobParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal job params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *JobParams) Scan(value interface{}) error {
	*p = JobParams{}
	return scanJSON(value, p, "job params")
}

// PipelineError is one accumulated failure; ThesisID is zero when the failure is
// not tied to a known thesis.
type PipelineError struct {
	ThesisID int64  `json:"thesis_id,omitempty"`
	Message  string `json:"message"`
}

func (e PipelineError) String() string {
	if e.ThesisID == 0 {
		return e.Message
	}
	return fmt.Sprintf("thesis %d: %s", e.ThesisID, e.Message)
}

// RunSummary is the structured outcome of a pipeline run.
type RunSummary struct {
	Total     int               `json:"total"`
	Processed int               `json:"processed"`
	Errors    []PipelineError   `json:"errors,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// AddError records a failure.
func (s *RunSummary) AddError(thesisID int64, format string, args ...interface{}) {
	s.Errors = append(s.Errors, PipelineError{ThesisID: thesisID, Message: fmt.Sprintf(format, args...)})
}

// AddArtifact records a generated file.
func (s *RunSummary) AddArtifact(name, key string) {
	if s.Artifacts == nil {
		s.Artifacts = map[string]string{}
	}
	s.Artifacts[name] = key
}

// ErrorLines renders errors for notifications.
func (s RunSummary) ErrorLines() []string {
	out := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		out = append(out, e.String())
	}
	return out
}

// Reportable reports whether the run produced anything worth notifying about.
func (s RunSummary) Reportable() bool {
	return s.Processed > 0 || len(s.Errors) > 0
}

// Value marshals the summary to JSON for persistence.
func (s RunSummary) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal run summary: %w", err)
	}
	return data, nil
}

// Scan unmarshals a stored summary.
func (s *RunSummary) Scan(value interface{}) error {
	*s = RunSummary{}
	return scanJSON(value, s, "run summary")
}

func scanJSON(value interface{}, dst interface{}, what string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, what)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return nil
}
