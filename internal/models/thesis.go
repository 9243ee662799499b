package models

import (
	"strings"
	"time"

	"github.com/jinzhu/now"
)

// FilePurpose tags what an attached file is for.
type FilePurpose string

const (
	FilePurposeThesisPDF     FilePurpose = "thesis_pdf"
	FilePurposeSupplementary FilePurpose = "thesis_supplementary_file"
	FilePurposeSource        FilePurpose = "thesis_source"
	FilePurposeSignaturePage FilePurpose = "signature_page"
)

// Degree type names that drive collection routing and harvest selection.
const (
	DegreeTypeDoctoral = "Doctoral"
	DegreeTypeMaster   = "Master"
	DegreeTypeEngineer = "Engineer"
	DegreeTypeBachelor = "Bachelor"
)

// CopyrightHolderAuthor marks copyrights retained by the thesis authors.
const CopyrightHolderAuthor = "Author"

// ThesisFile is one stored attachment of a thesis.
type ThesisFile struct {
	ID          int64       `db:"id" json:"id"`
	ThesisID    int64       `db:"thesis_id" json:"thesis_id"`
	Key         string      `db:"object_key" json:"key"`
	Filename    string      `db:"filename" json:"filename"`
	Purpose     FilePurpose `db:"purpose" json:"purpose"`
	Description *string     `db:"description" json:"description,omitempty"`
	// Checksum is the storage-native base64 MD5 digest.
	Checksum    string `db:"checksum" json:"checksum"`
	ContentType string `db:"content_type" json:"content_type"`
	ByteSize    int64  `db:"byte_size" json:"byte_size"`
}

// DescriptionText returns the description or an empty string.
func (f ThesisFile) DescriptionText() string {
	if f.Description == nil {
		return ""
	}
	return *f.Description
}

// Author joins a person to a thesis.
type Author struct {
	ID                  int64  `db:"id" json:"id"`
	ThesisID            int64  `db:"thesis_id" json:"thesis_id"`
	UserID              int64  `db:"user_id" json:"user_id"`
	Name                string `db:"name" json:"name"`
	GraduationConfirmed bool   `db:"graduation_confirmed" json:"graduation_confirmed"`
	ProquestAllowed     *bool  `db:"proquest_allowed" json:"proquest_allowed,omitempty"`
}

// Advisor supervised a thesis.
type Advisor struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Department is an academic unit; Code is the registrar course code.
type Department struct {
	ID         int64  `db:"id" json:"id"`
	Code       string `db:"code" json:"code"`
	Name       string `db:"name" json:"name"`
	NameDSpace string `db:"name_dspace" json:"name_dspace"`
}

// Degree awarded for a thesis.
type Degree struct {
	ID           int64  `db:"id" json:"id"`
	Code         string `db:"code" json:"code"`
	NameDSpace   string `db:"name_dspace" json:"name_dspace"`
	Abbreviation string `db:"abbreviation" json:"abbreviation"`
	DegreeType   string `db:"degree_type" json:"degree_type"`
}

// Copyright of a thesis.
type Copyright struct {
	ID              int64   `db:"id" json:"id"`
	Holder          string  `db:"holder" json:"holder"`
	StatementDSpace string  `db:"statement_dspace" json:"statement_dspace"`
	URL             *string `db:"url" json:"url,omitempty"`
}

// License optionally attached to an author-held thesis.
type License struct {
	ID                 int64   `db:"id" json:"id"`
	DisplayDescription string  `db:"display_description" json:"display_description"`
	URL                *string `db:"url" json:"url,omitempty"`
}

// Thesis is the aggregate moved through the publication pipeline.
type Thesis struct {
	ID                    int64             `db:"id" json:"id"`
	Title                 string            `db:"title" json:"title"`
	Abstract              *string           `db:"abstract" json:"abstract,omitempty"`
	GraduationDate        time.Time         `db:"grad_date" json:"graduation_date"`
	PublicationStatus     PublicationStatus `db:"publication_status" json:"publication_status"`
	ProquestExported      ProquestExported  `db:"proquest_exported" json:"proquest_exported"`
	ProquestExportBatchID *int64            `db:"proquest_export_batch_id" json:"proquest_export_batch_id,omitempty"`
	DSpaceHandle          *string           `db:"dspace_handle" json:"dspace_handle,omitempty"`
	DSpaceMetadataKey     *string           `db:"dspace_metadata_key" json:"-"`
	LockVersion           int               `db:"lock_version" json:"lock_version"`
	UpdatedAt             time.Time         `db:"updated_at" json:"updated_at"`

	Files       []ThesisFile `db:"-" json:"files"`
	Authors     []Author     `db:"-" json:"authors"`
	Advisors    []Advisor    `db:"-" json:"advisors"`
	Departments []Department `db:"-" json:"departments"`
	Degrees     []Degree     `db:"-" json:"degrees"`
	Copyright   *Copyright   `db:"-" json:"copyright,omitempty"`
	License     *License     `db:"-" json:"license,omitempty"`
	// AccessionNumber is resolved from the thesis's degree period.
	AccessionNumber *string `db:"-" json:"accession_number,omitempty"`
}

// NormalizeGraduationDate pins a graduation date to the first of its month.
func NormalizeGraduationDate(t time.Time) time.Time {
	return now.With(t.UTC()).BeginningOfMonth()
}

// GraduationYear returns the four-digit graduation year.
func (t *Thesis) GraduationYear() int { return t.GraduationDate.Year() }

// AbstractText returns the trimmed abstract or an empty string.
func (t *Thesis) AbstractText() string {
	if t.Abstract == nil {
		return ""
	}
	return strings.TrimSpace(*t.Abstract)
}

// Handle returns the remote handle or an empty string.
func (t *Thesis) Handle() string {
	if t.DSpaceHandle == nil {
		return ""
	}
	return strings.TrimSpace(*t.DSpaceHandle)
}

// Accession returns the accession number or an empty string.
func (t *Thesis) Accession() string {
	if t.AccessionNumber == nil {
		return ""
	}
	return strings.TrimSpace(*t.AccessionNumber)
}

// PrimaryFile returns the main thesis document, if attached.
func (t *Thesis) PrimaryFile() (ThesisFile, bool) {
	for _, f := range t.Files {
		if f.Purpose == FilePurposeThesisPDF {
			return f, true
		}
	}
	return ThesisFile{}, false
}

// SubmissionFiles returns files that are deposited with the publication service.
func (t *Thesis) SubmissionFiles() []ThesisFile {
	var out []ThesisFile
	for _, f := range t.Files {
		if f.Purpose == FilePurposeThesisPDF || f.Purpose == FilePurposeSupplementary {
			out = append(out, f)
		}
	}
	return out
}

// DuplicateFilenames reports whether two attachments share a filename.
func (t *Thesis) DuplicateFilenames() bool {
	seen := make(map[string]struct{}, len(t.Files))
	for _, f := range t.Files {
		if _, ok := seen[f.Filename]; ok {
			return true
		}
		seen[f.Filename] = struct{}{}
	}
	return false
}

// Publishable reports whether the thesis may be submitted for publication.
func (t *Thesis) Publishable() bool {
	return len(t.Files) > 0 && !t.DuplicateFilenames() && t.Copyright != nil
}

// Baggable reports whether a preservation package can be built for the thesis.
// The accession number must be well formed since it becomes part of the bag URI.
func (t *Thesis) Baggable() bool {
	return t.Publishable() && t.Handle() != "" && ValidateAccessionNumber(t.Accession()) == nil
}

// DegreeTypes returns distinct degree type names in degree order.
func (t *Thesis) DegreeTypes() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, d := range t.Degrees {
		if d.DegreeType == "" {
			continue
		}
		if _, ok := seen[d.DegreeType]; ok {
			continue
		}
		seen[d.DegreeType] = struct{}{}
		out = append(out, d.DegreeType)
	}
	return out
}

// HasDegreeType reports whether any degree is of the named type.
func (t *Thesis) HasDegreeType(name string) bool {
	for _, d := range t.Degrees {
		if d.DegreeType == name {
			return true
		}
	}
	return false
}

// AuthorsGraduationConfirmed reports whether every author's graduation is confirmed.
// A thesis without authors is never confirmed.
func (t *Thesis) AuthorsGraduationConfirmed() bool {
	if len(t.Authors) == 0 {
		return false
	}
	for _, a := range t.Authors {
		if !a.GraduationConfirmed {
			return false
		}
	}
	return true
}

// AuthorNames lists author names in order.
func (t *Thesis) AuthorNames() []string {
	out := make([]string, 0, len(t.Authors))
	for _, a := range t.Authors {
		out = append(out, a.Name)
	}
	return out
}

// DepartmentNames lists department display names in order.
func (t *Thesis) DepartmentNames() []string {
	out := make([]string, 0, len(t.Departments))
	for _, d := range t.Departments {
		out = append(out, d.Name)
	}
	return out
}

// ProquestConsent is the combined author decision about ProQuest export.
type ProquestConsent int

const (
	ProquestConsentNoDecision ProquestConsent = iota
	ProquestConsentOptIn
	ProquestConsentOptOut
	ProquestConsentConflict
)

func (c ProquestConsent) String() string {
	switch c {
	case ProquestConsentNoDecision:
		return "no decision"
	case ProquestConsentOptIn:
		return "opt-in"
	case ProquestConsentOptOut:
		return "opt-out"
	case ProquestConsentConflict:
		return "conflict"
	}
	return "unknown"
}

// ProquestConsent folds author flags: disagreement (including undecided next to
// decided) is a conflict, all undecided is no decision.
func (t *Thesis) ProquestConsent() ProquestConsent {
	var yes, no, unset int
	for _, a := range t.Authors {
		switch {
		case a.ProquestAllowed == nil:
			unset++
		case *a.ProquestAllowed:
			yes++
		default:
			no++
		}
	}
	kinds := 0
	for _, n := range []int{yes, no, unset} {
		if n > 0 {
			kinds++
		}
	}
	switch {
	case kinds > 1:
		return ProquestConsentConflict
	case yes > 0:
		return ProquestConsentOptIn
	case no > 0:
		return ProquestConsentOptOut
	default:
		return ProquestConsentNoDecision
	}
}
