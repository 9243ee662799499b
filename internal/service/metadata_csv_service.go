package service

import (
	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/pkg/checksum"
	"github.com/noah-isme/etd-pipeline/pkg/export"
)

// MetadataCSV is a serialized preservation metadata sheet.
type MetadataCSV struct {
	Content []byte
	// MD5 is the lowercase hex digest of Content.
	MD5 string
}

// MetadataCSVService builds the one-row-per-file metadata sheet that travels
// inside preservation packages.
type MetadataCSVService struct {
	exporter      *export.CSVExporter
	handleBaseURL string
}

// NewMetadataCSVService constructs the service.
func NewMetadataCSVService(handleBaseURL string) *MetadataCSVService {
	return &MetadataCSVService{exporter: export.NewCSVExporter(), handleBaseURL: handleBaseURL}
}

type column struct {
	header string
	value  string
}

// Build serializes thesis metadata. Every file gets a row carrying its path;
// descriptive columns are filled only on the primary document's row.
func (s *MetadataCSVService) Build(thesis *models.Thesis) (*MetadataCSV, error) {
	columns := s.columns(thesis)

	data := export.Dataset{Headers: make([]string, 0, len(columns)+1)}
	data.Headers = append(data.Headers, "filename")
	for _, c := range columns {
		data.Headers = append(data.Headers, c.header)
	}

	for _, f := range thesis.Files {
		row := make([]string, 0, len(data.Headers))
		row = append(row, "objects/"+f.Filename)
		primary := f.Purpose == models.FilePurposeThesisPDF
		for _, c := range columns {
			if primary {
				row = append(row, c.value)
			} else {
				row = append(row, "")
			}
		}
		data.AddRow(row...)
	}

	content, err := s.exporter.Render(data)
	if err != nil {
		return nil, err
	}
	return &MetadataCSV{Content: content, MD5: checksum.MD5Hex(content)}, nil
}

func (s *MetadataCSVService) columns(thesis *models.Thesis) []column {
	cols := []column{
		{"dc.title", thesis.Title},
		{"dc.description.abstract", thesis.AbstractText()},
		{"dc.date.issued", thesis.GraduationDate.Format(dateIssuedLayout)},
		{"dc.type", thesisType},
	}
	if handle := thesis.Handle(); handle != "" {
		cols = append(cols, column{"dc.identifier.uri", handleURL(s.handleBaseURL, handle)})
	}
	if r, ok := rightsStatement(thesis); ok {
		cols = append(cols,
			column{"dc.rights", r.Statement},
			column{"dc.rights", r.Holder},
		)
		if r.URL != "" {
			cols = append(cols, column{"dc.rights.uri", r.URL})
		}
	}
	for _, a := range thesis.Authors {
		cols = append(cols, column{"dc.contributor.author", a.Name})
	}
	for _, a := range thesis.Advisors {
		cols = append(cols, column{"dc.contributor.advisor", a.Name})
	}
	for _, d := range thesis.Departments {
		cols = append(cols, column{"dc.contributor.department", d.NameDSpace})
	}
	for _, d := range thesis.Departments {
		cols = append(cols, column{"dc.relation.isPartOf", DepartmentAIC(d.Code)})
	}
	for _, d := range thesis.Degrees {
		cols = append(cols, column{"thesis.degree.name", d.NameDSpace})
	}
	for _, t := range thesis.DegreeTypes() {
		cols = append(cols, column{"mit.thesis.degree", t})
	}
	return cols
}
