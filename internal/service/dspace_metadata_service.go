package service

import (
	"fmt"

	"github.com/segmentio/encoding/json"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

// MetadataEntry is one key/value pair of a submission metadata document.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DSpaceMetadata is the document the publication service ingests.
type DSpaceMetadata struct {
	Metadata []MetadataEntry `json:"metadata"`
}

// Values returns every value stored under key, in order.
func (m DSpaceMetadata) Values(key string) []string {
	var out []string
	for _, e := range m.Metadata {
		if e.Key == key {
			out = append(out, e.Value)
		}
	}
	return out
}

// DSpaceMetadataService builds submission metadata documents.
type DSpaceMetadataService struct{}

// NewDSpaceMetadataService constructs the service.
func NewDSpaceMetadataService() *DSpaceMetadataService {
	return &DSpaceMetadataService{}
}

// Build assembles the metadata document for thesis.
func (s *DSpaceMetadataService) Build(thesis *models.Thesis) DSpaceMetadata {
	doc := DSpaceMetadata{Metadata: []MetadataEntry{}}
	add := func(key, value string) {
		doc.Metadata = append(doc.Metadata, MetadataEntry{Key: key, Value: value})
	}

	for _, a := range thesis.Authors {
		add("dc.contributor.author", a.Name)
	}
	for _, a := range thesis.Advisors {
		add("dc.contributor.advisor", a.Name)
	}
	for _, d := range thesis.Departments {
		add("dc.contributor.department", d.NameDSpace)
	}
	for _, d := range thesis.Degrees {
		add("thesis.degree.name", d.NameDSpace)
	}
	for _, t := range thesis.DegreeTypes() {
		add("mit.thesis.degree", t)
	}
	add("dc.title", thesis.Title)
	if abstract := thesis.AbstractText(); abstract != "" {
		add("dc.description.abstract", abstract)
	}
	add("dc.date.issued", thesis.GraduationDate.Format(dateIssuedLayout))
	add("dc.type", thesisType)
	if r, ok := rightsStatement(thesis); ok {
		add("dc.rights", r.Statement)
		add("dc.rights", r.Holder)
		if r.URL != "" {
			add("dc.rights.uri", r.URL)
		}
	}
	return doc
}

// Marshal renders the document as JSON.
func (s *DSpaceMetadataService) Marshal(thesis *models.Thesis) ([]byte, error) {
	raw, err := json.Marshal(s.Build(thesis))
	if err != nil {
		return nil, fmt.Errorf("encode dspace metadata: %w", err)
	}
	return raw, nil
}
