package service

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/pkg/checksum"
)

func parseCSV(t *testing.T, content []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(content)).ReadAll()
	require.NoError(t, err)
	return records
}

func columnIndexes(header []string, name string) []int {
	var out []int
	for i, h := range header {
		if h == name {
			out = append(out, i)
		}
	}
	return out
}

func TestMetadataCSVRowsAndRepeatingColumns(t *testing.T) {
	thesis := sampleThesis()
	sheet, err := NewMetadataCSVService("https://hdl.handle.net").Build(thesis)
	require.NoError(t, err)
	assert.Equal(t, checksum.MD5Hex(sheet.Content), sheet.MD5)

	records := parseCSV(t, sheet.Content)
	header, rows := records[0], records[1:]
	require.Len(t, rows, len(thesis.Files))

	authorCols := columnIndexes(header, "dc.contributor.author")
	require.Len(t, authorCols, len(thesis.Authors))

	// first file is the primary document
	assert.Equal(t, "objects/thesis.pdf", rows[0][0])
	assert.Equal(t, "Doe, Jane", rows[0][authorCols[0]])
	assert.Equal(t, "Roe, John", rows[0][authorCols[1]])
	for _, row := range rows[1:] {
		assert.NotEmpty(t, row[0])
		for _, v := range row[1:] {
			assert.Empty(t, v)
		}
	}

	aic := columnIndexes(header, "dc.relation.isPartOf")
	require.Len(t, aic, 2)
	assert.Equal(t, "AIC#Course_06_theses", rows[0][aic[0]])
	assert.Equal(t, "AIC#CMS_theses", rows[0][aic[1]])
	assert.Equal(t, "https://hdl.handle.net/1721.1/12345", rows[0][columnIndexes(header, "dc.identifier.uri")[0]])
}

func TestMetadataCSVDistinctDegreeTypes(t *testing.T) {
	thesis := sampleThesis()
	thesis.Degrees = []models.Degree{
		{NameDSpace: "Master of Science", DegreeType: models.DegreeTypeMaster},
		{NameDSpace: "Master of Business Administration", DegreeType: models.DegreeTypeMaster},
	}
	sheet, err := NewMetadataCSVService("").Build(thesis)
	require.NoError(t, err)
	header := parseCSV(t, sheet.Content)[0]
	assert.Len(t, columnIndexes(header, "thesis.degree.name"), 2)
	assert.Len(t, columnIndexes(header, "mit.thesis.degree"), 1)
}

func TestMetadataCSVWithoutAssociations(t *testing.T) {
	thesis := &models.Thesis{
		ID:    1,
		Title: "Bare",
		Files: []models.ThesisFile{{Filename: "thesis.pdf", Purpose: models.FilePurposeThesisPDF}},
	}
	sheet, err := NewMetadataCSVService("").Build(thesis)
	require.NoError(t, err)
	records := parseCSV(t, sheet.Content)
	require.Len(t, records, 2)
	assert.Empty(t, columnIndexes(records[0], "dc.contributor.author"))
	assert.Empty(t, columnIndexes(records[0], "dc.rights"))
}

func TestRightsPolicyParity(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Thesis)
		want   []string
		uri    string
	}{
		{
			name: "third party holder",
			mutate: func(th *models.Thesis) {
				th.Copyright = &models.Copyright{Holder: "Acme Corp", StatementDSpace: "In Copyright"}
			},
			want: []string{"In Copyright", "Copyright Acme Corp"},
		},
		{
			name: "author with license",
			mutate: func(th *models.Thesis) {
				th.License = &models.License{DisplayDescription: "Attribution 4.0 International (CC BY 4.0)", URL: strPtr("https://creativecommons.org/licenses/by/4.0/")}
			},
			want: []string{"Attribution 4.0 International (CC BY 4.0)", rightsRetainedByAuthor},
			uri:  "https://creativecommons.org/licenses/by/4.0/",
		},
		{
			name:   "author without license",
			mutate: func(th *models.Thesis) {},
			want:   []string{"In Copyright - Educational Use Permitted", rightsRetainedByAuthor},
			uri:    "http://rightsstatements.org/page/InC-EDU/1.0/",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			thesis := sampleThesis()
			tc.mutate(thesis)

			doc := NewDSpaceMetadataService().Build(thesis)
			assert.Equal(t, tc.want, doc.Values("dc.rights"))

			sheet, err := NewMetadataCSVService("").Build(thesis)
			require.NoError(t, err)
			records := parseCSV(t, sheet.Content)
			var csvRights []string
			for _, i := range columnIndexes(records[0], "dc.rights") {
				csvRights = append(csvRights, records[1][i])
			}
			assert.Equal(t, tc.want, csvRights)

			uriCols := columnIndexes(records[0], "dc.rights.uri")
			if tc.uri == "" {
				assert.Empty(t, doc.Values("dc.rights.uri"))
				assert.Empty(t, uriCols)
				return
			}
			assert.Equal(t, []string{tc.uri}, doc.Values("dc.rights.uri"))
			require.Len(t, uriCols, 1)
			assert.Equal(t, tc.uri, records[1][uriCols[0]])
		})
	}
}

func TestDSpaceMetadataOmitsBlankAbstract(t *testing.T) {
	thesis := sampleThesis()
	thesis.Abstract = strPtr("   ")
	doc := NewDSpaceMetadataService().Build(thesis)
	assert.Empty(t, doc.Values("dc.description.abstract"))
	assert.Equal(t, []string{"2021-06"}, doc.Values("dc.date.issued"))
	assert.Equal(t, []string{"Doe, Jane", "Roe, John"}, doc.Values("dc.contributor.author"))

	raw, err := NewDSpaceMetadataService().Marshal(thesis)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `{"key":"dc.title","value":"On the Reliability of Asynchronous Pipelines"}`)
}

func TestFormatCourseCode(t *testing.T) {
	cases := map[string]string{
		"16":  "Course_16",
		"6":   "Course_06",
		"21A": "Course_21A",
		"CMS": "CMS",
		"":    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatCourseCode(in), in)
	}
	assert.Equal(t, "AIC#Course_16_theses", DepartmentAIC("16"))
}
