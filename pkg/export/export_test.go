package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRepeatedHeaders(t *testing.T) {
	data := Dataset{Headers: []string{"filename", "author", "author"}}
	data.AddRow("objects/a.pdf", "Doe, Jane", "Roe, Rich")
	data.AddRow("objects/b.zip")

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "filename,author,author\nobjects/a.pdf,\"Doe, Jane\",\"Roe, Rich\"\nobjects/b.zip,,\n", string(out))
}

func TestCSVExporterRejectsRaggedRows(t *testing.T) {
	data := Dataset{Headers: []string{"a", "b"}, Rows: [][]string{{"only-one"}}}
	_, err := NewCSVExporter().Render(data)
	require.Error(t, err)
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	data := Dataset{Headers: []string{"Thesis", "Message"}}
	data.AddRow("12", "checksum mismatch")

	out, err := NewPDFExporter().Render(data, "Reconciliation", "Total: 1", "Processed: 0")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestPDFExporterWrapsLongRowsAcrossPages(t *testing.T) {
	data := Dataset{Headers: []string{"Thesis", "Message"}, Weights: []float64{1, 6}}
	for i := 0; i < 80; i++ {
		data.AddRow("7", strings.Repeat("publication service reported an error ", 8))
	}
	out, err := NewPDFExporter().Render(data, "Publication results")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Greater(t, bytes.Count(out, []byte("/Type /Page\n")), 1)
}

func TestColumnWidths(t *testing.T) {
	widths := columnWidths(Dataset{Headers: []string{"a", "b"}, Weights: []float64{1, 3}})
	assert.InDelta(t, 47.5, widths[0], 0.001)
	assert.InDelta(t, 142.5, widths[1], 0.001)

	even := columnWidths(Dataset{Headers: []string{"a", "b"}})
	assert.InDelta(t, 95.0, even[0], 0.001)
}
