package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth    = 190.0
	pageBottom   = 280.0
	lineHeight   = 5.0
	headerHeight = 8.0
)

// PDFExporter renders operator summaries (counts plus an error table) as PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF with a title, summary lines and the dataset as a table.
// Long cells wrap; the header row repeats on every page.
func (e *PDFExporter) Render(data Dataset, title string, summary ...string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(false, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}
	if len(summary) > 0 {
		pdf.SetFont("Arial", "", 10)
		for _, line := range summary {
			pdf.CellFormat(0, 6, tr(line), "", 1, "", false, 0, "")
		}
		pdf.Ln(3)
	}

	widths := columnWidths(data)
	header := func() {
		pdf.SetFont("Arial", "B", 10)
		for i, h := range data.Headers {
			pdf.CellFormat(widths[i], headerHeight, tr(h), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
	}
	header()

	for _, row := range data.Rows {
		lines := make([][]string, len(data.Headers))
		height := 1
		for i := range data.Headers {
			value := ""
			if i < len(row) {
				value = tr(row[i])
			}
			for _, l := range pdf.SplitLines([]byte(value), widths[i]-2) {
				lines[i] = append(lines[i], string(l))
			}
			if len(lines[i]) == 0 {
				lines[i] = []string{""}
			}
			if len(lines[i]) > height {
				height = len(lines[i])
			}
		}
		rowHeight := float64(height) * lineHeight
		if pdf.GetY()+rowHeight > pageBottom {
			pdf.AddPage()
			header()
		}
		x, y := pdf.GetXY()
		for i := range data.Headers {
			pdf.Rect(x, y, widths[i], rowHeight, "D")
			for n, l := range lines[i] {
				pdf.SetXY(x+1, y+float64(n)*lineHeight)
				pdf.CellFormat(widths[i]-2, lineHeight, l, "", 0, "", false, 0, "")
			}
			x += widths[i]
		}
		pdf.SetXY(10, y+rowHeight)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidths spreads the page width by Weights, evenly when unset.
func columnWidths(data Dataset) []float64 {
	widths := make([]float64, len(data.Headers))
	total := 0.0
	for i := range widths {
		w := 1.0
		if i < len(data.Weights) && data.Weights[i] > 0 {
			w = data.Weights[i]
		}
		widths[i] = w
		total += w
	}
	for i := range widths {
		widths[i] = pageWidth * widths[i] / total
	}
	return widths
}
