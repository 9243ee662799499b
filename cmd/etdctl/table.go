package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// printSummary writes the counts of a run followed by its errors and artifacts.
func printSummary(w io.Writer, summary *models.RunSummary) {
	if summary == nil {
		fmt.Fprintln(w, "nothing to report")
		return
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Total", "Processed", "Errors"},
		[][]string{{strconv.Itoa(summary.Total), strconv.Itoa(summary.Processed), strconv.Itoa(len(summary.Errors))}},
		[]columnAlignment{alignRight, alignRight, alignRight},
	))
	if len(summary.Errors) > 0 {
		rows := make([][]string, 0, len(summary.Errors))
		for _, e := range summary.Errors {
			thesis := "-"
			if e.ThesisID != 0 {
				thesis = strconv.FormatInt(e.ThesisID, 10)
			}
			rows = append(rows, []string{thesis, e.Message})
		}
		fmt.Fprintln(w, renderTable([]string{"Thesis", "Error"}, rows, []columnAlignment{alignRight, alignLeft}))
	}
	if len(summary.Artifacts) > 0 {
		names := make([]string, 0, len(summary.Artifacts))
		for name := range summary.Artifacts {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name, summary.Artifacts[name]})
		}
		fmt.Fprintln(w, renderTable([]string{"Artifact", "Location"}, rows, nil))
	}
}
