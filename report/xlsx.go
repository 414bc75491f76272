// Package report exports parsed meshes as XLSX workbooks and reads them
// back.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// Sheet names.
const (
	SummarySheet = "Summary"
	GroupsSheet  = "Groups"
	HistorySheet = "Parse history"
)

var groupHeader = []any{
	"Ordinal", "Name", "Corners", "Triangles", "Texcoords", "Normals",
	"Min X", "Min Y", "Min Z", "Max X", "Max Y", "Max Z",
	"Raw bytes", "Stored bytes",
}

var historyHeader = []any{
	"Method", "Workers", "Groups", "Corners", "Unknown lines",
	"Partition (us)", "Materialize (us)", "Assemble (us)", "Error", "Created",
}

// Report is the content of one workbook.
type Report struct {
	Summary []Field
	Groups  []GroupRow
	History []RunRow
}

// Field is one key/value row of the summary sheet.
type Field struct {
	Key   string
	Value string
}

// GroupRow describes one group. Bounds are meaningful only when HasBounds
// is set.
type GroupRow struct {
	Ordinal     int
	Name        string
	Corners     int
	Texcoords   bool
	Normals     bool
	HasBounds   bool
	Lo, Hi      [3]float32
	RawBytes    int
	StoredBytes int
}

// RunRow is one parse run.
type RunRow struct {
	Method        string
	Workers       int
	Groups        int
	Corners       int
	UnknownLines  int
	PartitionUS   int64
	MaterializeUS int64
	AssembleUS    int64
	Error         string
	CreatedAt     string
}

// Write renders r as an XLSX workbook to w.
func Write(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	for i, field := range r.Summary {
		if err := setRow(f, SummarySheet, i+1, []any{field.Key, field.Value}); err != nil {
			return err
		}
	}
	if len(r.Summary) > 0 {
		if err := f.SetColStyle(SummarySheet, "A", bold); err != nil {
			return fmt.Errorf("styling summary: %w", err)
		}
	}

	if _, err := f.NewSheet(GroupsSheet); err != nil {
		return fmt.Errorf("creating groups sheet: %w", err)
	}
	if err := setRow(f, GroupsSheet, 1, groupHeader); err != nil {
		return err
	}
	for i, g := range r.Groups {
		row := []any{g.Ordinal, g.Name, g.Corners, g.Corners / 3, yesNo(g.Texcoords), yesNo(g.Normals)}
		if g.HasBounds {
			row = append(row, g.Lo[0], g.Lo[1], g.Lo[2], g.Hi[0], g.Hi[1], g.Hi[2])
		} else {
			row = append(row, "", "", "", "", "", "")
		}
		row = append(row, g.RawBytes, g.StoredBytes)
		if err := setRow(f, GroupsSheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(HistorySheet); err != nil {
		return fmt.Errorf("creating history sheet: %w", err)
	}
	if err := setRow(f, HistorySheet, 1, historyHeader); err != nil {
		return err
	}
	for i, run := range r.History {
		row := []any{run.Method, run.Workers, run.Groups, run.Corners, run.UnknownLines,
			run.PartitionUS, run.MaterializeUS, run.AssembleUS, run.Error, run.CreatedAt}
		if err := setRow(f, HistorySheet, i+2, row); err != nil {
			return err
		}
	}

	for _, sheet := range []string{GroupsSheet, HistorySheet} {
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return fmt.Errorf("styling %s header: %w", sheet, err)
		}
	}
	return f.Write(w)
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Read parses a workbook produced by Write.
func Read(rd io.Reader) (*Report, error) {
	f, err := excelize.OpenReader(rd)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	r := &Report{}

	rows, err := f.GetRows(SummarySheet)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", SummarySheet, err)
	}
	for _, row := range rows {
		field := Field{Key: cell(row, 0), Value: cell(row, 1)}
		r.Summary = append(r.Summary, field)
	}

	rows, err = f.GetRows(GroupsSheet)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", GroupsSheet, err)
	}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		g, err := parseGroupRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", GroupsSheet, i+1, err)
		}
		r.Groups = append(r.Groups, g)
	}

	rows, err = f.GetRows(HistorySheet)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", HistorySheet, err)
	}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		run, err := parseRunRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", HistorySheet, i+1, err)
		}
		r.History = append(r.History, run)
	}
	return r, nil
}

// cell returns row[i], or "" past the end; GetRows trims trailing empty
// cells.
func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func parseGroupRow(row []string) (GroupRow, error) {
	var g GroupRow
	var err error
	ints := []struct {
		col int
		dst *int
	}{{0, &g.Ordinal}, {2, &g.Corners}, {12, &g.RawBytes}, {13, &g.StoredBytes}}
	for _, c := range ints {
		if *c.dst, err = strconv.Atoi(cell(row, c.col)); err != nil {
			return g, err
		}
	}
	g.Name = cell(row, 1)
	g.Texcoords = cell(row, 4) == "yes"
	g.Normals = cell(row, 5) == "yes"

	if cell(row, 6) == "" {
		return g, nil
	}
	g.HasBounds = true
	for c := 0; c < 6; c++ {
		v, err := strconv.ParseFloat(cell(row, 6+c), 32)
		if err != nil {
			return g, err
		}
		if c < 3 {
			g.Lo[c] = float32(v)
		} else {
			g.Hi[c-3] = float32(v)
		}
	}
	return g, nil
}

func parseRunRow(row []string) (RunRow, error) {
	run := RunRow{Method: cell(row, 0), Error: cell(row, 8), CreatedAt: cell(row, 9)}
	ints := []struct {
		col int
		dst *int
	}{{1, &run.Workers}, {2, &run.Groups}, {3, &run.Corners}, {4, &run.UnknownLines}}
	for _, c := range ints {
		v, err := strconv.Atoi(cell(row, c.col))
		if err != nil {
			return run, err
		}
		*c.dst = v
	}
	durations := []struct {
		col int
		dst *int64
	}{{5, &run.PartitionUS}, {6, &run.MaterializeUS}, {7, &run.AssembleUS}}
	for _, c := range durations {
		v, err := strconv.ParseInt(cell(row, c.col), 10, 64)
		if err != nil {
			return run, err
		}
		*c.dst = v
	}
	return run, nil
}
