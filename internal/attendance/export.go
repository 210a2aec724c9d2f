package attendance

import (
	"encoding/csv"
	"errors"
	"io"
	"sort"
	"time"
)

// ExportFilename is the download name for CSV exports.
const ExportFilename = "attendance_by_date.csv"

// ErrNoRecords signals an export over zero records; no file is emitted.
var ErrNoRecords = errors.New("no attendance records found")

const (
	exportDateFormat = "2006-01-02"
	exportTimeFormat = "15:04"
)

// Matrix is the per-student, per-date check-in grid behind the CSV export.
// Students appear in order of their earliest record; dates ascend. When a
// student checked in twice on one date, the later time wins the cell.
type Matrix struct {
	Dates    []string
	Students []string
	cells    map[string]map[string]string // student -> date -> time
}

// BuildMatrix groups records into a matrix. Records are grouped in
// timestamp order regardless of input order so the output is deterministic.
// Dates and times are rendered in loc (nil means UTC).
func BuildMatrix(records []Record, loc *time.Location) (*Matrix, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	m := &Matrix{cells: make(map[string]map[string]string)}
	dateSeen := make(map[string]bool)
	for _, rec := range sorted {
		at := rec.OccurredAt.In(loc)
		date := at.Format(exportDateFormat)
		if !dateSeen[date] {
			dateSeen[date] = true
			m.Dates = append(m.Dates, date)
		}
		row, ok := m.cells[rec.StudentCode]
		if !ok {
			row = make(map[string]string)
			m.cells[rec.StudentCode] = row
			m.Students = append(m.Students, rec.StudentCode)
		}
		row[date] = at.Format(exportTimeFormat)
	}
	sort.Strings(m.Dates)
	return m, nil
}

// Cell returns the check-in time for a student on a date, empty when absent.
func (m *Matrix) Cell(student, date string) string {
	return m.cells[student][date]
}

// WriteCSV emits the matrix as RFC 4180 CSV: a header of "Student Code"
// followed by the sorted dates, then one row per student with the check-in
// time or an empty cell per date.
func (m *Matrix) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append([]string{"Student Code"}, m.Dates...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, student := range m.Students {
		row := make([]string, 0, len(m.Dates)+1)
		row = append(row, student)
		for _, date := range m.Dates {
			row = append(row, m.cells[student][date])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV is the one-shot form used by the download handler.
func ExportCSV(w io.Writer, records []Record, loc *time.Location) error {
	m, err := BuildMatrix(records, loc)
	if err != nil {
		return err
	}
	return m.WriteCSV(w)
}
