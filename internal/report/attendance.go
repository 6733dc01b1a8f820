// Package report renders tutor attendance logs as spreadsheets.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"tutorflow/internal/model"
)

const (
	logSheet     = "Attendance"
	summarySheet = "Summary"
)

var logHeader = []interface{}{"Date", "Student", "Course code", "Course title", "Status", "Checked in"}

// WriteAttendance writes logs as an XLSX workbook with one row per log,
// oldest first, and a per-status summary sheet.
func WriteAttendance(w io.Writer, logs []model.AttendanceLog) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", logSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 15})
	if err != nil {
		return err
	}

	if err := f.SetSheetRow(logSheet, "A1", &logHeader); err != nil {
		return err
	}
	if err := f.SetRowStyle(logSheet, 1, 1, bold); err != nil {
		return err
	}

	rows := sorted(logs)
	for i, l := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		checked := "No"
		if l.IsCheckedIn() {
			checked = "Yes"
		}
		row := []interface{}{logDate(l), l.CounterpartyName, l.CourseCode, l.CourseTitle, l.Status.String(), checked}
		if err := f.SetSheetRow(logSheet, cell, &row); err != nil {
			return fmt.Errorf("row for appointment %d: %w", l.AppointmentID, err)
		}
	}
	if len(rows) > 0 {
		last, _ := excelize.CoordinatesToCellName(1, len(rows)+1)
		if err := f.SetCellStyle(logSheet, "A2", last, dateStyle); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(logSheet, "A", "D", 18); err != nil {
		return err
	}

	if err := writeSummary(f, rows, bold); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func writeSummary(f *excelize.File, logs []model.AttendanceLog, bold int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	counts := map[string]int{}
	checked := 0
	for _, l := range logs {
		counts[l.Status.String()]++
		if l.IsCheckedIn() {
			checked++
		}
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	if err := f.SetSheetRow(summarySheet, "A1", &[]interface{}{"Status", "Sessions"}); err != nil {
		return err
	}
	if err := f.SetRowStyle(summarySheet, 1, 1, bold); err != nil {
		return err
	}
	r := 2
	for _, s := range statuses {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", r), &[]interface{}{s, counts[s]}); err != nil {
			return err
		}
		r++
	}
	if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", r), &[]interface{}{"Total", len(logs)}); err != nil {
		return err
	}
	return f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", r+1), &[]interface{}{"Checked in", checked})
}

func logDate(l model.AttendanceLog) interface{} {
	if l.Year == 0 {
		return l.Date
	}
	return time.Date(l.Year, time.Month(l.Month+1), l.DayOfMonth, 0, 0, 0, 0, time.UTC)
}

func sorted(logs []model.AttendanceLog) []model.AttendanceLog {
	out := append([]model.AttendanceLog(nil), logs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.DayOfMonth != b.DayOfMonth {
			return a.DayOfMonth < b.DayOfMonth
		}
		return a.AppointmentID < b.AppointmentID
	})
	return out
}
