// Package calendar turns the backend's human-readable appointment dates
// into calendar positions and groups appointments by day for a month view.
package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tutorflow/internal/model"
)

var monthIndex = map[string]int{
	"January": 0, "February": 1, "March": 2, "April": 3,
	"May": 4, "June": 5, "July": 6, "August": 7,
	"September": 8, "October": 9, "November": 10, "December": 11,
}

// Date is a calendar position. Month is zero-based (January == 0).
type Date struct {
	Day   int
	Month int
	Year  int
}

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month+1), d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string { return d.Time().Format("January 2, 2006") }

// ParseDate parses "<MonthName> <Day>, <Year>", e.g. "March 15, 2025".
// Month names are English and case-sensitive. Anything unrecognised is a
// *model.DecodeError; nothing is guessed.
func ParseDate(raw string) (Date, error) {
	fields := strings.Fields(raw)
	if len(fields) < 3 {
		return Date{}, dateError(raw, "expected \"<Month> <Day>, <Year>\"", nil)
	}

	month, ok := monthIndex[fields[0]]
	if !ok {
		return Date{}, dateError(raw, "unknown month name "+strconv.Quote(fields[0]), nil)
	}

	day, err := strconv.Atoi(strings.TrimSuffix(fields[1], ","))
	if err != nil {
		return Date{}, dateError(raw, "bad day of month", err)
	}

	year, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return Date{}, dateError(raw, "bad year", err)
	}

	d := Date{Day: day, Month: month, Year: year}
	if d.Time().Day() != day {
		return Date{}, dateError(raw, fmt.Sprintf("day %d out of range", day), nil)
	}
	return d, nil
}

func dateError(raw, reason string, err error) error {
	return &model.DecodeError{Field: "date", Value: raw, Reason: reason, Err: err}
}

// DayIndex maps day-of-month to the appointments on that day.
type DayIndex map[int][]model.Appointment

// Days returns the indexed days in ascending order.
func (idx DayIndex) Days() []int {
	days := make([]int, 0, len(idx))
	for d := range idx {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

// BuildDayIndex groups appts by day for the displayed month (zero-based)
// and year. Appointments in other months are left out and input order is
// kept within a day. appts is not modified.
//
// Appointments whose date does not parse are skipped; their errors are
// joined into the returned error while the index stays usable.
func BuildDayIndex(appts []model.Appointment, month, year int) (DayIndex, error) {
	idx := make(DayIndex)
	var errs []error
	for _, a := range appts {
		d, err := ParseDate(a.Date)
		if err != nil {
			errs = append(errs, fmt.Errorf("appointment %d: %w", a.ID, err))
			continue
		}
		if d.Month != month || d.Year != year {
			continue
		}
		idx[d.Day] = append(idx[d.Day], a)
	}
	return idx, errors.Join(errs...)
}
