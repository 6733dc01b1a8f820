package tutorapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tutorflow/internal/calendar"
	"tutorflow/internal/model"
)

// FetchCourses returns every course.
func (c *Client) FetchCourses(ctx context.Context) ([]model.Course, error) {
	var out []model.Course
	if err := c.do(ctx, request{op: "fetch_courses", method: http.MethodGet, path: "/courses"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchTutorsByCourse returns the tutors teaching courseID.
func (c *Client) FetchTutorsByCourse(ctx context.Context, courseID string) ([]model.Tutor, error) {
	var out []model.Tutor
	if err := c.do(ctx, request{op: "fetch_tutors_by_course", method: http.MethodGet, path: "/tutors-by-course/" + url.PathEscape(courseID)}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchTutorSchedules returns a tutor's weekly schedule. Entries with a day
// outside 0..6 or a start not before the end are rejected.
func (c *Client) FetchTutorSchedules(ctx context.Context, tutorID int) ([]model.Schedule, error) {
	const op = "fetch_tutor_schedules"
	var out []model.Schedule
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/tutor-schedules/" + strconv.Itoa(tutorID)}, &out); err != nil {
		return nil, err
	}
	for _, s := range out {
		if err := ValidateSchedule(s); err != nil {
			setOp(err, op)
			c.Logger.Printf("tutorapi.%s tutor=%d: %v", op, tutorID, err)
			return nil, err
		}
	}
	return out, nil
}

// FetchAttendanceLogs returns a tutor's historical attendance logs with the
// calendar position derived from each log's date.
func (c *Client) FetchAttendanceLogs(ctx context.Context, userID string) ([]model.AttendanceLog, error) {
	const op = "fetch_attendance_logs"
	var out []model.AttendanceLog
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/tutor-attendance-logs/" + url.PathEscape(userID)}, &out); err != nil {
		return nil, err
	}
	for i := range out {
		d, err := calendar.ParseDate(out[i].Date)
		if err != nil {
			setOp(err, op)
			c.Logger.Printf("tutorapi.%s appointment=%d: %v", op, out[i].AppointmentID, err)
			return nil, fmt.Errorf("attendance log for appointment %d: %w", out[i].AppointmentID, err)
		}
		out[i].DayOfMonth, out[i].Month, out[i].Year = d.Day, d.Month, d.Year
	}
	return out, nil
}

func setOp(err error, op string) {
	var de *model.DecodeError
	if errors.As(err, &de) {
		de.Op = op
	}
}

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "03:04 PM"}

// ParseClock parses a time of day as the backend writes it ("14:00",
// "14:00:00" or "2:00 PM").
func ParseClock(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &model.DecodeError{Field: "time", Value: raw, Reason: "unrecognised time of day"}
}

// ValidateSchedule checks a schedule window for sanity. It returns a
// *model.DecodeError on failure.
func ValidateSchedule(s model.Schedule) error {
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		return &model.DecodeError{Field: "dayOfWeek", Value: strconv.Itoa(s.DayOfWeek), Reason: fmt.Sprintf("schedule %d: day of week must be 0..6", s.ScheduleID)}
	}
	start, err := ParseClock(s.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseClock(s.EndTime)
	if err != nil {
		return err
	}
	if !start.Before(end) {
		return &model.DecodeError{Field: "startTime", Value: s.StartTime, Reason: fmt.Sprintf("schedule %d: start must be before end %s", s.ScheduleID, s.EndTime)}
	}
	return nil
}
