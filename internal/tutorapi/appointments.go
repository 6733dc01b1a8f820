package tutorapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"tutorflow/internal/model"
)

// DefaultDurationMinutes is used when a booking does not say how long it is.
const DefaultDurationMinutes = 60

type appointmentWire struct {
	ID               int                     `json:"id"`
	AppointmentID    int                     `json:"appointmentId"`
	CounterpartyName string                  `json:"counterpartyName"`
	TutorName        string                  `json:"tutorName"`
	StudentName      string                  `json:"studentName"`
	CourseName       string                  `json:"courseName"`
	Date             string                  `json:"date"`
	Time             string                  `json:"time"`
	DurationMinutes  int                     `json:"durationMinutes"`
	Duration         int                     `json:"duration"`
	Status           model.AppointmentStatus `json:"status"`
	CheckedIn        bool                    `json:"checkedIn"`

	DayOfMonth int `json:"dayOfMonth"`
	Month      int `json:"month"`
	Year       int `json:"year"`
}

func (w appointmentWire) toModel(op string) (model.Appointment, error) {
	a := model.Appointment{
		ID:               firstNonZero(w.ID, w.AppointmentID),
		CounterpartyName: firstNonEmpty(w.CounterpartyName, w.TutorName, w.StudentName),
		CourseName:       w.CourseName,
		Date:             w.Date,
		Time:             w.Time,
		DurationMinutes:  firstNonZero(w.DurationMinutes, w.Duration),
		Status:           w.Status,
		CheckedIn:        w.CheckedIn,
	}
	if a.ID <= 0 {
		return model.Appointment{}, &model.DecodeError{Op: op, Field: "id", Value: strconv.Itoa(a.ID), Reason: "appointment id must be positive"}
	}
	if !a.Status.Valid() {
		return model.Appointment{}, &model.DecodeError{Op: op, Field: "status", Reason: fmt.Sprintf("appointment %d has no status", a.ID)}
	}
	if a.Status == model.StatusCheckedIn {
		a.CheckedIn = true
	}
	return a, nil
}

func (c *Client) fetchAppointments(ctx context.Context, op, path string) ([]model.Appointment, error) {
	var wire []appointmentWire
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: path}, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Appointment, 0, len(wire))
	for _, w := range wire {
		a, err := w.toModel(op)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// FetchUpcomingAppointments returns a student's upcoming appointments.
func (c *Client) FetchUpcomingAppointments(ctx context.Context, userID string) ([]model.Appointment, error) {
	return c.fetchAppointments(ctx, "fetch_upcoming_appointments", "/upcoming-appointments/"+url.PathEscape(userID))
}

// FetchTutorAppointments returns every appointment of a tutor.
func (c *Client) FetchTutorAppointments(ctx context.Context, userID string) ([]model.Appointment, error) {
	return c.fetchAppointments(ctx, "fetch_tutor_appointments", "/tutor-appointments/"+url.PathEscape(userID))
}

// FetchTutorUpcomingAppointments returns a tutor's upcoming appointments.
func (c *Client) FetchTutorUpcomingAppointments(ctx context.Context, userID string) ([]model.Appointment, error) {
	return c.fetchAppointments(ctx, "fetch_tutor_upcoming_appointments", "/tutor-upcoming-appointments/"+url.PathEscape(userID))
}

// FetchUserAppointments returns the dashboard variant, which carries the
// server-computed calendar position of every appointment.
func (c *Client) FetchUserAppointments(ctx context.Context, userID string) ([]model.DashboardAppointment, error) {
	const op = "fetch_user_appointments"
	var wire []appointmentWire
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/user-appointments/" + url.PathEscape(userID)}, &wire); err != nil {
		return nil, err
	}
	out := make([]model.DashboardAppointment, 0, len(wire))
	for _, w := range wire {
		a, err := w.toModel(op)
		if err != nil {
			return nil, err
		}
		if w.Month < 0 || w.Month > 11 || w.DayOfMonth < 1 || w.DayOfMonth > 31 {
			return nil, &model.DecodeError{Op: op, Field: "dayOfMonth/month", Reason: fmt.Sprintf("appointment %d has no valid calendar position", a.ID)}
		}
		out = append(out, model.DashboardAppointment{Appointment: a, DayOfMonth: w.DayOfMonth, Month: w.Month, Year: w.Year})
	}
	return out, nil
}

// CreateAppointment books a session. The server assigns the id. The call
// is not idempotent on its own; idempotencyKey lets the server recognise a
// retried submission and should be reused for retries of the same booking.
func (c *Client) CreateAppointment(ctx context.Context, req model.CreateAppointmentRequest, idempotencyKey string) (model.StatusResponse, error) {
	if req.Duration <= 0 {
		req.Duration = DefaultDurationMinutes
	}
	r := request{op: "create_appointment", method: http.MethodPost, path: "/create-appointment", body: req}
	if idempotencyKey != "" {
		r.headers = map[string]string{IdempotencyHeader: idempotencyKey}
	}
	var out model.StatusResponse
	err := c.do(ctx, r, &out)
	return out, err
}

// CancelAppointment cancels a scheduled appointment. The server decides
// whether the appointment may still be cancelled.
func (c *Client) CancelAppointment(ctx context.Context, appointmentID int) (model.StatusResponse, error) {
	var out model.StatusResponse
	err := c.do(ctx, request{op: "cancel_appointment", method: http.MethodPut, path: "/cancel-appointment/" + strconv.Itoa(appointmentID)}, &out)
	return out, err
}

// CheckinAppointment moves a scheduled appointment to checked-in.
func (c *Client) CheckinAppointment(ctx context.Context, appointmentID int) (model.StatusResponse, error) {
	var out model.StatusResponse
	err := c.do(ctx, request{op: "checkin_appointment", method: http.MethodPut, path: "/checkin-appointment/" + strconv.Itoa(appointmentID)}, &out)
	return out, err
}

// SubmitReview posts a review. Only the rating range is checked here;
// whether the appointment is completed is for the server to decide.
func (c *Client) SubmitReview(ctx context.Context, review model.ReviewSubmission) (model.StatusResponse, error) {
	if review.Rating < 1 || review.Rating > 5 {
		return model.StatusResponse{}, model.ErrInvalidRating
	}
	if review.Tags == nil {
		review.Tags = []string{}
	}
	var out model.StatusResponse
	err := c.do(ctx, request{op: "submit_review", method: http.MethodPost, path: "/submit-review", body: review}, &out)
	return out, err
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
