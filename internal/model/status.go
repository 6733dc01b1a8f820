package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AppointmentStatus is where an appointment is in its lifecycle.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCheckedIn AppointmentStatus = "checked_in"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// transitions is the full lifecycle graph. Statuses without outgoing
// edges are terminal.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns to if the edge is legal, or a *TransitionError.
func (s AppointmentStatus) Transition(to AppointmentStatus) (AppointmentStatus, error) {
	if !s.CanTransition(to) {
		return s, &TransitionError{From: s, To: to}
	}
	return to, nil
}

// IsTerminal reports whether no transition leaves s.
func (s AppointmentStatus) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Valid reports whether s is one of the known statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// ParseStatus accepts the spellings the backend has been seen to use:
// "checked_in", "Checked In", "CheckedIn", "canceled" and so on.
func ParseStatus(raw string) (AppointmentStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(norm)
	switch norm {
	case "scheduled", "upcoming", "booked":
		return StatusScheduled, nil
	case "checkedin":
		return StatusCheckedIn, nil
	case "completed":
		return StatusCompleted, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "noshow":
		return StatusNoShow, nil
	}
	return "", &DecodeError{Field: "status", Value: raw, Reason: "unknown appointment status"}
}

func (s *AppointmentStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return &DecodeError{Field: "status", Value: string(b), Reason: "status must be a string", Err: err}
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s AppointmentStatus) String() string { return string(s) }

// TransitionError is returned for an edge that is not in the lifecycle graph.
type TransitionError struct {
	From AppointmentStatus
	To   AppointmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal appointment transition %s -> %s", e.From, e.To)
}
