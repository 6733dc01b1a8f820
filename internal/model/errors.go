package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRating is returned for review ratings outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	// ErrSessionClosed is returned when a response arrives after the
	// owning screen session was closed; the response was discarded.
	ErrSessionClosed = errors.New("session closed, response discarded")
)

// NetworkError is a transport or connectivity failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network error: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError means a payload did not have the expected shape.
type DecodeError struct {
	Op     string
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" in %s", e.Field)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (%q)", e.Value)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ServerRejectedError is a non-2xx response from the backend.
type ServerRejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServerRejectedError) Error() string {
	return fmt.Sprintf("%s: server rejected (%d): %s", e.Op, e.StatusCode, e.Message)
}

// StaleStateError means a confirmed server response could not be applied
// because the local state moved on in the meantime.
type StaleStateError struct {
	AppointmentID int
	Reason        string
	Err           error
}

func (e *StaleStateError) Error() string {
	msg := fmt.Sprintf("appointment %d: stale local state: %s", e.AppointmentID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StaleStateError) Unwrap() error { return e.Err }
