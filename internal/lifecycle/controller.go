// Package lifecycle owns the appointment list of one screen session and
// applies booking, cancellation and check-in against the backend.
//
// The canonical list only ever holds server-confirmed state. Cancels and
// check-ins in flight are tracked in a separate pending arena. A pending
// cancel hides the appointment from readers until the server answers;
// nothing else is applied optimistically.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"tutorflow/internal/calendar"
	"tutorflow/internal/metrics"
	"tutorflow/internal/model"
	"tutorflow/internal/queue"
	"tutorflow/internal/tutorapi"
)

var (
	// ErrOperationPending is returned when a different mutation for the
	// same appointment is still waiting for the server.
	ErrOperationPending = errors.New("another operation on this appointment is in flight")
	// ErrStudentOnly is returned when a tutor identity tries to book.
	ErrStudentOnly = errors.New("booking requires a student identity")
	// ErrInvalidBooking wraps missing or malformed booking fields.
	ErrInvalidBooking = errors.New("invalid booking")
)

// API is the part of the backend the controller drives. *tutorapi.Client
// satisfies it.
type API interface {
	FetchUpcomingAppointments(ctx context.Context, userID string) ([]model.Appointment, error)
	FetchTutorUpcomingAppointments(ctx context.Context, userID string) ([]model.Appointment, error)
	CreateAppointment(ctx context.Context, req model.CreateAppointmentRequest, idempotencyKey string) (model.StatusResponse, error)
	CancelAppointment(ctx context.Context, appointmentID int) (model.StatusResponse, error)
	CheckinAppointment(ctx context.Context, appointmentID int) (model.StatusResponse, error)
	SubmitReview(ctx context.Context, review model.ReviewSubmission) (model.StatusResponse, error)
}

// Publisher receives lifecycle events for confirmed mutations.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// BookingRequest is what a student picks on the booking screen.
type BookingRequest struct {
	TutorID   int    `json:"tutorId"`
	CourseID  string `json:"courseId"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	Duration  int    `json:"duration"`
}

type opKind int

const (
	opCancel opKind = iota + 1
	opCheckIn
)

// pendingOp is one server call in flight for an appointment. Callers asking
// for the same kind of operation join it and share its outcome.
type pendingOp struct {
	kind    opKind
	hadItem bool
	waiters int
	done    chan struct{}
	err     error
}

// Controller is safe for concurrent use. Responses are applied in the order
// they arrive.
type Controller struct {
	identity model.Identity
	api      API
	keys     KeyStore
	pub      Publisher
	logger   *log.Logger

	mu      sync.Mutex
	items   []model.Appointment
	pending map[int]*pendingOp
	closed  bool
}

// NewController builds a controller acting for identity. keys defaults to an
// in-process store; pub and logger may be nil.
func NewController(identity model.Identity, api API, keys KeyStore, pub Publisher, logger *log.Logger) *Controller {
	if keys == nil {
		keys = NewMemoryKeys()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Controller{
		identity: identity,
		api:      api,
		keys:     keys,
		pub:      pub,
		logger:   logger,
		pending:  make(map[int]*pendingOp),
	}
}

// Identity returns who the controller acts for.
func (c *Controller) Identity() model.Identity { return c.identity }

// LoadAppointments replaces the whole list with the server's view of the
// identity's upcoming appointments. On failure the list is left as it was.
func (c *Controller) LoadAppointments(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	var (
		fresh []model.Appointment
		err   error
	)
	if c.identity.IsTutor() {
		fresh, err = c.api.FetchTutorUpcomingAppointments(ctx, c.identity.UserID)
	} else {
		fresh, err = c.api.FetchUpcomingAppointments(ctx, c.identity.UserID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.discard("load")
	}
	if err != nil {
		return err
	}
	c.items = append([]model.Appointment(nil), fresh...)
	return nil
}

// Book creates an appointment for the signed-in student and reloads the list
// so the server-assigned id shows up. Nothing is added locally before the
// server confirms. The idempotency key for the booking is kept after a
// failure so a retry of the same booking reuses it.
func (c *Controller) Book(ctx context.Context, req BookingRequest) error {
	if c.identity.IsTutor() {
		return ErrStudentOnly
	}
	if err := req.validate(); err != nil {
		return err
	}
	if err := c.checkOpen(); err != nil {
		return err
	}

	fp := c.fingerprint(req)
	key, err := c.keys.Reserve(ctx, fp)
	if err != nil {
		return fmt.Errorf("reserve booking key: %w", err)
	}

	_, err = c.api.CreateAppointment(ctx, model.CreateAppointmentRequest{
		StudentID: c.identity.UserID,
		TutorID:   req.TutorID,
		CourseID:  req.CourseID,
		Date:      req.Date,
		StartTime: req.StartTime,
		Duration:  req.Duration,
	}, key)
	if err := c.checkOpenAfter("book"); err != nil {
		return err
	}
	if err != nil {
		c.logger.Printf("lifecycle.book tutor=%d date=%q failed, key kept for retry: %v", req.TutorID, req.Date, err)
		return err
	}

	if ferr := c.keys.Forget(ctx, fp); ferr != nil {
		c.logger.Printf("lifecycle.book forget key: %v", ferr)
	}
	c.publish(ctx, queue.Event{Type: queue.TypeBooked, Detail: fp})

	if err := c.LoadAppointments(ctx); err != nil {
		return fmt.Errorf("appointment booked, reload failed: %w", err)
	}
	return nil
}

// Cancel asks the server to cancel appointment id. The appointment is hidden
// from Appointments while the call is in flight. It is removed on success
// and shows up again, unchanged, on failure. A server answer saying the
// appointment is already cancelled counts as success. A second Cancel for
// the same id while one is in flight waits for it and returns its outcome.
func (c *Controller) Cancel(ctx context.Context, id int) error {
	op, joined, err := c.begin(id, opCancel)
	if err != nil {
		return err
	}
	if joined {
		return op.wait(ctx)
	}

	_, err = c.api.CancelAppointment(ctx, id)
	if err != nil && tutorapi.IsAlreadyCancelled(err) {
		c.logger.Printf("lifecycle.cancel appointment=%d already cancelled on server", id)
		err = nil
	}

	c.mu.Lock()
	err = c.applyCancel(id, op, err)
	c.settle(id, op, err)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.publish(ctx, queue.Event{Type: queue.TypeCancelled, AppointmentID: id, Status: model.StatusCancelled.String()})
	return nil
}

// applyCancel must be called with mu held.
func (c *Controller) applyCancel(id int, op *pendingOp, err error) error {
	if c.closed {
		return c.discard("cancel")
	}
	idx := c.indexOf(id)
	if err != nil {
		metrics.Rollbacks.WithLabelValues("cancel").Inc()
		c.logger.Printf("lifecycle.cancel appointment=%d rolled back: %v", id, err)
		if op.hadItem && idx < 0 {
			return &model.StaleStateError{AppointmentID: id, Reason: "appointment left the list while the cancel was in flight", Err: err}
		}
		return err
	}
	if idx >= 0 {
		c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
	}
	return nil
}

// CheckIn asks the server to check appointment id in. The local status only
// changes after the server confirms, and only along a legal transition.
// Concurrent check-ins of the same id share one server call.
func (c *Controller) CheckIn(ctx context.Context, id int) error {
	op, joined, err := c.begin(id, opCheckIn)
	if err != nil {
		return err
	}
	if joined {
		return op.wait(ctx)
	}

	_, err = c.api.CheckinAppointment(ctx, id)

	c.mu.Lock()
	err = c.applyCheckIn(id, op, err)
	c.settle(id, op, err)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.publish(ctx, queue.Event{Type: queue.TypeCheckedIn, AppointmentID: id, Status: model.StatusCheckedIn.String()})
	return nil
}

// applyCheckIn must be called with mu held.
func (c *Controller) applyCheckIn(id int, op *pendingOp, err error) error {
	if c.closed {
		return c.discard("checkin")
	}
	if err != nil {
		return err
	}
	idx := c.indexOf(id)
	switch {
	case idx < 0 && op.hadItem:
		return &model.StaleStateError{AppointmentID: id, Reason: "appointment left the list while the check-in was in flight"}
	case idx >= 0:
		cur := c.items[idx].Status
		next, terr := cur.Transition(model.StatusCheckedIn)
		if terr != nil {
			return &model.StaleStateError{AppointmentID: id, Reason: "local status is " + cur.String(), Err: terr}
		}
		c.items[idx].Status = next
		c.items[idx].CheckedIn = true
	}
	return nil
}

// begin registers an operation of kind on id, or joins the one of the same
// kind already in flight. An operation of another kind in flight is refused.
func (c *Controller) begin(id int, kind opKind) (op *pendingOp, joined bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, model.ErrSessionClosed
	}
	if cur, busy := c.pending[id]; busy {
		if cur.kind != kind {
			return nil, false, ErrOperationPending
		}
		cur.waiters++
		return cur, true, nil
	}
	op = &pendingOp{kind: kind, hadItem: c.indexOf(id) >= 0, done: make(chan struct{})}
	c.pending[id] = op
	return op, false, nil
}

// settle must be called with mu held. It releases everyone waiting on op.
func (c *Controller) settle(id int, op *pendingOp, err error) {
	op.err = err
	if c.pending[id] == op {
		delete(c.pending, id)
	}
	close(op.done)
}

func (op *pendingOp) wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitReview posts a review for appointment id. Ratings outside 1..5 are
// refused before any request is made.
func (c *Controller) SubmitReview(ctx context.Context, id, rating int, text string, tags []string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.api.SubmitReview(ctx, model.ReviewSubmission{AppointmentID: id, Rating: rating, Text: text, Tags: tags})
	if err := c.checkOpenAfter("review"); err != nil {
		return err
	}
	if err != nil {
		return err
	}
	c.publish(ctx, queue.Event{Type: queue.TypeReviewed, AppointmentID: id, Detail: fmt.Sprintf("rating=%d", rating)})
	return nil
}

// Appointments returns a copy of the list without appointments whose cancel
// is in flight.
func (c *Controller) Appointments() []model.Appointment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Appointment, 0, len(c.items))
	for _, a := range c.items {
		if op, ok := c.pending[a.ID]; ok && op.kind == opCancel {
			continue
		}
		out = append(out, a)
	}
	return out
}

// DayIndex groups the visible appointments of the given month (zero-based)
// and year by day of month.
func (c *Controller) DayIndex(month, year int) (calendar.DayIndex, error) {
	return calendar.BuildDayIndex(c.Appointments(), month, year)
}

// Close marks the session as torn down. Responses arriving afterwards are
// dropped and never touch the list.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items = nil
}

// Closed reports whether Close was called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.ErrSessionClosed
	}
	return nil
}

func (c *Controller) checkOpenAfter(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.discard(op)
	}
	return nil
}

// discard must be called with mu held.
func (c *Controller) discard(op string) error {
	metrics.DiscardedResponses.Inc()
	c.logger.Printf("lifecycle.%s response discarded, session closed", op)
	return model.ErrSessionClosed
}

// indexOf must be called with mu held.
func (c *Controller) indexOf(id int) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) fingerprint(r BookingRequest) string {
	return strings.Join([]string{c.identity.UserID, fmt.Sprint(r.TutorID), r.CourseID, r.Date, r.StartTime}, "|")
}

func (c *Controller) publish(ctx context.Context, evt queue.Event) {
	if c.pub == nil {
		return
	}
	evt.UserID = c.identity.UserID
	evt.Role = string(c.identity.Role)
	msg, err := queue.NewMessage(evt)
	if err != nil {
		c.logger.Printf("lifecycle.publish %s: %v", evt.Type, err)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.pub.Publish(pctx, msg); err != nil {
		c.logger.Printf("lifecycle.publish %s appointment=%d failed: %v", evt.Type, evt.AppointmentID, err)
	}
}

func (r BookingRequest) validate() error {
	switch {
	case r.TutorID <= 0:
		return fmt.Errorf("%w: tutor id required", ErrInvalidBooking)
	case strings.TrimSpace(r.CourseID) == "":
		return fmt.Errorf("%w: course id required", ErrInvalidBooking)
	case strings.TrimSpace(r.StartTime) == "":
		return fmt.Errorf("%w: start time required", ErrInvalidBooking)
	case r.Duration < 0:
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidBooking)
	}
	if _, err := calendar.ParseDate(r.Date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBooking, err)
	}
	if _, err := tutorapi.ParseClock(r.StartTime); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBooking, err)
	}
	return nil
}
