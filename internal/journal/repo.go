// Package journal persists confirmed appointment lifecycle events in
// Postgres so they can be audited after the screen sessions are gone.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tutorflow/internal/queue"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	AppointmentID int       `json:"appointmentId,omitempty"`
	UserID        string    `json:"userId"`
	Role          string    `json:"role"`
	Status        string    `json:"status,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	UserID        string
	AppointmentID int
	Type          string
	Limit         int
	Offset        int
}

// Repository persists journal entries in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id             UUID PRIMARY KEY,
	type           TEXT NOT NULL,
	appointment_id INTEGER NOT NULL DEFAULT 0,
	user_id        TEXT NOT NULL,
	role           TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT '',
	detail         TEXT NOT NULL DEFAULT '',
	occurred_at    TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS lifecycle_events_user_idx ON lifecycle_events (user_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS lifecycle_events_appointment_idx ON lifecycle_events (appointment_id);
`

// Migrate creates the journal table when it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Record stores the event carried by msg. Redelivered events are stored once.
func (r *Repository) Record(ctx context.Context, msg queue.Message) (Entry, error) {
	evt, err := queue.DecodeEvent(msg)
	if err != nil {
		return Entry{}, err
	}
	return r.Insert(ctx, evt)
}

// Insert writes evt. An event whose id is already present is returned as
// stored.
func (r *Repository) Insert(ctx context.Context, evt queue.Event) (Entry, error) {
	if evt.UserID == "" || evt.Type == "" {
		return Entry{}, errors.New("journal: event type and user required")
	}
	e := Entry{
		ID:            evt.ID,
		Type:          evt.Type,
		AppointmentID: evt.AppointmentID,
		UserID:        evt.UserID,
		Role:          evt.Role,
		Status:        evt.Status,
		Detail:        evt.Detail,
		OccurredAt:    evt.At,
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO lifecycle_events (id, type, appointment_id, user_id, role, status, detail, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`, e.ID, e.Type, e.AppointmentID, e.UserID, e.Role, e.Status, e.Detail, e.OccurredAt)
	if err := row.Scan(&e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.Get(ctx, e.ID)
		}
		return Entry{}, err
	}
	return e, nil
}

const columns = `id, type, appointment_id, user_id, role, status, detail, occurred_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	err := s.Scan(&e.ID, &e.Type, &e.AppointmentID, &e.UserID, &e.Role, &e.Status, &e.Detail, &e.OccurredAt, &e.CreatedAt)
	return e, err
}

// Get returns a single entry by id.
func (r *Repository) Get(ctx context.Context, id string) (Entry, error) {
	return scanEntry(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM lifecycle_events WHERE id = $1`, id))
}

// List returns entries newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Entry, error) {
	query, args := listQuery(f)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func listQuery(f Filter) (string, []any) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	var (
		args    []any
		clauses []string
	)
	add := func(col string, v any) {
		args = append(args, v)
		clauses = append(clauses, col+" = $"+strconv.Itoa(len(args)))
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.AppointmentID > 0 {
		add("appointment_id", f.AppointmentID)
	}
	if f.Type != "" {
		add("type", f.Type)
	}
	query := `SELECT ` + columns + ` FROM lifecycle_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)
	return query, args
}
