package session

import (
	"errors"
	"time"

	"backend-fieldtrack/internal/position"
)

var (
	// ErrSessionNotFound means the token never matched a session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired means the session existed but has ended or gone
	// stale; viewers get a terminal "tracking unavailable" state.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionActive rejects a second session for a job that already has
	// an active one.
	ErrSessionActive = errors.New("job already has an active session")
	// ErrAlreadyActive rejects a second Start on a manager that is already
	// requesting or running a session.
	ErrAlreadyActive = errors.New("tracking already active")
)

const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Session is one bounded period of live position sharing for a job. The
// token is the sole access control for viewers and is only valid while the
// status is active.
type Session struct {
	ID              string          `json:"id"`
	JobID           string          `json:"job_id"`
	TechnicianID    string          `json:"technician_id"`
	TenantID        string          `json:"tenant_id"`
	Token           string          `json:"token"`
	Status          string          `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at,omitempty"`
	CurrentPosition position.Sample `json:"current_position"`
}

// CreateInput carries everything needed to open a session. Initial is a
// fresh one-shot reading taken before the session record exists.
type CreateInput struct {
	JobID        string          `json:"job_id" validate:"required"`
	TechnicianID string          `json:"technician_id" validate:"required"`
	TenantID     string          `json:"tenant_id" validate:"required"`
	Initial      position.Sample `json:"initial"`
}

// PublicPosition is the read-only view a token resolves to.
type PublicPosition struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_m"`
	UpdatedAt      time.Time `json:"updated_at"`
}
