package jobstatus

import (
	"context"
	"time"

	"backend-fieldtrack/internal/db"
	"backend-fieldtrack/internal/policy"
	"backend-fieldtrack/internal/position"

	"github.com/google/uuid"
)

// UpdateInput is one status transition reported by a technician. Location
// is optional context captured at the moment of the update; failing to get
// it never blocks the status change.
type UpdateInput struct {
	JobID        string           `json:"job_id" validate:"required"`
	TechnicianID string           `json:"technician_id" validate:"required"`
	Previous     string           `json:"previous_status"`
	New          string           `json:"new_status" validate:"required"`
	Notes        string           `json:"notes"`
	Location     *position.Sample `json:"location,omitempty"`
}

// Result reports the two independent outcomes of a status update: whether
// the status persisted, and what the tracking workflow should do next.
// Tracking start is consent-gated; OfferTracking only means "ask".
type Result struct {
	ID            string `json:"id"`
	Persisted     bool   `json:"persisted"`
	OfferTracking bool   `json:"offer_tracking"`
	StopTracking  bool   `json:"stop_tracking"`
}

type Service struct {
	db db.Querier
}

func NewService(q db.Querier) *Service {
	return &Service{db: q}
}

// Update records the status transition. The tracking flags are computed
// even when nothing listens to them; a status change must always be
// allowed to persist regardless of what happens to tracking afterwards.
func (s *Service) Update(ctx context.Context, input UpdateInput) (Result, error) {
	res := Result{
		ID:            uuid.NewString(),
		OfferTracking: policy.ShouldOfferTracking(input.Previous, input.New),
		StopTracking:  policy.ShouldStopTracking(input.Previous, input.New),
	}

	var (
		lat, lng, acc *float64
		capturedAt    *time.Time
	)
	if input.Location != nil {
		lat = &input.Location.Latitude
		lng = &input.Location.Longitude
		acc = &input.Location.AccuracyMeters
		capturedAt = &input.Location.CapturedAt
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO job_status_updates
			(id, job_id, technician_id, previous_status, new_status, status_notes,
			 location_latitude, location_longitude, location_accuracy, location_captured_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, res.ID, input.JobID, input.TechnicianID, input.Previous, input.New, input.Notes,
		lat, lng, acc, capturedAt)
	if err != nil {
		// the tracking decision stands even when storage is down; the
		// caller gets both outcomes and decides what to retry
		return res, err
	}

	res.Persisted = true
	return res, nil
}
