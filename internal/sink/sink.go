package sink

import (
	"context"
	"fmt"
	"strings"

	"backend-fieldtrack/internal/db"
	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/session"
)

// Store appends location batches to the technician_locations table.
// Inserts only, no upserts: retried batches may insert duplicates and
// downstream readers take the most recent row.
type Store struct {
	db db.Querier
}

func NewStore(q db.Querier) *Store {
	return &Store{db: q}
}

func (s *Store) SaveBatch(ctx context.Context, ident session.Identity, jobID string, samples []position.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`INSERT INTO technician_locations (technician_id, job_id, tenant_id, latitude, longitude, accuracy_m, recorded_at) VALUES `)
	for i, sample := range samples {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, ident.TechnicianID, jobID, ident.TenantID,
			sample.Latitude, sample.Longitude, sample.AccuracyMeters, sample.CapturedAt)
	}

	_, err := s.db.Exec(ctx, sb.String(), args...)
	return err
}

// Bound fixes the identity fields so the store satisfies buffer.Sink.
type Bound struct {
	store *Store
	ident session.Identity
	jobID string
}

func (s *Store) Bind(ident session.Identity, jobID string) *Bound {
	return &Bound{store: s, ident: ident, jobID: jobID}
}

func (b *Bound) SaveBatch(ctx context.Context, samples []position.Sample) error {
	return b.store.SaveBatch(ctx, b.ident, b.jobID, samples)
}
