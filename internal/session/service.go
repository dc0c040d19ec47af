package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-fieldtrack/internal/db"
	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/stream"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// Service is the backend side of session tracking: it owns the
// tracking_sessions table, mints share tokens and answers viewer lookups.
type Service struct {
	db     db.Querier
	hub    *stream.Hub
	redis  *redis.Client
	expiry time.Duration
}

func NewService(q db.Querier, hub *stream.Hub, redisClient *redis.Client, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = 4 * time.Hour
	}
	return &Service{db: q, hub: hub, redis: redisClient, expiry: expiry}
}

// Create opens a session for a job. A job has at most one active session;
// a second create is rejected, not replaced.
func (s *Service) Create(ctx context.Context, input CreateInput) (Session, error) {
	var active int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM tracking_sessions WHERE job_id=$1 AND status=$2
	`, input.JobID, StatusActive).Scan(&active); err != nil {
		return Session{}, err
	}
	if active > 0 {
		return Session{}, ErrSessionActive
	}

	sess := Session{
		ID:              uuid.NewString(),
		JobID:           input.JobID,
		TechnicianID:    input.TechnicianID,
		TenantID:        input.TenantID,
		Token:           mintToken(),
		Status:          StatusActive,
		CurrentPosition: input.Initial,
	}
	if sess.CurrentPosition.CapturedAt.IsZero() {
		sess.CurrentPosition.CapturedAt = time.Now()
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO tracking_sessions
			(id, job_id, technician_id, tenant_id, token, status, started_at,
			 current_latitude, current_longitude, current_accuracy_m, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,now(),$7,$8,$9,now())
		RETURNING started_at
	`, sess.ID, sess.JobID, sess.TechnicianID, sess.TenantID, sess.Token, sess.Status,
		sess.CurrentPosition.Latitude, sess.CurrentPosition.Longitude, sess.CurrentPosition.AccuracyMeters)
	if err := row.Scan(&sess.StartedAt); err != nil {
		// the partial unique index catches the race the COUNT check cannot:
		// two concurrent creates for the same job
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Session{}, ErrSessionActive
		}
		return Session{}, err
	}

	s.cache(ctx, sess.Token, PublicPosition{
		Latitude:       sess.CurrentPosition.Latitude,
		Longitude:      sess.CurrentPosition.Longitude,
		AccuracyMeters: sess.CurrentPosition.AccuracyMeters,
		UpdatedAt:      sess.StartedAt,
	})
	return sess, nil
}

// UpdatePosition stores the most recent position of the job's active
// session and fans it out to live viewers. Only the latest sample is kept
// on the session row; history lives in the location store.
func (s *Service) UpdatePosition(ctx context.Context, jobID string, sample position.Sample) error {
	var token string
	err := s.db.QueryRow(ctx, `
		UPDATE tracking_sessions
		SET current_latitude=$2, current_longitude=$3, current_accuracy_m=$4, last_updated=now()
		WHERE job_id=$1 AND status=$5
		RETURNING token
	`, jobID, sample.Latitude, sample.Longitude, sample.AccuracyMeters, StatusActive).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	pos := PublicPosition{
		Latitude:       sample.Latitude,
		Longitude:      sample.Longitude,
		AccuracyMeters: sample.AccuracyMeters,
		UpdatedAt:      time.Now(),
	}
	s.cache(ctx, token, pos)

	if s.hub != nil {
		payload, _ := json.Marshal(pos)
		s.hub.Broadcast(token, payload)
	}
	return nil
}

// End closes the job's active session. Idempotent: ending a job with no
// active session is a no-op. Token lookups fail deterministically
// afterwards.
func (s *Service) End(ctx context.Context, jobID string) error {
	var token string
	err := s.db.QueryRow(ctx, `
		UPDATE tracking_sessions
		SET status=$2, ended_at=now()
		WHERE job_id=$1 AND status=$3
		RETURNING token
	`, jobID, StatusEnded, StatusActive).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if s.redis != nil {
		if err := s.redis.Del(ctx, cacheKey(token)).Err(); err != nil {
			return fmt.Errorf("drop cached position: %w", err)
		}
	}
	return nil
}

// Resolve answers a viewer lookup. It distinguishes a token that never
// existed from one whose session has ended or gone stale.
func (s *Service) Resolve(ctx context.Context, token string) (PublicPosition, error) {
	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, cacheKey(token)).Result(); err == nil {
			var pos PublicPosition
			if json.Unmarshal([]byte(raw), &pos) == nil {
				return pos, nil
			}
		}
	}

	var (
		status      string
		pos         PublicPosition
		lastUpdated time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT status, current_latitude, current_longitude, current_accuracy_m, last_updated
		FROM tracking_sessions WHERE token=$1
	`, token).Scan(&status, &pos.Latitude, &pos.Longitude, &pos.AccuracyMeters, &lastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return PublicPosition{}, ErrSessionNotFound
	}
	if err != nil {
		return PublicPosition{}, err
	}

	if status != StatusActive || time.Since(lastUpdated) > s.expiry {
		return PublicPosition{}, ErrSessionExpired
	}

	pos.UpdatedAt = lastUpdated
	return pos, nil
}

// cacheTTL keeps cached positions at most one viewer poll interval old.
// The cache only accelerates Resolve; a missed invalidation heals itself
// within the TTL instead of serving a dead session for hours.
const cacheTTL = 15 * time.Second

func (s *Service) cache(ctx context.Context, token string, pos PublicPosition) {
	if s.redis == nil {
		return
	}
	payload, _ := json.Marshal(pos)
	_ = s.redis.Set(ctx, cacheKey(token), payload, cacheTTL).Err()
}

func cacheKey(token string) string {
	return "tracking:token:" + token
}
