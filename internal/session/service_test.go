package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/stream"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var errSession = errors.New("session error")

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestCreateMintsUnguessableToken(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tracking_sessions`).
		WithArgs("job-1", StatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO tracking_sessions`).
		WithArgs(pgxmock.AnyArg(), "job-1", "tech-1", "tenant-1", pgxmock.AnyArg(), StatusActive, 39.78, -89.65, 12.0).
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(time.Now()))

	svc := NewService(mock, nil, nil, 0)
	sess, err := svc.Create(context.Background(), CreateInput{
		JobID:        "job-1",
		TechnicianID: "tech-1",
		TenantID:     "tenant-1",
		Initial:      position.Sample{Latitude: 39.78, Longitude: -89.65, AccuracyMeters: 12, CapturedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sess.Token) < 40 {
		t.Fatalf("token too short to be unguessable: %q", sess.Token)
	}
	if sess.Status != StatusActive {
		t.Fatalf("expected active session")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRejectsSecondActiveSession(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tracking_sessions`).
		WithArgs("job-1", StatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	svc := NewService(mock, nil, nil, 0)
	_, err := svc.Create(context.Background(), CreateInput{JobID: "job-1", TechnicianID: "t", TenantID: "x"})
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestCreateRaceMapsUniqueViolation(t *testing.T) {
	mock := newMock(t)

	// both racers pass the COUNT check; the loser hits the partial
	// unique index on insert
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tracking_sessions`).
		WithArgs("job-1", StatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO tracking_sessions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	svc := NewService(mock, nil, nil, 0)
	_, err := svc.Create(context.Background(), CreateInput{JobID: "job-1", TechnicianID: "t", TenantID: "x"})
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestCreateInsertError(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tracking_sessions`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO tracking_sessions`).WillReturnError(errSession)

	svc := NewService(mock, nil, nil, 0)
	_, err := svc.Create(context.Background(), CreateInput{JobID: "job-1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestUpdatePositionBroadcastsAndCaches(t *testing.T) {
	mock := newMock(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hub := stream.NewHub(nil, zerolog.Nop())
	client := hub.Register("tok-1")
	defer hub.Unregister(client)

	mock.ExpectQuery(`UPDATE tracking_sessions`).
		WithArgs("job-1", 1.0, 2.0, 3.0, StatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"token"}).AddRow("tok-1"))

	svc := NewService(mock, hub, rdb, time.Hour)
	err := svc.UpdatePosition(context.Background(), "job-1", position.Sample{Latitude: 1, Longitude: 2, AccuracyMeters: 3})
	if err != nil {
		t.Fatalf("update position: %v", err)
	}

	select {
	case msg := <-client.Send:
		var pos PublicPosition
		if err := json.Unmarshal(msg, &pos); err != nil || pos.Latitude != 1 {
			t.Fatalf("unexpected broadcast payload: %s", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("expected broadcast to viewer")
	}

	raw, err := rdb.Get(context.Background(), cacheKey("tok-1")).Result()
	if err != nil {
		t.Fatalf("expected cached position: %v", err)
	}
	var cached PublicPosition
	if err := json.Unmarshal([]byte(raw), &cached); err != nil || cached.Longitude != 2 {
		t.Fatalf("unexpected cache payload: %s", raw)
	}

	// the cache accelerates polling; its TTL must not outlive a poll cycle
	if ttl := mr.TTL(cacheKey("tok-1")); ttl <= 0 || ttl > cacheTTL {
		t.Fatalf("cached position must expire within %v, ttl=%v", cacheTTL, ttl)
	}
}

func TestUpdatePositionNoActiveSession(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`UPDATE tracking_sessions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	svc := NewService(mock, nil, nil, 0)
	err := svc.UpdatePosition(context.Background(), "job-1", position.Sample{})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEndIdempotent(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`UPDATE tracking_sessions`).
		WithArgs("job-1", StatusEnded, StatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"token"}).AddRow("tok-1"))
	mock.ExpectQuery(`UPDATE tracking_sessions`).
		WithArgs("job-1", StatusEnded, StatusActive).
		WillReturnError(pgx.ErrNoRows)

	svc := NewService(mock, nil, nil, 0)
	if err := svc.End(context.Background(), "job-1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := svc.End(context.Background(), "job-1"); err != nil {
		t.Fatalf("second end must be a no-op: %v", err)
	}
}

func TestEndDropsCachedPosition(t *testing.T) {
	mock := newMock(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mr.Set(cacheKey("tok-1"), `{"latitude":1}`)

	mock.ExpectQuery(`UPDATE tracking_sessions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"token"}).AddRow("tok-1"))

	svc := NewService(mock, nil, rdb, time.Hour)
	if err := svc.End(context.Background(), "job-1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	if mr.Exists(cacheKey("tok-1")) {
		t.Fatalf("ending a session must drop the cached position")
	}
}

func TestEndSurfacesCacheDropFailure(t *testing.T) {
	mock := newMock(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mock.ExpectQuery(`UPDATE tracking_sessions`).
		WillReturnRows(pgxmock.NewRows([]string{"token"}).AddRow("tok-1"))

	mr.SetError("redis down")

	svc := NewService(mock, nil, rdb, time.Hour)
	if err := svc.End(context.Background(), "job-1"); err == nil {
		t.Fatalf("a failed cache invalidation must not be swallowed")
	}
}

func TestResolveActive(t *testing.T) {
	mock := newMock(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT status, current_latitude, current_longitude, current_accuracy_m, last_updated`).
		WithArgs("tok-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "lat", "lng", "acc", "last_updated"}).
			AddRow(StatusActive, 39.78, -89.65, 10.0, now))

	svc := NewService(mock, nil, nil, time.Hour)
	pos, err := svc.Resolve(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pos.Latitude != 39.78 || !pos.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestResolveDistinguishesNotFoundFromExpired(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT status, current_latitude, current_longitude, current_accuracy_m, last_updated`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT status, current_latitude, current_longitude, current_accuracy_m, last_updated`).
		WithArgs("ended").
		WillReturnRows(pgxmock.NewRows([]string{"status", "lat", "lng", "acc", "last_updated"}).
			AddRow(StatusEnded, 1.0, 2.0, 3.0, time.Now()))

	svc := NewService(mock, nil, nil, time.Hour)

	if _, err := svc.Resolve(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), "ended"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestResolveStaleSessionExpires(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`SELECT status, current_latitude, current_longitude, current_accuracy_m, last_updated`).
		WithArgs("stale").
		WillReturnRows(pgxmock.NewRows([]string{"status", "lat", "lng", "acc", "last_updated"}).
			AddRow(StatusActive, 1.0, 2.0, 3.0, time.Now().Add(-5*time.Hour)))

	svc := NewService(mock, nil, nil, 4*time.Hour)
	if _, err := svc.Resolve(context.Background(), "stale"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired for stale session, got %v", err)
	}
}

func TestResolveUsesCache(t *testing.T) {
	mock := newMock(t) // no expectations: the DB must not be hit
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cached, _ := json.Marshal(PublicPosition{Latitude: 7, Longitude: 8, UpdatedAt: time.Now()})
	mr.Set(cacheKey("tok-1"), string(cached))

	svc := NewService(mock, nil, rdb, time.Hour)
	pos, err := svc.Resolve(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("resolve from cache: %v", err)
	}
	if pos.Latitude != 7 {
		t.Fatalf("unexpected cached position: %+v", pos)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("cache hit must not query postgres: %v", err)
	}
}
