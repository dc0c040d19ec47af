package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend-fieldtrack/internal/buffer"
	"backend-fieldtrack/internal/geo"
	"backend-fieldtrack/internal/position"
	"backend-fieldtrack/internal/watcher"

	"github.com/rs/zerolog"
)

// State is the manager's lifecycle position. Session state is owned here
// and queried, never read from ambient flags.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateActive
	StateEnding
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	default:
		return "idle"
	}
}

// Backend is the session API the manager talks to. In-process deployments
// hand it the *Service directly; device builds use an HTTP client.
type Backend interface {
	Create(ctx context.Context, input CreateInput) (Session, error)
	UpdatePosition(ctx context.Context, jobID string, sample position.Sample) error
	End(ctx context.Context, jobID string) error
}

// initialReadOptions is the one-shot high-confidence read that gates
// session creation.
var initialReadOptions = position.Options{HighAccuracy: true, Timeout: 10 * time.Second, MaxAge: 60 * time.Second}

// Manager owns the tracking lifecycle on the reporting device: the
// one-shot initial read, the session handshake with the backend, the
// adaptive watcher and the sample buffer.
// Identity names the reporting technician; tagged onto every session and
// stored sample.
type Identity struct {
	TechnicianID string
	TenantID     string
}

type Manager struct {
	src     position.Source
	backend Backend
	sinkFor func(jobID string) buffer.Sink
	bufCfg  buffer.Config
	ident   Identity
	log     zerolog.Logger

	mu    sync.Mutex
	state State
	jobID string
	token string
	w     *watcher.Watcher
	buf   *buffer.Buffer
}

func NewManager(src position.Source, backend Backend, sinkFor func(jobID string) buffer.Sink, bufCfg buffer.Config, ident Identity, logger zerolog.Logger) *Manager {
	return &Manager{
		src:     src,
		backend: backend,
		sinkFor: sinkFor,
		bufCfg:  bufCfg,
		ident:   ident,
		log:     logger.With().Str("module", "session").Logger(),
	}
}

// Start opens a session for the job and begins continuous reporting. It
// blocks on one fresh high-confidence position read; if that fails the
// manager reverts to idle and nothing is left running. A second Start
// while a session is requesting or active returns ErrAlreadyActive.
func (m *Manager) Start(ctx context.Context, jobID string, dest *geo.Point) (string, error) {
	m.mu.Lock()
	switch m.state {
	case StateRequesting, StateActive, StateEnding:
		m.mu.Unlock()
		return "", ErrAlreadyActive
	}
	m.state = StateRequesting
	m.mu.Unlock()

	initial, err := m.src.Current(ctx, initialReadOptions)
	if err != nil {
		m.setState(StateIdle)
		return "", fmt.Errorf("initial position: %w", err)
	}

	sess, err := m.backend.Create(ctx, CreateInput{
		JobID:        jobID,
		TechnicianID: m.ident.TechnicianID,
		TenantID:     m.ident.TenantID,
		Initial:      initial,
	})
	if err != nil {
		m.setState(StateIdle)
		return "", fmt.Errorf("create session: %w", err)
	}

	buf := buffer.New(m.sinkFor(jobID), m.bufCfg, m.log)
	w := watcher.New(m.src, m.log, func(s position.Sample) {
		buf.Push(s)
		// fire and forget; a slow backend must never stall capture
		go func() {
			if err := m.backend.UpdatePosition(context.Background(), jobID, s); err != nil {
				m.log.Warn().Err(err).Str("job_id", jobID).Msg("position update failed")
			}
		}()
	}, func(err error) {
		m.log.Error().Err(err).Str("job_id", jobID).Msg("watch failed, ending session")
		if stopErr := m.Stop(context.Background()); stopErr != nil {
			m.log.Warn().Err(stopErr).Msg("stop after watch failure")
		}
	})

	if err := w.Start(dest); err != nil {
		buf.Stop(ctx)
		if endErr := m.backend.End(ctx, jobID); endErr != nil {
			m.log.Warn().Err(endErr).Msg("end after failed watch start")
		}
		m.setState(StateIdle)
		return "", err
	}

	m.mu.Lock()
	m.state = StateActive
	m.jobID = jobID
	m.token = sess.Token
	m.w = w
	m.buf = buf
	m.mu.Unlock()

	m.log.Info().Str("job_id", jobID).Msg("session active")
	return sess.Token, nil
}

// Stop ends the session: watcher down, final buffer flush, backend told.
// Idempotent; stopping an idle or ended manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return nil
	}
	m.state = StateEnding
	w, buf, jobID := m.w, m.buf, m.jobID
	m.w, m.buf = nil, nil
	m.mu.Unlock()

	w.Stop()
	buf.Stop(ctx)
	err := m.backend.End(ctx, jobID)

	m.setState(StateEnded)
	m.log.Info().Str("job_id", jobID).Msg("session ended")
	return err
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the share token of the active session, empty otherwise.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return ""
	}
	return m.token
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
