package viewer

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-fieldtrack/internal/session"

	"github.com/rs/zerolog"
)

// Resolver answers token lookups. The in-process implementation is
// *session.Service; remote viewers use an HTTP client.
type Resolver interface {
	Resolve(ctx context.Context, token string) (session.PublicPosition, error)
}

// Phase is what the viewer UI should show. Unavailable is terminal: the
// token is dead and polling has stopped. Delayed means the last resolve
// failed transiently and the displayed position is stale.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseLive
	PhaseDelayed
	PhaseUnavailable
)

func (p Phase) String() string {
	switch p {
	case PhaseLive:
		return "live"
	case PhaseDelayed:
		return "delayed"
	case PhaseUnavailable:
		return "unavailable"
	default:
		return "connecting"
	}
}

// Snapshot is a point-in-time view of the poller's state.
type Snapshot struct {
	Phase       Phase
	Position    session.PublicPosition
	HasPosition bool
}

const defaultInterval = 15 * time.Second

// Poller gives a read-only observer a near-real-time view of a session by
// polling its token on a fixed interval.
type Poller struct {
	resolver Resolver
	token    string
	interval time.Duration
	log      zerolog.Logger
	onUpdate func(Snapshot)

	mu      sync.Mutex
	snap    Snapshot
	started bool
	done    chan struct{}
	once    sync.Once
}

func New(resolver Resolver, token string, interval time.Duration, logger zerolog.Logger, onUpdate func(Snapshot)) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		resolver: resolver,
		token:    token,
		interval: interval,
		log:      logger.With().Str("module", "viewer").Logger(),
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
}

// Start resolves the token once, then polls on the interval until the
// token dies or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	if terminal := p.poll(ctx); terminal {
		return
	}

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if terminal := p.poll(ctx); terminal {
					return
				}
			}
		}
	}()
}

// Stop halts polling. Idempotent.
func (p *Poller) Stop() {
	p.once.Do(func() {
		close(p.done)
	})
}

// Snapshot returns the current view state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *Poller) poll(ctx context.Context) (terminal bool) {
	pos, err := p.resolver.Resolve(ctx, p.token)

	p.mu.Lock()
	switch {
	case err == nil:
		p.snap.Phase = PhaseLive
		p.snap.Position = pos
		p.snap.HasPosition = true
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		// dead token: stop retrying, keep nothing live on screen
		p.snap.Phase = PhaseUnavailable
		terminal = true
	default:
		// transient: keep the last known position displayed
		if p.snap.HasPosition {
			p.snap.Phase = PhaseDelayed
		}
		p.log.Warn().Err(err).Msg("resolve failed, retrying next tick")
	}
	snap := p.snap
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(snap)
	}
	if terminal {
		p.Stop()
	}
	return terminal
}
