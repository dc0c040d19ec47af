package watcher

import (
	"errors"
	"sync"
	"time"

	"backend-fieldtrack/internal/geo"
	"backend-fieldtrack/internal/position"

	"github.com/rs/zerolog"
)

// Tier is the accuracy/power mode of the active subscription. Not
// persisted anywhere; it only parameterizes the running watch.
type Tier int

const (
	TierLow Tier = iota
	TierHigh
)

func (t Tier) String() string {
	if t == TierHigh {
		return "high"
	}
	return "low"
}

const (
	// escalateBelowM switches the watch to high accuracy when the device
	// gets within this distance of the destination. deescalateAboveM is
	// deliberately wider so noisy samples near the threshold do not flip
	// the tier back and forth.
	escalateBelowM   = 5000.0
	deescalateAboveM = 7000.0

	// forwardInterval throttles how often accepted samples are handed to
	// the consumer. Same interval in both tiers.
	forwardInterval = 30 * time.Second
)

var (
	lowOptions  = position.Options{HighAccuracy: false, Timeout: 30 * time.Second, MaxAge: 60 * time.Second}
	highOptions = position.Options{HighAccuracy: true, Timeout: 15 * time.Second, MaxAge: 30 * time.Second}
)

var ErrAlreadyRunning = errors.New("watcher: already running")

// Watcher owns a single continuous position subscription and escalates or
// de-escalates its accuracy tier based on distance to a destination. A tier
// change is a full stop-then-start of the underlying watch; the native
// subscription has to be re-issued for new options to take effect.
type Watcher struct {
	src      position.Source
	log      zerolog.Logger
	onSample func(position.Sample)
	onError  func(error)

	mu          sync.Mutex
	running     bool
	tier        Tier
	watch       position.Watch
	dest        *geo.Point
	lastForward time.Time
}

func New(src position.Source, logger zerolog.Logger, onSample func(position.Sample), onError func(error)) *Watcher {
	return &Watcher{
		src:      src,
		log:      logger.With().Str("module", "watcher").Logger(),
		onSample: onSample,
		onError:  onError,
	}
}

// Start begins watching in the low tier. It fails with
// position.ErrUnsupported or position.ErrPermissionDenied straight from the
// source; in either case nothing is left running.
func (w *Watcher) Start(dest *geo.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyRunning
	}

	watch, err := w.src.Watch(lowOptions, w.handleSample, w.handleError)
	if err != nil {
		return err
	}

	w.watch = watch
	w.dest = dest
	w.tier = TierLow
	w.lastForward = time.Time{}
	w.running = true
	w.log.Info().Str("tier", w.tier.String()).Msg("watch started")
	return nil
}

// Stop cancels the active subscription. Calling it when nothing is running
// is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watcher) stopLocked() {
	if !w.running {
		return
	}
	w.watch.Clear()
	w.watch = nil
	w.running = false
	w.log.Info().Msg("watch stopped")
}

// Tier reports the current accuracy tier.
func (w *Watcher) Tier() Tier {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tier
}

// Running reports whether a subscription is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) handleSample(s position.Sample) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}

	if w.dest != nil {
		d := geo.DistanceMeters(s.Latitude, s.Longitude, w.dest.Lat, w.dest.Lng)
		switch {
		case w.tier == TierLow && d < escalateBelowM:
			w.restartLocked(TierHigh)
		case w.tier == TierHigh && d > deescalateAboveM:
			w.restartLocked(TierLow)
		}
	}

	if !w.lastForward.IsZero() && time.Since(w.lastForward) < forwardInterval {
		w.mu.Unlock()
		return
	}
	w.lastForward = time.Now()
	forward := w.onSample
	w.mu.Unlock()

	if forward != nil {
		forward(s)
	}
}

// restartLocked re-issues the subscription with the options of the new
// tier. Stop-then-start under the lock so there is never a window with two
// subscriptions, or none that the watcher does not know about.
func (w *Watcher) restartLocked(tier Tier) {
	opts := lowOptions
	if tier == TierHigh {
		opts = highOptions
	}

	w.watch.Clear()
	watch, err := w.src.Watch(opts, w.handleSample, w.handleError)
	if err != nil {
		// The watch was already live once; treat a restart failure like a
		// terminal source error rather than limping on without any watch.
		w.log.Error().Err(err).Str("tier", tier.String()).Msg("tier restart failed")
		w.watch = nil
		w.running = false
		if w.onError != nil {
			go w.onError(err)
		}
		return
	}

	w.watch = watch
	w.tier = tier
	w.log.Info().Str("tier", tier.String()).Msg("tier changed")
}

func (w *Watcher) handleError(err error) {
	if errors.Is(err, position.ErrPermissionDenied) {
		w.log.Error().Err(err).Msg("permission denied, stopping watch")
		w.Stop()
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	// Timeout and position-unavailable are transient; the underlying
	// subscription keeps retrying on its own.
	w.log.Warn().Err(err).Msg("transient watch error")
}
