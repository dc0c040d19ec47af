package position

import (
	"context"
	"errors"
	"time"
)

// Errors mirror the failure codes of the native positioning capability.
// PermissionDenied and Unsupported are terminal for the current watch;
// Timeout and PositionUnavailable are transient and the underlying watch
// keeps retrying on its own.
var (
	ErrPermissionDenied    = errors.New("position: permission denied")
	ErrPositionUnavailable = errors.New("position: position unavailable")
	ErrTimeout             = errors.New("position: timeout")
	ErrUnsupported         = errors.New("position: no positioning capability")
)

// Sample is one timestamped position reading. Immutable once produced.
type Sample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_m"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Options maps onto the native PositionOptions of the device capability.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// Watch is a cancelable handle to a continuous subscription.
type Watch interface {
	// Clear cancels the subscription. Safe to call more than once.
	Clear()
}

// Source wraps the device's positioning capability: one-shot reads and
// continuous watch subscriptions. Implementations deliver samples and
// errors on their own goroutine; callers must not block in the callbacks.
type Source interface {
	Current(ctx context.Context, opts Options) (Sample, error)
	Watch(opts Options, onSample func(Sample), onError func(error)) (Watch, error)
}
