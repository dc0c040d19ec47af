package buffer

import (
	"context"
	"sync"
	"time"

	"backend-fieldtrack/internal/position"

	"github.com/rs/zerolog"
)

// Sink receives flushed batches. Delivery is at-least-once: a batch whose
// save fails is retried in full, so duplicate inserts must be tolerable
// downstream.
type Sink interface {
	SaveBatch(ctx context.Context, samples []position.Sample) error
}

// Config tunes the flush triggers. Zero values fall back to the defaults
// the device build ships with.
type Config struct {
	// FlushLen flushes as soon as the buffer holds this many samples.
	FlushLen int
	// FlushInterval flushes on a timer regardless of count.
	FlushInterval time.Duration
	// MaxRetained bounds buffer growth during extended outages; the oldest
	// samples are dropped past this point.
	MaxRetained int
}

const (
	defaultFlushLen      = 5
	defaultFlushInterval = 60 * time.Second
	defaultMaxRetained   = 1000
)

// Buffer accumulates samples in memory and flushes them in batches,
// decoupling sample production from network availability. Samples are
// delivered in capture order; a failed batch is retried before anything
// newer.
type Buffer struct {
	sink Sink
	cfg  Config
	log  zerolog.Logger

	mu        sync.Mutex
	samples   []position.Sample
	inFlight  bool
	lastFlush time.Time
	stopped   bool

	done chan struct{}
	once sync.Once
}

func New(sink Sink, cfg Config, logger zerolog.Logger) *Buffer {
	if cfg.FlushLen <= 0 {
		cfg.FlushLen = defaultFlushLen
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = defaultMaxRetained
	}

	b := &Buffer{
		sink:      sink,
		cfg:       cfg,
		log:       logger.With().Str("module", "buffer").Logger(),
		lastFlush: time.Now(),
		done:      make(chan struct{}),
	}
	go b.flushLoop()
	return b
}

// Push appends a sample and flushes if the size trigger is reached. The
// flush runs on its own goroutine: Push is called from the positioning
// callback and must never wait on the sink's network call.
func (b *Buffer) Push(s position.Sample) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.samples = append(b.samples, s)
	if over := len(b.samples) - b.cfg.MaxRetained; over > 0 {
		b.log.Warn().Int("dropped", over).Msg("retention cap hit, dropping oldest samples")
		b.samples = b.samples[over:]
	}
	shouldFlush := len(b.samples) >= b.cfg.FlushLen
	b.mu.Unlock()

	if shouldFlush {
		go b.Flush(context.Background())
	}
}

// Len reports the number of samples currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Flush swaps out the current batch and sends it. Pushes that land while
// the network call is in flight go to a fresh batch. On failure the batch
// is prepended back so the next flush retries those samples first.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	if b.inFlight || len(b.samples) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.samples
	b.samples = nil
	b.inFlight = true
	b.mu.Unlock()

	err := b.sink.SaveBatch(ctx, batch)

	b.mu.Lock()
	b.inFlight = false
	if err != nil {
		b.log.Warn().Err(err).Int("batch", len(batch)).Msg("flush failed, requeueing")
		b.samples = append(batch, b.samples...)
		b.mu.Unlock()
		return
	}
	b.lastFlush = time.Now()
	b.mu.Unlock()
	b.log.Debug().Int("batch", len(batch)).Msg("flushed")
}

// Stop performs a final best-effort flush and stops the timer. Idempotent.
func (b *Buffer) Stop(ctx context.Context) {
	b.once.Do(func() {
		close(b.done)
	})

	// wait out any in-flight send so the final flush sees everything
	for {
		b.mu.Lock()
		busy := b.inFlight
		b.mu.Unlock()
		if !busy {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}

	b.Flush(ctx)
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

func (b *Buffer) flushLoop() {
	ticker := time.NewTicker(b.cfg.FlushInterval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.mu.Lock()
			due := time.Since(b.lastFlush) > b.cfg.FlushInterval && len(b.samples) > 0
			b.mu.Unlock()
			if due {
				b.Flush(context.Background())
			}
		}
	}
}
