package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"backend-fieldtrack/internal/position"

	"github.com/rs/zerolog"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]position.Sample
	failN   int // fail the first N calls
	calls   int
}

func (f *fakeSink) SaveBatch(_ context.Context, samples []position.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return errors.New("sync failure")
	}
	batch := make([]position.Sample, len(samples))
	copy(batch, samples)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeSink) delivered() []position.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []position.Sample
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func sampleN(n int) position.Sample {
	return position.Sample{Latitude: float64(n), Longitude: float64(n), CapturedAt: time.Now()}
}

func TestFlushOnSizeTrigger(t *testing.T) {
	sink := &fakeSink{}
	b := New(sink, Config{}, zerolog.Nop())
	defer b.Stop(context.Background())

	for i := 1; i <= 5; i++ {
		b.Push(sampleN(i))
	}

	got := waitDelivered(t, sink, 5)
	for i, s := range got {
		if s.Latitude != float64(i+1) {
			t.Fatalf("order broken at %d: %v", i, s.Latitude)
		}
	}
	if b.Len() != 0 {
		t.Fatalf("buffer should be empty after flush")
	}
}

func waitDelivered(t *testing.T, sink *fakeSink, want int) []position.Sample {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := sink.delivered()
		if len(got) == want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d samples delivered, got %d", want, len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFailedBatchRetriedFirst(t *testing.T) {
	sink := &fakeSink{failN: 1}
	b := New(sink, Config{FlushLen: 100}, zerolog.Nop())
	defer b.Stop(context.Background())

	b.Push(sampleN(1))
	b.Push(sampleN(2))
	b.Push(sampleN(3))
	b.Flush(context.Background()) // fails, batch requeued

	if b.Len() != 3 {
		t.Fatalf("failed batch must be requeued, len=%d", b.Len())
	}

	b.Push(sampleN(4))
	b.Flush(context.Background())

	got := sink.delivered()
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	for i, s := range got {
		if s.Latitude != float64(i+1) {
			t.Fatalf("retry order broken: %v", got)
		}
	}
}

func TestNoSampleLossAcrossFailures(t *testing.T) {
	sink := &fakeSink{failN: 3}
	b := New(sink, Config{FlushLen: 2}, zerolog.Nop())
	defer b.Stop(context.Background())

	for i := 1; i <= 10; i++ {
		b.Push(sampleN(i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.delivered()) != 10 {
		if time.Now().After(deadline) {
			t.Fatalf("expected all 10 samples eventually delivered, got %d", len(sink.delivered()))
		}
		b.Flush(context.Background())
		time.Sleep(5 * time.Millisecond)
	}
	got := sink.delivered()
	for i, s := range got {
		if s.Latitude != float64(i+1) {
			t.Fatalf("order broken at %d", i)
		}
	}
}

func TestPeriodicFlushBelowSizeThreshold(t *testing.T) {
	sink := &fakeSink{}
	b := New(sink, Config{FlushLen: 5, FlushInterval: 40 * time.Millisecond}, zerolog.Nop())
	defer b.Stop(context.Background())

	for i := 1; i <= 4; i++ {
		b.Push(sampleN(i))
	}
	if len(sink.delivered()) != 0 {
		t.Fatalf("below threshold, nothing should flush yet")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.delivered()) != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("periodic flush never fired, delivered %d", len(sink.delivered()))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStopFlushesRemainder(t *testing.T) {
	sink := &fakeSink{}
	b := New(sink, Config{FlushLen: 100}, zerolog.Nop())

	b.Push(sampleN(1))
	b.Push(sampleN(2))
	b.Stop(context.Background())

	if len(sink.delivered()) != 2 {
		t.Fatalf("stop must flush remainder, got %d", len(sink.delivered()))
	}

	b.Stop(context.Background()) // idempotent
	b.Push(sampleN(3))           // dropped after stop
	if b.Len() != 0 {
		t.Fatalf("push after stop should be dropped")
	}
}

func TestRetentionCapDropsOldest(t *testing.T) {
	sink := &fakeSink{failN: 1 << 30} // never succeeds
	b := New(sink, Config{FlushLen: 1000, MaxRetained: 10}, zerolog.Nop())
	defer b.Stop(context.Background())

	for i := 1; i <= 25; i++ {
		b.Push(sampleN(i))
	}

	if b.Len() != 10 {
		t.Fatalf("expected retention cap of 10, len=%d", b.Len())
	}
}

type slowSink struct {
	fakeSink
	delay time.Duration
}

func (s *slowSink) SaveBatch(ctx context.Context, samples []position.Sample) error {
	time.Sleep(s.delay)
	return s.fakeSink.SaveBatch(ctx, samples)
}

// Push feeds from the positioning callback; a slow sink must never stall it.
func TestPushReturnsWhileSinkIsSlow(t *testing.T) {
	sink := &slowSink{delay: 300 * time.Millisecond}
	b := New(sink, Config{FlushLen: 2}, zerolog.Nop())
	defer b.Stop(context.Background())

	b.Push(sampleN(1))

	start := time.Now()
	b.Push(sampleN(2)) // reaches FlushLen
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("push blocked %v on the sink", elapsed)
	}

	waitDelivered(t, &sink.fakeSink, 2)
}

func TestConcurrentPushDuringFlush(t *testing.T) {
	sink := &fakeSink{}
	b := New(sink, Config{FlushLen: 50}, zerolog.Nop())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				b.Push(sampleN(g*100 + i))
			}
		}(g)
	}
	wg.Wait()
	b.Stop(context.Background())

	got := sink.delivered()
	if len(got) != 100 {
		t.Fatalf(fmt.Sprintf("expected 100 samples, got %d", len(got)))
	}
}
