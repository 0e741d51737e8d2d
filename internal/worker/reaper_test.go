package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"engagement-backend/internal/logger"
)

type stubCloser struct {
	mu      sync.Mutex
	batches []int
	cutoffs []time.Time
	err     error
}

func (s *stubCloser) CloseIdleSessions(_ context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	if s.err != nil {
		return 0, s.err
	}
	if len(s.batches) == 0 {
		return 0, nil
	}
	n := s.batches[0]
	s.batches = s.batches[1:]
	return n, nil
}

func TestReaperSweep_DrainsFullBatches(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	closer := &stubCloser{batches: []int{2, 2, 1}}
	r := NewReaper(closer, 2*time.Hour, time.Minute, 2, logger.Nop())
	r.now = func() time.Time { return now }

	total := r.Sweep(context.Background())
	if total != 5 {
		t.Fatalf("expected 5 sessions closed, got %d", total)
	}
	if len(closer.cutoffs) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(closer.cutoffs))
	}
	if !closer.cutoffs[0].Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("expected cutoff two hours back, got %s", closer.cutoffs[0])
	}
}

func TestReaperSweep_StopsOnError(t *testing.T) {
	closer := &stubCloser{err: errors.New("store down")}
	r := NewReaper(closer, time.Hour, time.Minute, 10, logger.Nop())

	if total := r.Sweep(context.Background()); total != 0 {
		t.Fatalf("expected nothing closed, got %d", total)
	}
	if len(closer.cutoffs) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(closer.cutoffs))
	}
}

func TestReaper_StartStop(t *testing.T) {
	closer := &stubCloser{}
	r := NewReaper(closer, time.Hour, 10*time.Millisecond, 10, logger.Nop())
	r.Start()
	time.Sleep(35 * time.Millisecond)
	r.Stop()
	r.Stop()

	closer.mu.Lock()
	defer closer.mu.Unlock()
	if len(closer.cutoffs) < 2 {
		t.Fatalf("expected startup and ticker sweeps, got %d", len(closer.cutoffs))
	}
}
