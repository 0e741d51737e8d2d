package worker

import (
	"context"
	"sync"
	"time"

	"engagement-backend/internal/logger"
)

// IdleCloser closes open sessions whose last activity is before cutoff.
type IdleCloser interface {
	CloseIdleSessions(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Reaper periodically closes sessions abandoned without a logout, ending
// them at their last recorded activity.
type Reaper struct {
	sessions  IdleCloser
	maxIdle   time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
	log       *logger.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewReaper(sessions IdleCloser, maxIdle, interval time.Duration, batchSize int, log *logger.Logger) *Reaper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reaper{
		sessions:  sessions,
		maxIdle:   maxIdle,
		interval:  interval,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With("component", "Reaper"),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go r.loop()
	r.log.Info("reaper started", "interval", r.interval, "max_idle", r.maxIdle)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		<-r.done
	})
}

func (r *Reaper) loop() {
	defer close(r.done)

	// Run on startup as well as by interval.
	r.Sweep(context.Background())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.Sweep(context.Background())
		}
	}
}

// Sweep closes idle sessions batch by batch until a batch comes back short.
func (r *Reaper) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.maxIdle)
	total := 0
	for {
		select {
		case <-r.stopChan:
			return total
		default:
		}

		closed, err := r.sessions.CloseIdleSessions(ctx, cutoff, r.batchSize)
		if err != nil {
			r.log.Warn("idle session sweep failed", "error", err)
			return total
		}
		total += closed
		if closed < r.batchSize {
			break
		}
	}
	if total > 0 {
		r.log.Info("closed idle sessions", "count", total, "cutoff", cutoff)
	}
	return total
}
