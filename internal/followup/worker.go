package followup

import (
	"context"
	"log/slog"
	"time"
)

// WorkerConfig controls the background sweep loop.
type WorkerConfig struct {
	// Interval between sweep rounds. Default: 1 minute.
	Interval time.Duration

	// Timeout per sweep round. Default: 2 minutes.
	Timeout time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
}

// Worker runs the sweeps on a ticker. An immediate round on Start
// catches up on anything missed while the process was down.
type Worker struct {
	sweeper *Sweeper
	logger  *slog.Logger
	config  WorkerConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a sweep worker. Call Start to begin processing.
func NewWorker(sweeper *Sweeper, logger *slog.Logger, cfg WorkerConfig) *Worker {
	cfg.applyDefaults()
	return &Worker{
		sweeper: sweeper,
		logger:  logger.With("component", "followup-worker"),
		config:  cfg,
		done:    make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (w *Worker) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(workerCtx)
}

// Stop cancels the worker and waits for its goroutine to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	w.sweep(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	now := w.sweeper.clock.Now()

	nudges, err := w.sweeper.SweepFollowups(sweepCtx, now)
	if err != nil {
		w.logger.Error("followup sweep failed", "error", err)
	}
	closed, err := w.sweeper.SweepAbandonedSessions(sweepCtx, now)
	if err != nil {
		w.logger.Error("abandoned sweep failed", "error", err)
	}
	reminders, err := w.sweeper.RenewMonthlySchedules(sweepCtx, now)
	if err != nil {
		w.logger.Error("renewal sweep failed", "error", err)
	}

	if nudges+closed+reminders > 0 {
		w.logger.Info("sweep round complete", "nudges", nudges, "reclaimed", closed, "reminders", reminders)
	}
}
