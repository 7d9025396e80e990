package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Tickable applies due wait deadlines.
type Tickable interface {
	Tick(ctx context.Context) (int, error)
}

// Ticker calls Tick on a fixed interval. Intervals below one second are rounded up to a second.
type Ticker struct {
	target   Tickable
	interval time.Duration
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewTicker schedules target every interval.
func NewTicker(target Tickable, interval time.Duration, logger *slog.Logger) (*Ticker, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %s", interval)
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	t := &Ticker{
		target:   target,
		interval: interval,
		logger:   logger.With("module", "ticker"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
	}

	t.cron.Schedule(cron.Every(interval), cron.FuncJob(t.run))

	return t, nil
}

// Start begins ticking in the background.
func (t *Ticker) Start() {
	t.logger.Info("starting ticker", "interval", t.interval)
	t.cron.Start()
}

// Stop stops scheduling and waits for a running tick, or for ctx.
func (t *Ticker) Stop(ctx context.Context) {
	select {
	case <-t.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (t *Ticker) run() {
	ctx := context.Background()

	resumed, err := t.target.Tick(ctx)
	if err != nil {
		t.logger.ErrorContext(ctx, "tick failed", "error", err)

		return
	}

	if resumed > 0 {
		t.logger.InfoContext(ctx, "timed out waits resumed", "count", resumed)
	}
}
