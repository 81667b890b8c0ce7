// Package overdue periodically refreshes the cached fine of every held ebook so
// listings show what a return would cost right now.
package overdue

import (
	"context"
	"fmt"
	"sync"

	"elibrary/internal/ebook"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher is the part of the lending engine the sweeper drives.
type Refresher interface {
	HeldEbooks(ctx context.Context) ([]ebook.Ebook, error)
	RefreshFine(ctx context.Context, ebookID string) (ebook.Ebook, error)
}

// Result summarises one sweep.
type Result struct {
	Checked int
	Updated int
	Failed  int
}

type Sweeper struct {
	engine   Refresher
	schedule string
	logger   *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func NewSweeper(engine Refresher, schedule string, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{engine: engine, schedule: schedule, logger: logger}
}

// Sweep refreshes every held ebook once. A failing ebook is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	books, err := s.engine.HeldEbooks(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list held ebooks: %w", err)
	}

	var res Result
	for _, b := range books {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++
		updated, err := s.engine.RefreshFine(ctx, b.ID)
		if err != nil {
			res.Failed++
			s.logger.Warn("refresh fine failed", zap.String("ebook_id", b.ID), zap.Error(err))
			continue
		}
		if updated.FineAmount != b.FineAmount {
			res.Updated++
		}
	}
	return res, nil
}

// Start schedules Sweep. A tick that fires while the previous sweep is still
// running is skipped.
func (s *Sweeper) Start() error {
	c := cron.New(cron.WithLogger(cronLogger{s.logger.Sugar()}))
	if _, err := c.AddJob(s.schedule, s.job()); err != nil {
		return fmt.Errorf("schedule overdue sweep %q: %w", s.schedule, err)
	}
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("overdue sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) job() cron.Job {
	logger := cronLogger{s.logger.Sugar()}
	return cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(s.run))
}

func (s *Sweeper) run() {
	res, err := s.Sweep(context.Background())
	if err != nil {
		s.logger.Error("overdue sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("overdue sweep finished",
		zap.Int("checked", res.Checked),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
	)
}

// cronLogger routes cron's own messages (skipped runs, recovered panics) to zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
