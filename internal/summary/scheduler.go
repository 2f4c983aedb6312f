package summary

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs recurring jobs on goroutines until the context is canceled.
// Jobs are synchronous; a job either finishes its sweep or returns after an
// internally caught failure, there is no mid-run cancellation.
type Scheduler struct {
	logger zerolog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger, now: time.Now}
}

// Every runs fn once per interval, starting one interval from now.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.logger.Info().Str("job", name).Dur("interval", interval).Msg("interval job scheduled")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runJob(ctx, name, fn)
			}
		}
	}()
}

// DailyAt runs fn once per day at the given wall-clock time (local).
func (s *Scheduler) DailyAt(ctx context.Context, name string, hour, minute int, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("job", name).Int("hour", hour).Int("minute", minute).Msg("daily job scheduled")
		for {
			wait := time.Until(nextDaily(s.now(), hour, minute))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				s.runJob(ctx, name, fn)
			}
		}
	}()
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context)) {
	started := s.now()
	s.logger.Debug().Str("job", name).Msg("job started")
	fn(ctx)
	s.logger.Debug().Str("job", name).Dur("took", s.now().Sub(started)).Msg("job finished")
}

// Wait blocks until every job loop has observed cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// nextDaily returns the next occurrence of hour:minute strictly after now.
func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
