package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"agenda4go/internal/agenda"
	"agenda4go/internal/agenda/interval"

	logx "agenda4go/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
)

// runOne acquires a permit for job.Name, runs its handler under a deadline
// matching the lease, and records the outcome. It never returns an error:
// all failures are folded into the recorded HistoryItem/JobEvent.
func (s *Service) runOne(ctx context.Context, job *agenda.ScheduledJob) {
	release, err := s.permits.acquire(ctx, job.Name)
	if err != nil {
		// Shutting down before a permit freed up: let the lease expire so
		// another worker (or this one, after restart) reclaims it.
		return
	}
	defer release()

	start := time.Now()
	deadline := start.Add(s.cfg.DefaultLockLifetime)
	if job.LockUntil != nil && job.LockUntil.Before(deadline) {
		deadline = *job.LockUntil
	}
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	runErr := s.execute(runCtx, job)
	s.finish(ctx, job, start, runErr)
}

func (s *Service) execute(ctx context.Context, job *agenda.ScheduledJob) (runErr error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("agenda job panicked",
				logx.String("name", job.Name),
				logx.String("id", job.ID),
				logx.Any("recover", r),
			)
			runErr = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	handler, err := s.reg.Lookup(job.Name)
	if err != nil {
		return err
	}
	return handler.Run(ctx, job, job.Data)
}

// finish records a completed execution: it computes the reschedule time on
// success, applies the retry/backoff schedule on failure, persists the
// outcome, and publishes a JobEvent.
func (s *Service) finish(ctx context.Context, job *agenda.ScheduledJob, start time.Time, runErr error) {
	finishedAt := time.Now()
	duration := finishedAt.Sub(start)

	evt := JobEvent{
		ID:        job.ID,
		Name:      job.Name,
		WorkerID:  s.cfg.WorkerID,
		Started:   start,
		Duration:  duration,
		FailCount: job.FailCount,
	}
	item := HistoryItem{ID: job.ID, Name: job.Name, Started: start, Duration: duration}

	if runErr == nil {
		nextRunAt, err := interval.ComputeNextRunAt(job.RepeatInterval, job.RepeatTimezone, job.NextRunAt, &finishedAt, finishedAt)
		if err != nil {
			s.log.Warn("agenda could not compute next run",
				logx.String("name", job.Name), logx.String("id", job.ID), logx.Err(err))
			nextRunAt = nil
		}
		if err := s.store.MarkSuccess(ctx, job.ID, s.cfg.WorkerID, finishedAt, nextRunAt); err != nil {
			if errors.Is(err, agenda.ErrLeaseLost) {
				s.log.Info("agenda lease already reclaimed, dropping stale success write",
					logx.String("name", job.Name), logx.String("id", job.ID))
			} else {
				s.log.Error("agenda failed to record success",
					logx.String("name", job.Name), logx.String("id", job.ID), logx.Err(err))
			}
		}
		if nextRunAt != nil {
			s.wake.nudge(*nextRunAt)
			s.log.Debug("agenda job rescheduled",
				logx.String("name", job.Name), logx.String("id", job.ID),
				logx.String("next_run", humanize.Time(*nextRunAt)))
		}
		evt.NextRunAt = nextRunAt
		s.publish("job.succeeded", finishedAt, evt)
		s.record(item)
		return
	}

	evt.Error = runErr.Error()
	item.Error = runErr.Error()
	failCount := job.FailCount + 1

	var nextRunAt *time.Time
	switch {
	case agenda.IsNoRetry(runErr):
		// no reschedule
	case s.cfg.MaxRetryCount > 0 && failCount >= s.cfg.MaxRetryCount:
		s.log.Error("agenda job exhausted retries",
			logx.String("name", job.Name), logx.String("id", job.ID), logx.Int("fail_count", failCount))
	default:
		delay := retryDelay(failCount)
		var ra agenda.RetryAfterError
		if errors.As(runErr, &ra) {
			delay = ra.RetryAfter()
		}
		t := finishedAt.Add(delay)
		nextRunAt = &t
	}

	if err := s.store.MarkFailure(ctx, job.ID, s.cfg.WorkerID, finishedAt, nextRunAt, failCount); err != nil {
		if errors.Is(err, agenda.ErrLeaseLost) {
			s.log.Info("agenda lease already reclaimed, dropping stale failure write",
				logx.String("name", job.Name), logx.String("id", job.ID))
		} else {
			s.log.Error("agenda failed to record failure",
				logx.String("name", job.Name), logx.String("id", job.ID), logx.Err(err))
		}
	}
	retryField := logx.String("retry", "none")
	if nextRunAt != nil {
		s.wake.nudge(*nextRunAt)
		retryField = logx.String("retry", humanize.Time(*nextRunAt))
	}
	evt.NextRunAt = nextRunAt
	s.log.Warn("agenda job failed",
		logx.String("name", job.Name), logx.String("id", job.ID),
		logx.Int("fail_count", failCount), retryField, logx.Err(runErr))
	s.publish("job.failed", finishedAt, evt)
	s.record(item)
}
