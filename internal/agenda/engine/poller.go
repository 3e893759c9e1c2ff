package engine

import (
	"context"
	"time"

	"agenda4go/internal/agenda"
	logx "agenda4go/pkg/logx"
)

// pollLoop runs until stopCh closes or ctx is cancelled, calling pollOnce on
// every ProcessEvery tick or early wake nudge, and backing off after
// consecutive store failures. After 30 consecutive failures it stops the
// whole engine.
func (s *Service) pollLoop(ctx context.Context, stopCh <-chan struct{}) {
	s.consecutivePollFailures.Store(0)
	timer := time.NewTimer(s.cfg.ProcessEvery)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.wake.wakeCh():
			s.wake.popEarliest()
		}

		if err := s.pollOnce(ctx); err != nil {
			n := int(s.consecutivePollFailures.Add(1))
			s.log.Warn("agenda poll failed", logx.Err(err), logx.Int("consecutive_failures", n))
			if n >= 30 {
				s.log.Error("agenda poller giving up after repeated failures; stopping engine", logx.Int("consecutive_failures", n))
				go s.Stop(context.Background())
				return
			}
			resetTimer(timer, pollBackoff(n))
			continue
		}
		s.consecutivePollFailures.Store(0)
		resetTimer(timer, nextInterval(s))
	}
}

// nextInterval shortens the wait to the earliest known wake time when one
// falls sooner than the next regular tick.
func nextInterval(s *Service) time.Duration {
	interval := s.cfg.ProcessEvery
	if earliest, ok := s.wake.earliest(); ok {
		if d := time.Until(earliest); d > 0 && d < interval {
			return d
		}
	}
	return interval
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// pollOnce claims every job due at or before the end of the current window
// (cursor+ProcessEvery), overdue ones included, up to this worker's
// remaining lock budget, and
// hands each to the dispatch queue rather than running it immediately: a
// job claimed early in a wide window may not be due for a while yet, and
// the dispatcher is what releases it into the worker pool at its actual
// due time. Pre-claiming the whole window in one poll (instead of a single
// ClaimNext call per tick) is what bounds how often this worker hits the
// store with a claim query, independent of how many jobs are due in that
// span.
//
// The cursor advances by one window per poll. When it is unset or has
// fallen more than one ProcessEvery behind time.Now() (a slow store call, a
// missed tick), it is reset to time.Now(); jobs that came due during the
// delay are still claimed, because the claim query has no lower bound on
// next_run_at.
func (s *Service) pollOnce(ctx context.Context) error {
	budget := s.cfg.BatchSize
	if limit := s.cfg.lockLimit(); limit > 0 {
		if remaining := limit - int(s.claimed.Load()); remaining < budget {
			budget = remaining
		}
	}
	if budget <= 0 {
		return nil
	}

	now := time.Now()
	if s.cursor.IsZero() || s.cursor.Before(now.Add(-s.cfg.ProcessEvery)) {
		s.cursor = now
	}
	windowEnd := s.cursor.Add(s.cfg.ProcessEvery)
	lockUntil := now.Add(s.cfg.DefaultLockLifetime)

	for i := 0; i < budget; i++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		job, err := s.store.ClaimNext(ctx, s.cfg.WorkerID, lockUntil, now, windowEnd)
		if err != nil {
			return err
		}
		if job == nil {
			break
		}

		s.claimed.Add(1)
		s.dispatch.push(job)
	}
	s.cursor = windowEnd
	return nil
}

// launch releases a claimed job into the worker pool.
func (s *Service) launch(ctx context.Context, job *agenda.ScheduledJob) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.claimed.Add(-1)
		s.runOne(ctx, job)
	}()
}

// dispatchLoop runs until stopCh closes or ctx is cancelled, releasing
// claimed jobs from the dispatch queue into the worker pool as they come
// due. This is the second stage of the poll/dispatch pipeline: pollOnce
// only claims and enqueues, this loop is what actually starts execution.
func (s *Service) dispatchLoop(ctx context.Context, stopCh <-chan struct{}) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.dispatch.addCh():
		}

		now := time.Now()
		for _, job := range s.dispatch.popDue(now) {
			s.launch(ctx, job)
		}

		wait := time.Hour
		if earliest, ok := s.dispatch.earliest(); ok {
			if d := time.Until(earliest); d > 0 {
				wait = d
			} else {
				wait = time.Millisecond
			}
		}
		resetTimer(timer, wait)
	}
}
