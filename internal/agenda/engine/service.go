// Package engine polls the store for due jobs and dispatches them to
// registered handlers under bounded concurrency.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"agenda4go/internal/agenda"
	"agenda4go/internal/agenda/registry"
	"agenda4go/internal/agenda/store"
	"agenda4go/internal/eventbus"
	logx "agenda4go/pkg/logx"

	rtsup "agenda4go/internal/runtime/supervisor"
)

// Service is the running scheduler: it owns the poll loop and the
// permit-gated goroutines that execute claimed jobs.
type Service struct {
	mu    sync.Mutex
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	store store.Store
	reg   *registry.Registry

	permits  *permitPool
	wake     *wakeQueue
	dispatch *claimQueue
	cursor   time.Time // window cursor, touched only by pollLoop's goroutine

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}
	wg       sync.WaitGroup

	claimed                 atomic.Int32
	consecutivePollFailures atomic.Int32

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a Service. It does not start polling until Start is called.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, st store.Store, reg *registry.Registry) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    st,
		reg:      reg,
		permits:  newPermitPool(cfg),
		wake:     newWakeQueue(),
		dispatch: newClaimQueue(),
	}
}

// Save implements builder.Saver: persist spec and nudge the poller awake if
// it is now the soonest-due job known.
func (s *Service) Save(ctx context.Context, spec *agenda.JobSpec) (*agenda.ScheduledJob, agenda.PersistResult, error) {
	job, result, err := s.store.Save(ctx, spec)
	if err == nil && job != nil && job.NextRunAt != nil {
		s.wake.nudge(*job.NextRunAt)
	}
	return job, result, err
}

// Cancel disables or deletes jobs matching query.
func (s *Service) Cancel(ctx context.Context, query agenda.CancelQuery, opts agenda.CancelOptions) (agenda.CancelResult, error) {
	return s.store.Cancel(ctx, query, opts)
}

// Start begins polling. It is idempotent: calling it again while already
// running is a no-op. Called while a Stop is still draining, it waits for
// that Stop to finish (or ctx to end) and then starts the engine again.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return agenda.ErrDisabled
	}
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return nil
		}
	}

	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "agenda"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("poller", func(c context.Context) error {
		s.pollLoop(c, stopCh)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return fmt.Errorf("agenda poller exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	sup.GoRestart("dispatcher", func(c context.Context) error {
		s.dispatchLoop(c, stopCh)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return fmt.Errorf("agenda dispatcher exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	s.log.Info("agenda engine started",
		logx.String("worker_id", s.cfg.WorkerID),
		logx.Int("max_concurrency", s.cfg.MaxConcurrency),
		logx.Int("lock_limit", s.cfg.lockLimit()),
		logx.Duration("process_every", s.cfg.ProcessEvery),
	)
	return nil
}

// Stop halts polling and waits for in-flight jobs to finish, or for ctx to
// be done — whichever comes first. A timed-out ctx leaves jobs running;
// their leases will eventually expire and another worker will reclaim them.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	grace := s.cfg.DefaultLockLifetime
	s.mu.Unlock()

	go func() {
		// Closing stopCh already told the poller and dispatcher to stop
		// claiming and releasing new work; give in-flight handlers up to
		// grace to finish on their own before force-cancelling them.
		wgDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(wgDone)
		}()

		select {
		case <-wgDone:
		case <-time.After(grace):
			s.log.Warn("agenda engine grace period elapsed, cancelling in-flight jobs",
				logx.Duration("grace_period", grace))
		}

		if sup != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}
		s.wg.Wait()

		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("agenda engine stopped")
	case <-ctx.Done():
		s.log.Warn("agenda engine stop timed out", logx.Any("err", ctx.Err()))
	}
}

// Snapshot reports current engine health for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:                 cfg.Enabled,
		WorkerID:                cfg.WorkerID,
		MaxConcurrency:          cfg.MaxConcurrency,
		DefaultConcurrency:      cfg.DefaultConcurrency,
		InFlight:                s.permits.inFlight(),
		LockLimit:               cfg.lockLimit(),
		Claimed:                 int(s.claimed.Load()),
		ConsecutivePollFailures: int(s.consecutivePollFailures.Load()),
		History:                 h,
	}
}

func (s *Service) record(item HistoryItem) {
	const historySize = 200
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(eventType string, at time.Time, evt JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventType, Time: at, Data: evt})
}
