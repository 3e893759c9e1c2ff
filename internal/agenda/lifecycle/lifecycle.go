// Package lifecycle binds an engine.Service to a process's signal-driven
// start/stop and, optionally, to systemd's sd_notify protocol.
package lifecycle

import (
	"context"
	"time"

	"agenda4go/internal/agenda/engine"

	logx "agenda4go/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Options configures the lifecycle binding.
type Options struct {
	// StopTimeout bounds how long Bind's returned Stop waits for in-flight
	// jobs to finish before returning anyway.
	StopTimeout time.Duration

	// Systemd enables sd_notify READY/WATCHDOG/STOPPING signaling. This is a
	// no-op (not an error) outside a unit managed by systemd, matching
	// daemon.SdNotify's own "NOTIFY_SOCKET unset" behavior.
	Systemd bool

	// WatchdogEvery overrides the watchdog ping interval. Zero means "derive
	// from WATCHDOG_USEC", matching daemon.SdWatchdogEnabled's contract.
	WatchdogEvery time.Duration
}

// Binding owns the running Service plus, if enabled, the watchdog goroutine.
type Binding struct {
	svc  *engine.Service
	log  logx.Logger
	opts Options

	cancelWatchdog context.CancelFunc
}

// Bind starts svc and, if opts.Systemd is set, notifies systemd the process
// is ready and starts pinging the watchdog. The returned Binding's Stop
// reverses both.
func Bind(ctx context.Context, svc *engine.Service, log logx.Logger, opts Options) (*Binding, error) {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 15 * time.Second
	}

	if err := svc.Start(ctx); err != nil {
		return nil, err
	}

	b := &Binding{svc: svc, log: log, opts: opts}

	if opts.Systemd {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			log.Warn("sd_notify ready failed", logx.Err(err))
		}
		b.startWatchdog()
	}

	return b, nil
}

func (b *Binding) startWatchdog() {
	interval := b.opts.WatchdogEvery
	if interval <= 0 {
		usec, err := daemon.SdWatchdogEnabled(false)
		if err != nil || usec <= 0 {
			return
		}
		interval = usec / 3
	}
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancelWatchdog = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					b.log.Warn("sd_notify watchdog failed", logx.Err(err))
				}
			}
		}
	}()
}

// Stop notifies systemd the process is stopping, stops the watchdog ping,
// and stops the underlying Service, bounded by opts.StopTimeout.
func (b *Binding) Stop(ctx context.Context) {
	if b.opts.Systemd {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
			b.log.Warn("sd_notify stopping failed", logx.Err(err))
		}
	}
	if b.cancelWatchdog != nil {
		b.cancelWatchdog()
	}

	stopCtx, cancel := context.WithTimeout(ctx, b.opts.StopTimeout)
	defer cancel()
	b.svc.Stop(stopCtx)
}
