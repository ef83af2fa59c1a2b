// Package scheduler decides when sync passes run. It tracks connectivity,
// re-arms a jittered one-shot timer after every attempt, and collapses
// wake-ups that arrive while a pass is already running.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/kmborden/plantsync/internal/errors"
	"github.com/kmborden/plantsync/internal/logging"
	syncpkg "github.com/kmborden/plantsync/internal/sync"
)

// State describes the scheduler's view of the world.
type State string

const (
	StateOffline       State = "offline"
	StateOnlineIdle    State = "online-idle"
	StateOnlineSyncing State = "online-syncing"
)

// Prober checks whether the remote API is reachable. Used to recover from
// the offline state without an explicit connectivity signal.
type Prober interface {
	Health(ctx context.Context) bool
}

// Options configures a Scheduler.
type Options struct {
	// Interval between periodic sync attempts while online.
	Interval time.Duration

	// Jitter adds up to this much random delay to each interval so
	// agents started together do not hit the API in lockstep.
	Jitter time.Duration

	// Probe, when set, is polled while offline to detect recovery.
	Probe Prober

	// ProbeInterval controls how often Probe runs while offline.
	ProbeInterval time.Duration
}

// Scheduler triggers sync passes on an interval while online, immediately
// on reconnect, and on explicit wake-ups.
type Scheduler struct {
	engine        *syncpkg.Engine
	interval      time.Duration
	jitter        time.Duration
	probe         Prober
	probeInterval time.Duration

	// jitterFn is swapped in tests for determinism.
	jitterFn func() time.Duration

	mu      sync.Mutex
	online  bool
	running bool
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wakeCh  chan struct{}
}

const (
	defaultInterval      = 60 * time.Second
	defaultJitter        = 15 * time.Second
	defaultProbeInterval = 30 * time.Second
)

// New creates a Scheduler driving the given engine. Zero durations select
// defaults.
func New(engine *syncpkg.Engine, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Jitter < 0 {
		opts.Jitter = defaultJitter
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = defaultProbeInterval
	}

	s := &Scheduler{
		engine:        engine,
		interval:      opts.Interval,
		jitter:        opts.Jitter,
		probe:         opts.Probe,
		probeInterval: opts.ProbeInterval,
		wakeCh:        make(chan struct{}, 1),
	}
	s.jitterFn = func() time.Duration {
		if s.jitter <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(s.jitter)))
	}
	return s
}

// Start begins scheduling. The scheduler starts offline; call SetOnline
// or configure a Probe to bring it online.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	if s.probe != nil {
		s.wg.Add(1)
		go s.probeLoop()
	}

	logging.Info().Dur("interval", s.interval).Msg("sync scheduler started")
}

// Stop halts scheduling and waits for any in-flight pass trigger to
// settle. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info().Msg("sync scheduler stopped")
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	online := s.online
	s.mu.Unlock()

	if !online {
		return StateOffline
	}
	if s.engine.Syncing() {
		return StateOnlineSyncing
	}
	return StateOnlineIdle
}

// Online reports whether the scheduler currently believes the remote is
// reachable.
func (s *Scheduler) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline records a connectivity change. Going offline stops the
// periodic timer; coming back online triggers an immediate sync attempt.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	if !online && s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if was == online {
		return
	}
	logging.Info().Bool("online", online).Msg("connectivity changed")
	if online {
		s.Wake()
	}
}

// Wake requests a sync pass as soon as possible. Wake-ups arriving while
// a pass is pending or running coalesce into one.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// loop serializes sync triggers: the timer, reconnects and explicit
// wake-ups all funnel into wakeCh.
func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wakeCh:
		}

		if !s.Online() {
			continue
		}

		err := s.engine.Sync(s.ctx)
		switch {
		case err == nil:
		case apperrors.Is(err, apperrors.ErrSyncInProgress):
			// Another trigger won; the rearm below still applies.
		default:
			logging.Warn().Err(err).Msg("scheduled sync failed")
		}

		s.rearm()
	}
}

// rearm schedules the next periodic attempt. One-shot rather than a
// ticker: the countdown starts after a pass finishes, so slow passes do
// not stack.
func (s *Scheduler) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || !s.online {
		return
	}

	delay := s.interval + s.jitterFn()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.Wake)
}

// probeLoop polls the remote health endpoint while offline and flips the
// scheduler online on the first success.
func (s *Scheduler) probeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if s.Online() {
			continue
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.probeInterval)
		ok := s.probe.Health(ctx)
		cancel()
		if ok {
			s.SetOnline(true)
		}
	}
}
