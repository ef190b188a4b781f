// Package updateloop drives the scheduler from a ticker. Each tick measures
// the wall-clock time since the previous one, clamps it, and then runs the
// watchdog, the dispatch pass and idle bookkeeping, in that order.
package updateloop

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"bleq/internal/errors"
)

var errAlreadyRunning = errors.New("update loop already running")

// Driver is what the loop ticks. *taskmanager.Scheduler implements it.
type Driver interface {
	Advance(delta time.Duration)
	Pump()
	Busy() bool
	Wake() <-chan struct{}
}

// Config ...
type Config struct {
	Interval time.Duration
	// IdleInterval is used once the driver has had nothing to do for
	// IdleAfter.
	IdleInterval time.Duration
	IdleAfter    time.Duration
	MinDelta     time.Duration
	MaxDelta     time.Duration
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		Interval:     50 * time.Millisecond,
		IdleInterval: time.Second,
		IdleAfter:    5 * time.Second,
		MaxDelta:     time.Second,
	}
}

// Loop ...
type Loop struct {
	driver    Driver
	cancel    context.CancelFunc
	done      chan struct{}
	last      time.Time
	idleSince time.Time
	config    Config
	ticks     uint64
	idle      bool
	mu        sync.Mutex
}

// New ...
func New(driver Driver, config Config) *Loop {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.IdleInterval < config.Interval {
		config.IdleInterval = config.Interval
	}
	if config.MaxDelta <= 0 {
		config.MaxDelta = def.MaxDelta
	}
	if config.MinDelta < 0 {
		config.MinDelta = 0
	}
	if config.MinDelta > config.MaxDelta {
		config.MinDelta = config.MaxDelta
	}
	return &Loop{driver: driver, config: config}
}

// Start runs the loop on a new goroutine until ctx is done or Stop is
// called. A stopped loop may be started again.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return errAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.last = time.Time{}
	l.idleSince = time.Time{}
	l.idle = false

	go l.run(ctx, l.done)
	log.WithField("interval", l.config.Interval.String()).Info("Update loop started")
	return nil
}

// Stop ends the loop and waits for the current tick to finish. Stopping a
// loop that is not running is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info("Update loop stopped")
}

// Running ...
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Idle reports whether the loop is ticking at the idle interval.
func (l *Loop) Idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idle
}

// Ticks ...
func (l *Loop) Ticks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := l.Step(time.Now())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.driver.Wake():
		}
		if next := l.Step(time.Now()); next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

// Step performs one tick at now and returns the interval to wait before the
// next one. It is called by the loop goroutine, and directly by tests.
func (l *Loop) Step(now time.Time) time.Duration {
	l.mu.Lock()
	delta := l.clamp(now)
	l.last = now
	l.ticks++
	l.mu.Unlock()

	l.driver.Advance(delta)
	l.driver.Pump()

	busy := l.driver.Busy()

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case busy:
		l.idleSince = time.Time{}
		if l.idle {
			l.idle = false
			log.Debug("Update loop leaving idle mode")
		}
	case l.idleSince.IsZero():
		l.idleSince = now
	case !l.idle && now.Sub(l.idleSince) >= l.config.IdleAfter:
		l.idle = true
		log.WithField("interval", l.config.IdleInterval.String()).Debug("Update loop entering idle mode")
	}

	if l.idle {
		return l.config.IdleInterval
	}
	return l.config.Interval
}

// clamp returns the elapsed time to feed the driver. The first tick after a
// start advances nothing. Callers hold l.mu.
func (l *Loop) clamp(now time.Time) time.Duration {
	if l.last.IsZero() {
		return 0
	}
	delta := now.Sub(l.last)
	if delta < l.config.MinDelta {
		delta = l.config.MinDelta
	}
	if delta > l.config.MaxDelta {
		delta = l.config.MaxDelta
	}
	return delta
}
