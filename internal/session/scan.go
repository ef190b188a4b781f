package session

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"bleq/internal/errors"
	"bleq/internal/models"
	"bleq/internal/outcome"
	"bleq/internal/taskmanager"
	"bleq/internal/transport"
)

// Scan listens for advertisements for duration. A scan gives way to urgent
// radio work such as bonding and then resumes for whatever time it had left.
// done receives Success once the full duration has been scanned.
func (s *Session) Scan(ctx context.Context, duration time.Duration, done func(outcome.Outcome)) error {
	if duration <= 0 {
		return errors.InvalidArgument("scan duration must be positive, got %s", duration)
	}
	return s.call(ctx, func() error {
		return s.submitScan(duration, 0, done)
	})
}

// submitScan queues the remainder of a scan. scanned is the time already
// credited.
func (s *Session) submitScan(remaining, scanned time.Duration, done func(outcome.Outcome)) error {
	req := transport.Request{Op: transport.OpScan, Duration: remaining}
	task := taskmanager.NewTask(
		taskmanager.NewRequestOp(s.transport, req).Interruptible(),
		models.ManagerOwner,
		taskmanager.WithPriority(models.PriorityLow),
		taskmanager.WithResource(RadioResource),
		taskmanager.WithTimeout(remaining+scanGrace),
		taskmanager.WithMetadata("scanned", scanned),
		taskmanager.OnDone(func(_ *taskmanager.Task, o outcome.Outcome) {
			s.scanDone(remaining, scanned, o, done)
		}),
	)
	return s.sched.Add(task)
}

// scanGrace is how long past its duration a scan may run before the watchdog
// gives up on it.
const scanGrace = 5 * time.Second

func (s *Session) scanDone(remaining, scanned time.Duration, o outcome.Outcome, done func(outcome.Outcome)) {
	in, interrupted := o.(outcome.Interrupted)
	if interrupted && in.Elapsed < remaining {
		left := remaining - in.Elapsed
		log.WithFields(log.Fields{
			"scanned":   (scanned + in.Elapsed).String(),
			"remaining": left.String(),
		}).Info("Scan paused")
		err := s.submitScan(left, scanned+in.Elapsed, done)
		if err == nil {
			return
		}
		o = outcome.Cancelled{Reason: err}
	} else if interrupted {
		o = outcome.Success{}
	}
	if done != nil {
		done(o)
	}
}
