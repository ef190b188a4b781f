package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bleq/internal/connection"
	"bleq/internal/diag"
	"bleq/internal/outcome"
	"bleq/internal/service/heartrate"
	"bleq/internal/session"
	"bleq/internal/taskmanager"
	"bleq/internal/transport/sim"
)

// ActionReport is the result of one scenario action.
type ActionReport struct {
	Index   int                    `json:"index" yaml:"index"`
	Do      string                 `json:"do" yaml:"do"`
	Peer    string                 `json:"peer,omitempty" yaml:"peer,omitempty"`
	Kind    string                 `json:"kind" yaml:"kind"`
	Error   string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Payload string                 `json:"payload,omitempty" yaml:"payload,omitempty"`
	Heart   *heartrate.Measurement `json:"heart_rate,omitempty" yaml:"heart_rate,omitempty"`
	Took    time.Duration          `json:"took" yaml:"took"`
}

// SimulationReport ...
type SimulationReport struct {
	Scenario string               `json:"scenario" yaml:"scenario"`
	Actions  []ActionReport       `json:"actions" yaml:"actions"`
	Events   int                  `json:"events" yaml:"events"`
	Snapshot taskmanager.Snapshot `json:"snapshot" yaml:"snapshot"`
}

// Simulate runs every scenario action against a simulated radio and waits
// for all of them to finish. Actions start at their At offset.
func Simulate(ctx context.Context, cfg session.Config, sc *sim.Scenario) (*SimulationReport, error) {
	tr := sim.New()
	sc.Apply(tr)

	events := diag.NewMemory(1024)
	cfg.Scheduler.Registerer = prometheus.NewRegistry()
	cfg.Scheduler.Sink = diag.Multi{diag.LogSink{}, events}

	s := session.New(tr, cfg)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	defer s.Stop()

	hr := heartrate.NewHeartRateSvc(false)
	reports := make([]ActionReport, len(sc.Actions))
	started := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i, action := range sc.Actions {
		g.Go(func() error {
			select {
			case <-time.After(action.At - time.Since(started)):
			case <-ctx.Done():
				return ctx.Err()
			}
			report, err := runAction(ctx, s, hr, action)
			if err != nil {
				return fmt.Errorf("action %d (%s): %w", i, action.Do, err)
			}
			report.Index = i
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		return nil, err
	}
	return &SimulationReport{
		Scenario: sc.Name,
		Actions:  reports,
		Events:   len(events.Events()),
		Snapshot: snap,
	}, nil
}

func runAction(ctx context.Context, s *session.Session, hr *heartrate.Svc, a sim.Action) (ActionReport, error) {
	report := ActionReport{Do: a.Do, Peer: a.Peer}
	start := time.Now()

	var opts []taskmanager.TaskOption
	if a.Urgent {
		opts = append(opts, taskmanager.Urgent())
	}

	if a.Do == "connect" {
		res, err := session.Wait(ctx, func(done func(connection.Result)) error {
			return s.Connect(ctx, a.Peer, hr.Profile(), done)
		})
		if err != nil {
			return report, err
		}
		report.Kind = res.Stage.String()
		if res.Err != nil {
			report.Kind = "FAILED"
			report.Error = res.Err.Error()
		}
		report.Took = time.Since(start)
		return report, nil
	}

	o, err := session.Wait(ctx, func(done func(outcome.Outcome)) error {
		switch a.Do {
		case "disconnect":
			return s.Disconnect(ctx, a.Peer, done)
		case "read":
			return s.Read(ctx, a.Peer, a.Characteristic, done, opts...)
		case "write":
			return s.Write(ctx, a.Peer, a.Characteristic, []byte(a.Data), done, opts...)
		case "bond":
			return s.Bond(ctx, a.Peer, done)
		case "scan":
			return s.Scan(ctx, a.Duration, done)
		default:
			return fmt.Errorf("unknown action %q", a.Do)
		}
	})
	if err != nil {
		// A refused request is part of the report, not a simulation failure.
		report.Kind = "REFUSED"
		report.Error = err.Error()
		report.Took = time.Since(start)
		return report, ctx.Err()
	}

	report.Kind = o.Kind().String()
	if oErr := o.Err(); oErr != nil {
		report.Error = oErr.Error()
	}
	if succ, ok := o.(outcome.Success); ok && len(succ.Payload) > 0 {
		report.Payload = fmt.Sprintf("%x", succ.Payload)
		if a.Characteristic == heartrate.MeasurementChar {
			if m, err := hr.ParseMeasurement(succ.Payload); err == nil {
				report.Heart = &m
			} else {
				log.WithError(err).Warn("Failed to parse heart rate measurement")
			}
		}
	}
	report.Took = time.Since(start)
	return report, nil
}
