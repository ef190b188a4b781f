package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fasthttp/router"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"bleq/internal/config"
	"bleq/internal/diag"
	"bleq/internal/handlers"
	"bleq/internal/logger"
	"bleq/internal/repository/journal"
	"bleq/internal/service/heartrate"
	"bleq/internal/session"
	"bleq/internal/transport"
	"bleq/internal/transport/sim"
)

var (
	methodError = []string{"method", "error"}
)

// App ...
type App struct {
	cfg *config.Config
}

// New ...
func New(cfg *config.Config) App {
	return App{cfg: cfg}
}

// Run serves the session and the admin API until SIGINT or SIGTERM.
func (app *App) Run() error {
	logger.Init(app.cfg.Log.Level, app.cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// The journal outlives the session so the events of its shutdown are
	// still written.
	journalCtx, stopJournal := context.WithCancel(context.Background())
	defer stopJournal()

	sessionID := uuid.NewString()
	sinks := diag.Multi{diag.LogSink{}}

	if app.cfg.Journal.Enabled {
		db, err := app.initDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		repo := journal.NewRepository(db, sessionID)
		repo = journal.NewInstrumentingMiddleware(
			app.counter("db_request_count", "db request count"),
			app.summary("db_request_duration", "db request duration"),
			repo,
		)

		async := diag.NewAsync(repo, diag.AsyncConfig{
			BufferSize:    app.cfg.Journal.BufferSize,
			MaxBatch:      app.cfg.Journal.MaxBatch,
			FlushInterval: app.cfg.Journal.FlushInterval,
		})
		sinks = append(sinks, async)
		cleaner := journal.NewCleaner(repo, app.cfg.Journal.Retention, app.cfg.Journal.CleanInterval)

		g.Go(func() error { return async.Run(journalCtx) })
		g.Go(func() error { return cleaner.Run(ctx) })
	}

	tr, err := app.initTransport()
	if err != nil {
		return err
	}

	sessionConfig := app.cfg.Session()
	sessionConfig.ID = sessionID
	sessionConfig.Scheduler.Registerer = prometheus.DefaultRegisterer
	sessionConfig.Scheduler.Sink = sinks

	s := session.New(tr, sessionConfig)
	if err = s.Start(ctx); err != nil {
		return err
	}

	r := router.New()
	handlers.RegisterAllHandlers(
		r,
		handlers.NewAdminHandler(s, heartrate.NewHeartRateSvc(false), app.cfg.System.RequestTimeout),
		prometheus.DefaultGatherer,
	)
	server := &fasthttp.Server{
		Handler:            r.Handler,
		MaxRequestBodySize: app.cfg.System.ReadBufferSize,
		ReadTimeout:        app.cfg.System.ReadTimeout,
		ReadBufferSize:     app.cfg.System.ReadBufferSize,
	}

	g.Go(func() error {
		log.WithFields(log.Fields{
			"port": app.cfg.System.Port,
		}).Info("starting admin server")
		if err := server.ListenAndServe(app.cfg.System.Address()); err != nil {
			return fmt.Errorf("admin server run failure: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		s.Stop()
		stopJournal()
		return server.Shutdown()
	})

	err = g.Wait()
	log.Info("goodbye")
	return err
}

func (app *App) initDB(ctx context.Context) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, app.cfg.Journal.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err = journal.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// initTransport builds the simulated radio, loaded from the scenario file
// when one is configured, and instruments it.
func (app *App) initTransport() (transport.Transport, error) {
	tr := sim.New()
	if path := app.cfg.Simulation.ScenarioFile; path != "" {
		sc, err := sim.LoadScenario(path)
		if err != nil {
			return nil, err
		}
		sc.Apply(tr)
		log.WithFields(log.Fields{
			"scenario": sc.Name,
			"peers":    len(sc.Peers),
		}).Info("loaded simulation scenario")
	}
	return transport.NewInstrumentingMiddleware(
		app.counter("radio_request_count", "radio request count"),
		app.summary("radio_request_duration", "radio request duration"),
		tr,
	), nil
}

func (app *App) counter(name, help string) *kitprometheus.Counter {
	return kitprometheus.NewCounterFrom(
		prometheus.CounterOpts{
			Namespace: app.cfg.Metrics.Namespace,
			Subsystem: app.cfg.Metrics.Subsystem,
			Name:      name,
			Help:      help,
		}, methodError,
	)
}

func (app *App) summary(name, help string) *kitprometheus.Summary {
	return kitprometheus.NewSummaryFrom(
		prometheus.SummaryOpts{
			Namespace: app.cfg.Metrics.Namespace,
			Subsystem: app.cfg.Metrics.Subsystem,
			Name:      name,
			Help:      help,
		},
		methodError,
	)
}
