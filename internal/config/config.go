package config

import (
	"fmt"
	"time"

	"bleq/internal/connection"
	"bleq/internal/models"
	"bleq/internal/session"
	"bleq/internal/taskmanager"
	"bleq/internal/updateloop"
)

// Scheduler ...
type Scheduler struct {
	TickInterval     time.Duration `envconfig:"TICK_INTERVAL" default:"50ms" validate:"gt=0"`
	IdleTickInterval time.Duration `envconfig:"IDLE_TICK_INTERVAL" default:"1s" validate:"gtefield=TickInterval"`
	IdleAfter        time.Duration `envconfig:"IDLE_AFTER" default:"5s" validate:"gte=0"`
	MinDelta         time.Duration `envconfig:"MIN_DELTA" default:"0s" validate:"gte=0"`
	MaxDelta         time.Duration `envconfig:"MAX_DELTA" default:"1s" validate:"gt=0"`
	MaxParallel      int           `envconfig:"MAX_PARALLEL" default:"0" validate:"gte=0"`
	DefaultTimeout   time.Duration `envconfig:"DEFAULT_TASK_TIMEOUT" default:"10s"`
}

// Connection ...
type Connection struct {
	MaxAttempts       uint          `envconfig:"CONNECT_MAX_ATTEMPTS" default:"5" validate:"gte=1"`
	InitialBackoff    time.Duration `envconfig:"CONNECT_INITIAL_BACKOFF" default:"500ms" validate:"gte=0"`
	MaxBackoff        time.Duration `envconfig:"CONNECT_MAX_BACKOFF" default:"30s" validate:"gtefield=InitialBackoff"`
	Multiplier        float64       `envconfig:"CONNECT_BACKOFF_MULTIPLIER" default:"2" validate:"gte=1"`
	RandomFactor      float64       `envconfig:"CONNECT_BACKOFF_RANDOM_FACTOR" default:"0.5" validate:"gte=0,lte=1"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s" validate:"gt=0"`
	StageTimeout      time.Duration `envconfig:"STAGE_TIMEOUT" default:"5s" validate:"gt=0"`
	MTU               int           `envconfig:"MTU" default:"0" validate:"gte=0,lte=517"`
	ConnectsPerMinute int           `envconfig:"CONNECTS_PER_MINUTE" default:"0" validate:"gte=0"`
}

// Metrics ...
type Metrics struct {
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"system"`
	Subsystem string `envconfig:"METRICS_SUBSYSTEM" default:"bleq"`
}

// System ...
type System struct {
	Port           string        `envconfig:"ADMIN_PORT" default:"9090" validate:"required,numeric"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"300s"`
	ReadBufferSize int           `envconfig:"READ_BUFFER_SIZE" default:"16384" validate:"gt=0"`
	// RequestTimeout bounds how long an admin request waits for its task.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
}

// Log ...
type Log struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
}

// Journal is the optional Postgres outcome journal.
type Journal struct {
	Enabled       bool          `envconfig:"JOURNAL_ENABLED" default:"false"`
	DSN           string        `envconfig:"JOURNAL_DSN" validate:"required_if=Enabled true"`
	Retention     time.Duration `envconfig:"JOURNAL_RETENTION" default:"168h" validate:"gt=0"`
	CleanInterval time.Duration `envconfig:"JOURNAL_CLEAN_INTERVAL" default:"1h" validate:"gt=0"`
	BufferSize    int           `envconfig:"JOURNAL_BUFFER_SIZE" default:"1024" validate:"gt=0"`
	MaxBatch      int           `envconfig:"JOURNAL_MAX_BATCH" default:"100" validate:"gt=0"`
	FlushInterval time.Duration `envconfig:"JOURNAL_FLUSH_INTERVAL" default:"1s" validate:"gt=0"`
}

// Simulation ...
type Simulation struct {
	ScenarioFile string `envconfig:"SCENARIO_FILE"`
}

// Config ...
type Config struct {
	Scheduler  Scheduler
	Connection Connection
	Metrics    Metrics
	System     System
	Log        Log
	Journal    Journal
	Simulation Simulation
}

// Session converts the scheduler, connection and loop sections. The caller
// fills in the metrics registerer and diagnostics sink.
func (c Config) Session() session.Config {
	return session.Config{
		Scheduler: taskmanager.Config{
			MaxParallel:    c.Scheduler.MaxParallel,
			DefaultTimeout: c.Scheduler.DefaultTimeout,
		},
		Connection: connection.Config{
			Retry: connection.RetryConfig{
				MaxAttempts:     c.Connection.MaxAttempts,
				InitialInterval: c.Connection.InitialBackoff,
				MaxInterval:     c.Connection.MaxBackoff,
				Multiplier:      c.Connection.Multiplier,
				RandomFactor:    c.Connection.RandomFactor,
			},
			ConnectTimeout:    c.Connection.ConnectTimeout,
			StageTimeout:      c.Connection.StageTimeout,
			MTU:               c.Connection.MTU,
			ConnectsPerMinute: c.Connection.ConnectsPerMinute,
			Priority:          models.PriorityHigh,
		},
		Loop: updateloop.Config{
			Interval:     c.Scheduler.TickInterval,
			IdleInterval: c.Scheduler.IdleTickInterval,
			IdleAfter:    c.Scheduler.IdleAfter,
			MinDelta:     c.Scheduler.MinDelta,
			MaxDelta:     c.Scheduler.MaxDelta,
		},
	}
}

// Address ...
func (s System) Address() string {
	return fmt.Sprintf(":%s", s.Port)
}
