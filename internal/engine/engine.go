package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/procharness/internal/clock"
	"github.com/roach88/procharness/internal/config"
	"github.com/roach88/procharness/internal/process"
	"github.com/roach88/procharness/internal/store"
)

// Engine is a process engine instance bound to one configuration.
//
// Thread-safety model:
//   - Commands (deploy, start, complete, fire jobs) are serialized by an
//     internal mutex and each runs in one store transaction.
//   - Queries run concurrently with each other; SQLite's single connection
//     orders them against commands.
//
// INVARIANTS:
//   - Every timestamp the engine records comes from its Clock.
//   - A command either fully applies or leaves no trace (one transaction).
type Engine struct {
	name     string
	cfg      config.Config
	store    *store.Store
	clock    clock.Clock
	ids      IDGenerator
	logger   *slog.Logger
	maxSteps int

	// scheduler drives the background job executor's ticker. It is kept
	// apart from clock so a pinned override time does not stall ticking.
	scheduler clockwork.Clock

	mu   sync.Mutex
	defs map[string]*process.Definition // by definition id, guarded by mu

	stopExecutor context.CancelFunc
	executorDone chan struct{}
	closeOnce    sync.Once
	closeErr     error

	repository *RepositoryService
	runtime    *RuntimeService
	tasks      *TaskService
	history    *HistoryService
	identity   *IdentityService
	management *ManagementService
	forms      *FormService
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Default: clock.Default().
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger. Default: a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIDGenerator overrides the id generator chosen by the configuration.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithMaxSteps sets the per-command node quota.
//
// Default: 1000 steps (DefaultMaxSteps)
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithSchedulerClock sets the clock whose tickers drive the background job
// executor. Default: the real clock.
func WithSchedulerClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		e.scheduler = c
	}
}

// New builds an engine from cfg: opens its store, wires its services and,
// when configured, starts the background job executor.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine %s: %w", cfg.Name, err)
	}

	e := &Engine{
		name:      cfg.Name,
		cfg:       *cfg,
		clock:     clock.Default(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxSteps:  DefaultMaxSteps,
		scheduler: clockwork.NewRealClock(),
		defs:      make(map[string]*process.Definition),
	}
	if cfg.IDs == "sequence" {
		e.ids = NewSequenceGenerator(cfg.Name)
	} else {
		e.ids = UUIDv7Generator{}
	}

	for _, opt := range opts {
		opt(e)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", cfg.Name, err)
	}
	e.store = st

	e.repository = &RepositoryService{e: e}
	e.runtime = &RuntimeService{e: e}
	e.tasks = &TaskService{e: e}
	e.history = &HistoryService{e: e}
	e.identity = &IdentityService{e: e}
	e.management = &ManagementService{e: e}
	e.forms = &FormService{e: e}

	if cfg.JobExecutor.Enabled {
		interval := cfg.JobExecutor.Interval.Std()
		if interval <= 0 {
			interval = time.Second
		}
		e.startJobExecutor(interval)
	}

	e.logger.Info("engine started",
		"engine", e.name,
		"config", cfg.Resource,
		"database", cfg.Database,
		"history_level", cfg.HistoryLevel,
		"job_executor", cfg.JobExecutor.Enabled,
	)
	return e, nil
}

// Name returns the engine name from its configuration.
func (e *Engine) Name() string { return e.name }

// Config returns a copy of the engine configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Clock returns the engine's time source.
func (e *Engine) Clock() clock.Clock { return e.clock }

func (e *Engine) Repository() *RepositoryService { return e.repository }
func (e *Engine) Runtime() *RuntimeService       { return e.runtime }
func (e *Engine) Tasks() *TaskService            { return e.tasks }
func (e *Engine) History() *HistoryService       { return e.history }
func (e *Engine) Identity() *IdentityService     { return e.identity }
func (e *Engine) Management() *ManagementService { return e.management }
func (e *Engine) Forms() *FormService            { return e.forms }

// Close stops the job executor and closes the store. Safe to call more
// than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.stopExecutor != nil {
			e.stopExecutor()
			<-e.executorDone
		}
		e.closeErr = e.store.Close()
		e.logger.Info("engine closed", "engine", e.name)
	})
	return e.closeErr
}

// startJobExecutor runs ExecuteDueJobs on every tick until Close.
func (e *Engine) startJobExecutor(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	e.stopExecutor = cancel
	e.executorDone = make(chan struct{})

	ticker := e.scheduler.NewTicker(interval)
	go func() {
		defer close(e.executorDone)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				n, err := e.management.ExecuteDueJobs(ctx)
				if err != nil {
					e.logger.Error("job executor failed", "engine", e.name, "error", err)
					continue
				}
				if n > 0 {
					e.logger.Debug("job executor fired jobs", "engine", e.name, "count", n)
				}
			}
		}
	}()
}

// command runs fn under the engine mutex in one write transaction.
func (e *Engine) command(ctx context.Context, fn func(*store.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Update(ctx, fn)
}

// query runs fn in a read transaction.
func (e *Engine) query(ctx context.Context, fn func(*store.Tx) error) error {
	return e.store.View(ctx, fn)
}
