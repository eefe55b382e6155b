package app

import (
	"context"
	"fmt"

	"cadence/internal/config"
	"cadence/internal/eventbus"
	"cadence/internal/runtime/supervisor"
	"cadence/internal/services/journal"
	"cadence/internal/services/loop"
	"cadence/pkg/frameloop"
	logx "cadence/pkg/logx"
)

// App wires the daemon: config manager, logging, event bus, the loop
// service, and the session journal.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus *eventbus.Bus[loop.SessionEvent]

	loop    *loop.Service
	journal *journal.Service
}

// New loads the config and assembles services. frames is the host's
// per-frame primitive (nil when unavailable); cons is the per-frame
// consumer the daemon drives.
func New(cfgPath string, frames frameloop.FrameSource, cons loop.Consumer) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New[loop.SessionEvent]()

	loopCfg, err := mapLoopConfig(cfg)
	if err != nil {
		return nil, err
	}
	loopSvc := loop.New(loopCfg, frames, cons, bus, logSvc.Logger().With(logx.String("comp", "loop")))

	journalSvc := journal.New(mapJournalConfig(cfg), bus, logSvc.Logger().With(logx.String("comp", "journal")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		loop:    loopSvc,
		journal: journalSvc,
	}, nil
}

// Loop exposes the loop service (for status inspection by the owner).
func (a *App) Loop() *loop.Service { return a.loop }

// Journal exposes the session journal.
func (a *App) Journal() *journal.Service { return a.journal }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapLoopConfig(cfg); err != nil {
			return err
		}
		if cfg.Journal != nil && cfg.Journal.Enabled && cfg.Journal.Path == "" {
			return fmt.Errorf("journal.path is required when journal is enabled")
		}
		return nil
	})

	if err := a.journal.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start journal: %w", err)
	}
	a.loop.Start()

	// Hot reload: watch the config file and re-apply on change.
	updates := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.apply(cfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", func(ctx context.Context) error {
		return a.cfgm.Watch(ctx)
	})

	a.log.Info("cadenced started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	loopCfg, err := mapLoopConfig(cfg)
	if err != nil {
		// Validated before publish; should not happen.
		a.log.Warn("config apply skipped", logx.Err(err))
		return
	}
	a.loop.Apply(loopCfg)
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.loop.Stop("shutdown")
	a.journal.Stop(ctx)

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	_ = a.logs.Close()
	return err
}

func mapLoopConfig(cfg *config.Config) (loop.Config, error) {
	interval, err := config.ParseDurationField("loop.interval", cfg.Loop.Interval)
	if err != nil {
		return loop.Config{}, err
	}
	slow, err := config.ParseDurationField("loop.slow_frame_warn", cfg.Loop.SlowFrameWarn)
	if err != nil {
		return loop.Config{}, err
	}
	return loop.Config{
		Enabled:       cfg.Loop.Enabled,
		ForceTimer:    cfg.Loop.ForceTimer,
		Interval:      interval,
		RecoverPanics: cfg.Loop.RecoverPanics,
		SlowFrameWarn: slow,
	}, nil
}

func mapJournalConfig(cfg *config.Config) journal.Config {
	if cfg.Journal == nil {
		return journal.Config{}
	}
	return journal.Config{
		Enabled:       cfg.Journal.Enabled,
		Path:          cfg.Journal.Path,
		RetentionDays: cfg.Journal.RetentionDays,
		PruneSchedule: cfg.Journal.PruneSchedule,
	}
}
