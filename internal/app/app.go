// Package app wires the daemon together: config, logging, store, timer
// engine, post office, and the scheduling manager.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notiq/internal/config"
	"notiq/internal/engine"
	"notiq/internal/eventbus"
	"notiq/internal/manager"
	"notiq/internal/observability/diag"
	"notiq/internal/postoffice"
	"notiq/internal/runtime/supervisor"
	"notiq/internal/store"
	logx "notiq/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  store.Store
	engine *engine.Service
	post   *postoffice.Service
	mgr    *manager.Service
	diag   *diag.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
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

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	log.Info("store opened", logx.String("driver", sc.Driver))

	loc, err := mapLocation(cfg)
	if err != nil {
		return nil, err
	}

	clock := engine.RealClock()
	eng := engine.New(clock, log.With(logx.String("comp", "engine")))
	post := postoffice.New(mapPostOfficeConfig(cfg), log.With(logx.String("comp", "postoffice")), bus)
	mgr := manager.New(manager.Config{Location: loc}, st, eng, post, clock,
		log.With(logx.String("comp", "manager")), bus)

	diagSvc := diag.New(mapDiagConfig(cfg), log.With(logx.String("comp", "diag")),
		func(ctx context.Context) any {
			return map[string]any{
				"scheduler":   mgr.SnapshotNow(ctx),
				"post_office": post.SnapshotNow(),
			}
		})

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		engine:  eng,
		post:    post,
		mgr:     mgr,
		diag:    diagSvc,
	}, nil
}

// Manager exposes the scheduling API (used by embedders and tests).
func (a *App) Manager() *manager.Service { return a.mgr }

// PostOffice exposes owner registration and delivery routing.
func (a *App) PostOffice() *postoffice.Service { return a.post }

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

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapLocation(cfg); err != nil {
			return err
		}
		if cfg.PostOffice != nil {
			if cfg.PostOffice.MaxPending < -1 {
				return fmt.Errorf("post_office.max_pending must be >= -1")
			}
			if cfg.PostOffice.WarnRatePerSec < 0 {
				return fmt.Errorf("post_office.warn_rate_per_sec must be >= 0")
			}
		}
		return nil
	})

	if a.diag.Enabled() {
		if err := a.diag.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	// Rearm persisted jobs before accepting new work.
	if err := a.mgr.Restore(a.sup.Context()); err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Keep this debug-level to avoid noise for frequent jobs.
					a.log.Debug("event", logx.String("type", e.Type),
						logx.String("job", e.Job), logx.String("owner", e.Owner))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					if s == "storage" || s == "scheduler" {
						a.log.Warn("config section changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}

				// apply logging updates
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				// apply mailbox limits (live)
				a.post.Apply(mapPostOfficeConfig(newCfg))

				// apply diag endpoint changes (live)
				a.diag.Reconfigure(c, mapDiagConfig(newCfg))

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("diag", 1*time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	// Disarm timers first so no fire can race the store close.
	step("engine", 1*time.Second, func(context.Context) error { a.engine.DisarmAll(); return nil })
	step("store", 2*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Stop(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	if cfg == nil {
		return store.Config{}, fmt.Errorf("storage: missing config")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      strings.TrimSpace(strings.ToLower(cfg.Storage.Driver)),
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	if cfg == nil || cfg.Diag == nil {
		return diag.Config{}
	}
	return diag.Config{
		Enabled:       cfg.Diag.Enabled,
		Addr:          cfg.Diag.Addr,
		Token:         cfg.Diag.Token,
		AllowInsecure: cfg.Diag.AllowInsecure,
	}
}

func mapPostOfficeConfig(cfg *config.Config) postoffice.Config {
	if cfg == nil || cfg.PostOffice == nil {
		return postoffice.Config{}
	}
	return postoffice.Config{
		MaxPending:     cfg.PostOffice.MaxPending,
		WarnRatePerSec: cfg.PostOffice.WarnRatePerSec,
	}
}
