package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"confbot/internal/config"
	"confbot/internal/dialog"
	"confbot/internal/eventbus"
	"confbot/internal/runtime/supervisor"
	kit "confbot/internal/transport"
	telegram "confbot/internal/transport/telegram/adapter"
	"confbot/internal/transport/telegram/router"
	logx "confbot/pkg/logx"
	"confbot/pkg/systemd"
)

// scheduleSyncInterval bounds how long reminders lag behind an edit made by
// the import command.
const scheduleSyncInterval = time.Minute

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter *telegram.Adapter
	core    *Core
	dialog  *dialog.Driver
	router  *router.Router

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the chat sink off, set its target, then apply the final
	// config so Apply does not warn about a missing target.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if target := logTarget(cfg); target != 0 {
		logSvc.SetTelegramTarget(target, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	core, err := BuildCore(cfg, log, bus, ad)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	drv := dialog.NewDriver(dialog.NewMachine(core.Render), core.Store, router.Prompter{Adapter: ad}, log)
	handlers := &router.Handlers{
		Store:     core.Store,
		Dialog:    drv,
		Reconcile: core.Reconcile,
		Parser:    core.Parser,
		Jobs:      core.Planner,
		Render:    core.Render,
		EventLoc:  core.Event.Loc,
	}
	rt := router.New(router.Options{
		Adapter: ad,
		Users:   core.Store,
		Dialog:  drv,
		Owners:  cfg.Telegram.OwnerUserIDs,
		Log:     log,
	})
	rt.SetRegistry(handlers.Commands(), handlers.Callbacks())

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		adapter: ad,
		core:    core,
		dialog:  drv,
		router:  rt,
		updates: make(chan kit.Update, 256),
	}, nil
}

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
		return Validate(cfg)
	})

	// Change notices run on the supervisor, not on the request that applied the edit.
	a.core.Reconcile.SetRunner(func(name string, fn func(context.Context)) {
		a.sup.Go0(name, fn)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.core.Sched.Enabled() {
		a.core.Sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; reminders will not fire")
	}
	if _, err := a.core.Planner.Replan(a.sup.Context()); err != nil {
		a.log.Error("initial replan failed", logx.Err(err))
	}

	a.sup.Go0("notify.sync", func(c context.Context) {
		a.core.Planner.Watch(c, scheduleSyncInterval)
	})

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

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
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
				}
			}
		})
	}

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
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
		return nil
	})

	a.log.Info("app started")
	return nil
}

// applyConfig hot-applies what can change at runtime. Storage, token and
// event calendar changes are only logged.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if keys := config.RestartRequired(oldCfg, newCfg); len(keys) > 0 {
		a.log.Warn("restart required for changes to take effect", logx.String("keys", strings.Join(keys, ",")))
	}

	// Set the log target before Apply so an enabled chat sink has a destination.
	a.logs.SetTelegramTarget(logTarget(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLoggingConfig(newCfg))

	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)

	wasEnabled := a.core.Sched.Enabled()
	a.core.Sched.Apply(mapSchedulerConfig(newCfg))
	switch {
	case wasEnabled && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.core.Sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.core.Sched.Start(ctx)
	}

	ncfg, fcfg, err := mapNotificationsConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifications config; keeping previous", logx.Err(err))
	} else {
		a.core.Fanout.Apply(fcfg)
		if a.core.Planner.Apply(ncfg) {
			if _, err := a.core.Planner.Replan(ctx); err != nil {
				a.log.Error("replan after lead time change failed", logx.Err(err))
			}
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
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
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.core.Sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Wait for supervised goroutines (dispatcher, config watch) before closing storage.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.core.Close() })

	if a.bus != nil {
		if n := a.bus.Dropped(); n > 0 {
			a.log.Warn("event bus dropped events", logx.Uint64("dropped", n))
		}
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
