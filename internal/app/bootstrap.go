package app

import (
	"fmt"

	"confbot/internal/config"
	"confbot/internal/eventbus"
	"confbot/internal/importer"
	"confbot/internal/notifier/fanout"
	"confbot/internal/notify"
	"confbot/internal/reconcile"
	"confbot/internal/storage"
	"confbot/internal/task/scheduler"
	"confbot/internal/view"
	logx "confbot/pkg/logx"
)

// Core is the domain wiring shared by the bot and the offline commands.
type Core struct {
	Store     *storage.Store
	Sched     *scheduler.Service
	Fanout    *fanout.Service // nil offline
	Planner   *notify.Planner
	Reconcile *reconcile.Reconciler
	Render    view.Renderer
	Parser    importer.Parser
	Event     eventSettings
}

// BuildCore opens storage and wires the reminder pipeline. With a nil sender
// the core is offline: schedule edits neither replan nor broadcast, and
// reminder jobs are only listed.
func BuildCore(cfg *config.Config, log logx.Logger, bus eventbus.Bus, sender fanout.Sender) (*Core, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ev, _ := mapEventConfig(cfg)
	sc, _ := mapStorageConfig(cfg)
	ncfg, fcfg, _ := mapNotificationsConfig(cfg)

	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	c := &Core{
		Store:  st,
		Sched:  scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus),
		Render: view.New(ev.Display),
		Parser: importer.NewParser(ev.Loc, ev.Year),
		Event:  ev,
	}
	deps := notify.Deps{
		Slots:   st,
		Queries: st,
		Sched:   c.Sched,
		Render:  c.Render,
		Log:     log.With(logx.String("comp", "notify")),
		Bus:     bus,
	}
	if sender != nil {
		c.Fanout = fanout.New(fcfg, sender, log.With(logx.String("comp", "fanout")), bus)
		deps.Out = c.Fanout
	}
	c.Planner = notify.New(ncfg, deps)

	rlog := log.With(logx.String("comp", "reconcile"))
	if sender != nil {
		c.Reconcile = reconcile.New(st, c.Planner, c.Fanout, c.Render, rlog, bus)
	} else {
		c.Reconcile = reconcile.New(st, nil, nil, c.Render, rlog, bus)
	}
	return c, nil
}

func (c *Core) Close() error {
	return c.Store.Close()
}
