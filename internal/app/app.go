// Package app wires configuration, platforms, memory, the model client, the
// scheduler and the trigger dispatcher into the running agent.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pepe/internal/agent"
	"pepe/internal/config"
	"pepe/internal/eventbus"
	"pepe/internal/llm"
	"pepe/internal/memory"
	"pepe/internal/observability/monitor"
	"pepe/internal/runtime/supervisor"
	"pepe/internal/task/scheduler"
	"pepe/internal/transport"
	"pepe/internal/trigger"
	logx "pepe/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    memory.Store
	recall   *memory.Recall
	agent    *agent.Agent
	registry *transport.Registry
	sched    *scheduler.Service
	disp     *trigger.Dispatcher
	monitor  *monitor.Service

	owners  ownerSet
	posting config.PostingConfig

	// incoming receives from adapters; inbox holds messages for check_mentions.
	incoming chan transport.Message
	inbox    chan transport.Message
	// immediate dispatches without waiting for check_mentions (task disabled).
	immediate atomic.Bool
	// modeMu orders immediate flips against inbox enqueues.
	modeMu sync.Mutex

	taskIntervals map[string]time.Duration
	schedDone     chan struct{}
	startedAt     time.Time
}

// deps are the parts New builds from config and tests replace.
type deps struct {
	adapters  []transport.Adapter
	generator llm.Generator
	recall    *memory.Recall
}

// New loads and validates the config, then builds every component. Nothing
// runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validate)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	adapters, err := buildAdapters(cfg, bootLog)
	if err != nil {
		return nil, err
	}
	timeout, err := config.ParseDurationOrDefault("llm.timeout", cfg.LLM.Timeout, config.DefaultLLMTimeout)
	if err != nil {
		return nil, err
	}
	gen, err := llm.New(mapProviders(cfg), timeout, bootLog.With(logx.String("comp", "llm")))
	if err != nil {
		return nil, err
	}
	var rec *memory.Recall
	if rc, ok := mapRecallConfig(cfg); ok {
		if rec, err = memory.NewRecall(rc, bootLog.With(logx.String("comp", "recall"))); err != nil {
			return nil, err
		}
	}
	return build(cfgm, cfg, deps{adapters: adapters, generator: gen, recall: rec})
}

func build(cfgm *config.ConfigManager, cfg *config.Config, d deps) (*App, error) {
	// Bootstrap with chat logging off; the target must be set before Apply enables it.
	baseLog := mapLogConfig(cfg)
	baseLog.Chat.Enabled = false
	logSvc, log := logx.New(baseLog)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	registry := transport.NewRegistry(d.adapters...)
	a := &App{
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           eventbus.New(),
		registry:      registry,
		recall:        d.recall,
		owners:        mapOwners(cfg),
		posting:       cfg.Posting,
		incoming:      make(chan transport.Message, config.DefaultInboxSize),
		taskIntervals: map[string]time.Duration{},
		schedDone:     make(chan struct{}),
	}
	a.applyLogging(cfg)

	mc, err := mapMemoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := memory.Open(mc, log.With(logx.String("comp", "memory")))
	if err != nil {
		return nil, err
	}
	a.store = store

	inboxSize := cfg.Tasks.InboxSize
	if inboxSize <= 0 {
		inboxSize = config.DefaultInboxSize
	}
	a.inbox = make(chan transport.Message, inboxSize)

	var recaller agent.Recaller
	if d.recall != nil {
		recaller = d.recall
	}
	a.agent, err = agent.New(mapPersona(cfg.Persona), agent.Deps{
		Log:       log.With(logx.String("comp", "agent")),
		Generator: d.generator,
		Store:     store,
		Recall:    recaller,
		Sender:    registry,
	}, agent.WithRateLimit(cfg.Posting.RatePerMinute), agent.WithHistory(cfg.Memory.HistoryLimit()))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	schedCfg, err := cfg.Scheduler.Resolve()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), a.bus)
	a.disp = trigger.New(log.With(logx.String("comp", "trigger")), a.bus)
	a.monitor = monitor.New(mapMonitorConfig(cfg), a.statusDoc, log.With(logx.String("comp", "monitor")))

	if err := a.registerTasks(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := a.registerTriggers(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// applyLogging points the chat log sink at its conversation, then applies levels and sinks.
func (a *App) applyLogging(cfg *config.Config) {
	lc := cfg.Logging.Chat
	if p := strings.TrimSpace(lc.Platform); p != "" {
		if ad, ok := a.registry.Get(p); ok {
			a.logs.SetChatTarget(ad, strings.TrimSpace(lc.Conversation))
		}
	} else {
		a.logs.SetChatTarget(nil, "")
	}
	a.logs.Apply(mapLogConfig(cfg))
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()
	a.startedAt = time.Now()

	for _, ad := range a.registry.All() {
		if err := ad.Start(c, a.incoming); err != nil {
			return fmt.Errorf("start %s: %w", ad.Name(), err)
		}
		a.log.Info("platform started", logx.String("platform", ad.Name()))
	}

	a.sup.Go0("inbox.pump", a.pump)

	a.sup.Go("scheduler", func(c context.Context) error {
		defer close(a.schedDone)
		return a.sched.Start(c)
	})

	if err := a.monitor.Start(c); err != nil {
		// The monitor is optional; the agent runs without it.
		a.log.Warn("monitor not started", logx.Err(err))
	}

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifyReady(a.log)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })

	a.log.Info("app started",
		logx.Strs("platforms", a.registry.Names()),
		logx.Int("tasks", len(a.sched.Status())),
		logx.Int("triggers", len(a.disp.Rules())),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	// Bound one shutdown step so a stuck component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Stop does not wake sleeping loops. Once no action is in flight the app
	// context is canceled, which cuts the sleeps short.
	step("scheduler", 3*time.Second, func(c context.Context) error {
		a.sched.Stop()
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			if a.sched.Idle() {
				a.sup.Cancel()
			}
			select {
			case <-a.schedDone:
				return nil
			case <-c.Done():
				return c.Err()
			case <-tick.C:
			}
		}
	})
	a.sup.Cancel()

	step("monitor", time.Second, func(c context.Context) error { return a.monitor.Stop(c) })
	step("platforms", 3*time.Second, func(c context.Context) error {
		g, gctx := errgroup.WithContext(c)
		for _, ad := range a.registry.All() {
			g.Go(func() error {
				if err := ad.Stop(gctx); err != nil {
					return fmt.Errorf("%s: %w", ad.Name(), err)
				}
				return nil
			})
		}
		return g.Wait()
	})
	step("memory", 2*time.Second, func(c context.Context) error {
		if err := a.store.Save(c); err != nil {
			a.log.Warn("final memory save failed", logx.Err(err))
		}
		return a.store.Close()
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}
