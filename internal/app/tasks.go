package app

import (
	"context"
	"errors"
	"time"

	"pepe/internal/config"
	"pepe/internal/eventbus"
	"pepe/internal/transport"
	logx "pepe/pkg/logx"
)

const (
	TaskAutoPost      = "auto_post"
	TaskCheckMentions = "check_mentions"
	TaskSaveMemory    = "save_memory"
)

var errNoPostingTarget = errors.New("posting.platform and posting.conversation are not configured")

type taskSpec struct {
	name   string
	cfg    config.TaskConfig
	def    string
	action func(context.Context) error
}

func (a *App) taskSpecs(cfg *config.Config) []taskSpec {
	return []taskSpec{
		{name: TaskAutoPost, cfg: cfg.Tasks.AutoPost, def: config.DefaultAutoPostEvery, action: a.autoPost},
		{name: TaskCheckMentions, cfg: cfg.Tasks.CheckMentions, def: config.DefaultCheckMentionsEvery, action: a.checkMentions},
		{name: TaskSaveMemory, cfg: cfg.Tasks.SaveMemory, def: config.DefaultSaveMemoryEvery, action: a.saveMemory},
	}
}

func (a *App) registerTasks(cfg *config.Config) error {
	for _, ts := range a.taskSpecs(cfg) {
		every, err := ts.cfg.Interval("tasks."+ts.name+".every", ts.def)
		if err != nil {
			return err
		}
		if err := a.sched.AddTask(ts.name, ts.action, every, ts.cfg.IsEnabled()); err != nil {
			return err
		}
		a.taskIntervals[ts.name] = every
	}
	a.immediate.Store(!cfg.Tasks.CheckMentions.IsEnabled())
	return nil
}

// applyTasks toggles tasks and moves changed intervals onto the running loops.
func (a *App) applyTasks(ctx context.Context, cfg *config.Config) {
	for _, ts := range a.taskSpecs(cfg) {
		every, err := ts.cfg.Interval("tasks."+ts.name+".every", ts.def)
		if err != nil {
			a.log.Warn("invalid task interval; keeping previous", logx.String("task", ts.name), logx.Err(err))
			continue
		}
		if prev, ok := a.taskIntervals[ts.name]; ok && prev != every {
			if _, err := a.sched.SetInterval(ts.name, every); err != nil {
				a.log.Warn("task interval not applied", logx.String("task", ts.name), logx.Err(err))
			} else {
				a.taskIntervals[ts.name] = every
			}
		}
		if ts.cfg.IsEnabled() {
			a.sched.EnableTask(ts.name)
		} else {
			a.sched.DisableTask(ts.name)
		}
	}

	immediate := !cfg.Tasks.CheckMentions.IsEnabled()
	a.modeMu.Lock()
	changed := a.immediate.Swap(immediate) != immediate
	a.modeMu.Unlock()
	if changed && immediate {
		// Anything queued for the now-disabled task is handled right away.
		a.drainInbox(ctx)
	}
}

func (a *App) autoPost(ctx context.Context) error {
	p := a.posting
	if p.Platform == "" || p.Conversation == "" {
		return errNoPostingTarget
	}
	text, err := a.agent.PostTo(ctx, p.Platform, p.Conversation)
	if err != nil {
		return err
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.MessageOut, Time: time.Now(), Data: transport.Message{
		Platform:       p.Platform,
		ConversationID: p.Conversation,
		Text:           text,
		At:             time.Now(),
	}})
	a.log.Info("auto-posted", logx.String("platform", p.Platform), logx.Int("chars", len(text)))
	return nil
}

func (a *App) checkMentions(ctx context.Context) error {
	if n := a.drainInbox(ctx); n > 0 {
		a.log.Debug("inbox drained", logx.Int("messages", n))
	}
	return ctx.Err()
}

func (a *App) saveMemory(ctx context.Context) error {
	return a.store.Save(ctx)
}

// pump moves adapter messages to the dispatcher or the inbox.
func (a *App) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.incoming:
			a.bus.Publish(eventbus.Event{Type: eventbus.MessageIn, Time: time.Now(), Data: msg})
			a.route(ctx, msg)
		}
	}
}

// route dispatches msg now in immediate mode, otherwise queues it for
// check_mentions. The mode check and the enqueue happen under modeMu, so a
// switch to immediate mode always drains what was queued before it.
func (a *App) route(ctx context.Context, msg transport.Message) {
	a.modeMu.Lock()
	if a.immediate.Load() {
		a.modeMu.Unlock()
		a.dispatch(ctx, msg)
		return
	}
	select {
	case a.inbox <- msg:
		a.modeMu.Unlock()
	default:
		a.modeMu.Unlock()
		a.log.Warn("inbox full; message dropped",
			logx.String("platform", msg.Platform),
			logx.String("conversation", msg.ConversationID),
			logx.Int("cap", cap(a.inbox)),
		)
	}
}

// drainInbox dispatches what is queued now; messages arriving meanwhile wait for the next run.
func (a *App) drainInbox(ctx context.Context) int {
	n := len(a.inbox)
	done := 0
	for ; done < n; done++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case msg := <-a.inbox:
			a.dispatch(ctx, msg)
		default:
			return done
		}
	}
	return done
}

func (a *App) dispatch(ctx context.Context, msg transport.Message) bool {
	return a.disp.Check(ctx, msg.Text, msg.Context())
}
