package app

import (
	"time"

	"pepe/internal/runtime/supervisor"
	"pepe/internal/task/scheduler"
	"pepe/internal/trigger"
)

// Status is the document served by the monitor at /status.
type Status struct {
	StartedAt  time.Time           `json:"started_at"`
	Uptime     string              `json:"uptime"`
	Platforms  []string            `json:"platforms"`
	InboxLen   int                 `json:"inbox_len"`
	Immediate  bool                `json:"immediate_dispatch"`
	Scheduler  scheduler.Snapshot  `json:"scheduler"`
	Triggers   []trigger.RuleInfo  `json:"triggers"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
}

func (a *App) Status() Status {
	st := Status{
		StartedAt: a.startedAt,
		Platforms: a.registry.Names(),
		InboxLen:  len(a.inbox),
		Immediate: a.immediate.Load(),
		Scheduler: a.sched.Snapshot(),
		Triggers:  a.disp.Rules(),
	}
	if !a.startedAt.IsZero() {
		st.Uptime = time.Since(a.startedAt).Round(time.Second).String()
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}

func (a *App) statusDoc() any { return a.Status() }
