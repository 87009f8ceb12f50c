package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"pepe/internal/eventbus"
	logx "pepe/pkg/logx"
)

// TaskEvent is the payload of task.ran and task.failed events.
type TaskEvent struct {
	Task     string        `json:"task"`
	RunCount uint64        `json:"run_count"`
	Took     time.Duration `json:"took"`
	Err      string        `json:"err,omitempty"`
}

func stopped(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// loop is the life of one task between Start and Stop (or removal).
func (s *Service) loop(ctx context.Context, t *task, stopCh <-chan struct{}) {
	if d := s.startupDelay(t); d > 0 {
		s.log.Debug("task start delayed", logx.String("task", t.name), logx.Duration("delay", d))
		if !s.sleep(ctx, t, d) {
			return
		}
	}
	for {
		if stopped(stopCh) || stopped(t.removed) || ctx.Err() != nil {
			return
		}
		if t.enabled.Load() {
			s.execute(ctx, t)
		}
		next := s.nextDelay(t.every())
		s.log.Trace("task sleeping", logx.String("task", t.name), logx.Duration("next", next))
		if !s.sleep(ctx, t, next) {
			return
		}
	}
}

// sleep waits d. It returns false when the task was removed or ctx ended.
// Stop does not wake it.
func (s *Service) sleep(ctx context.Context, t *task, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.removed:
		return false
	case <-ctx.Done():
		return false
	}
}

// execute runs the action once. Failures and panics count as completed runs.
func (s *Service) execute(ctx context.Context, t *task) {
	t.busy.Store(true)
	start := time.Now()
	err := invoke(ctx, t.action)
	took := time.Since(start)
	t.busy.Store(false)

	t.mu.Lock()
	t.runCount++
	t.lastRun = time.Now()
	n := t.runCount
	t.mu.Unlock()

	ev := TaskEvent{Task: t.name, RunCount: n, Took: took}
	if err != nil {
		aerr := &ActionError{Task: t.name, Err: err}
		ev.Err = err.Error()
		fields := []logx.Field{logx.String("task", t.name), logx.Uint64("run_count", n), logx.Duration("took", took), logx.Err(aerr)}
		if pe, ok := err.(*panicError); ok {
			fields = append(fields, logx.Stack(pe.stack))
		}
		s.log.Error("task failed", fields...)
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: ev})
	} else {
		s.log.Debug("task ran", logx.String("task", t.name), logx.Uint64("run_count", n), logx.Duration("took", took))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskRan, Data: ev})
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func invoke(ctx context.Context, a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return a(ctx)
}
