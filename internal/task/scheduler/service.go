package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"pepe/internal/eventbus"
	"pepe/internal/runtime/supervisor"
	logx "pepe/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		cfg:   cfg.normalized(),
		log:   log,
		bus:   bus,
		tasks: map[string]*task{},
		rand:  rand.Float64,
	}
}

// Apply swaps the jitter settings. Running loops pick them up on their next sleep.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.normalized()
	s.mu.Unlock()
}

// Add registers an enabled task.
func (s *Service) Add(name string, action Action, interval time.Duration) error {
	return s.AddTask(name, action, interval, true)
}

// AddTask registers a task. If the scheduler is running, the task's loop
// starts right away.
func (s *Service) AddTask(name string, action Action, interval time.Duration, enabled bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("task name required")
	}
	if action == nil {
		return fmt.Errorf("task %s: action required", name)
	}
	if interval <= 0 {
		return fmt.Errorf("task %s: %w (got %v)", name, ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %s: %w", name, ErrDuplicateTask)
	}
	t := &task{name: name, action: action, interval: interval, removed: make(chan struct{})}
	t.enabled.Store(enabled)
	s.tasks[name] = t
	s.log.Debug("task registered", logx.String("task", name), logx.Duration("interval", interval), logx.Bool("enabled", enabled))

	if s.running && !s.draining && !stopped(s.stopCh) {
		s.launchLocked(t)
	}
	return nil
}

// SetInterval changes a task's base interval. The running loop uses it from
// its next sleep on; run count and last run are kept.
func (s *Service) SetInterval(name string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return false, fmt.Errorf("task %s: %w (got %v)", name, ErrInvalidInterval, interval)
	}
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	t.mu.Lock()
	prev := t.interval
	t.interval = interval
	t.mu.Unlock()
	if prev != interval {
		s.log.Info("task interval changed", logx.String("task", name), logx.Duration("interval", interval))
	}
	return true, nil
}

// RemoveTask deregisters a task and ends its loop. An in-flight action finishes.
func (s *Service) RemoveTask(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.remove()
	s.log.Debug("task removed", logx.String("task", name))
	return true
}

func (s *Service) EnableTask(name string) bool  { return s.setEnabled(name, true) }
func (s *Service) DisableTask(name string) bool { return s.setEnabled(name, false) }

func (s *Service) setEnabled(name string, enabled bool) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	if t.enabled.Swap(enabled) != enabled {
		s.log.Info("task toggled", logx.String("task", name), logx.Bool("enabled", enabled))
	}
	return true
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Idle reports whether no task action is executing.
func (s *Service) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.busy.Load() {
			return false
		}
	}
	return true
}

// Start runs every registered task's loop and blocks until Stop is called or
// ctx ends, then waits for the loops to exit. Calling Start while running
// logs a warning and returns nil.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("scheduler already running")
		return nil
	}
	s.running = true
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	sup := s.sup
	for _, t := range s.tasks {
		s.launchLocked(t)
	}
	n := len(s.tasks)
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.Int("tasks", n))

	select {
	case <-stopCh:
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	start := time.Now()
	// Loops observe the stop flag after their current sleep; ctx ending cuts sleeps short.
	_ = sup.Wait(context.Background())
	sup.Cancel()

	s.mu.Lock()
	s.running = false
	s.draining = false
	s.sup = nil
	s.stopCh = nil
	s.mu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("drain", time.Since(start)))
	return nil
}

// Stop asks every loop to exit once its current sleep or action completes.
// It does not wait; Start returns when the last loop is gone.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.stopCh == nil {
		return
	}
	if !stopped(s.stopCh) {
		close(s.stopCh)
		s.log.Info("stop requested")
	}
}

func (s *Service) launchLocked(t *task) {
	stopCh := s.stopCh
	s.sup.Go0("task."+t.name, func(ctx context.Context) { s.loop(ctx, t, stopCh) })
}
