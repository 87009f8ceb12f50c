package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pepe/internal/eventbus"
	"pepe/internal/runtime/supervisor"
	logx "pepe/pkg/logx"
)

// Action is one unit of recurring work. It may block on I/O; the scheduler
// never cancels it except through ctx at process shutdown.
type Action func(ctx context.Context) error

const (
	DefaultVarianceFactor = 0.2
	DefaultMinInterval    = time.Second
)

// Config controls jitter for every task of a scheduler.
type Config struct {
	// VarianceFactor v yields sleeps in [interval*(1-v), interval*(1+v)].
	VarianceFactor float64
	// MinInterval is the floor applied after jitter.
	MinInterval time.Duration
	// StartupSpread delays each loop's first iteration by a random amount below
	// min(interval, StartupSpread). Zero runs every task immediately on Start.
	StartupSpread time.Duration
}

func (c Config) normalized() Config {
	if c.VarianceFactor < 0 {
		c.VarianceFactor = 0
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.StartupSpread < 0 {
		c.StartupSpread = 0
	}
	return c
}

var (
	ErrDuplicateTask   = errors.New("task already exists")
	ErrInvalidInterval = errors.New("interval must be > 0")
)

// ActionError describes a failed run. It is logged and published, never returned.
type ActionError struct {
	Task string
	Err  error
}

func (e *ActionError) Error() string { return fmt.Sprintf("task %s: %v", e.Task, e.Err) }
func (e *ActionError) Unwrap() error { return e.Err }

// TaskStatus is a copy of one task's state.
type TaskStatus struct {
	Enabled  bool
	Interval time.Duration
	LastRun  *time.Time
	RunCount uint64
}

func (st TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Enabled  bool       `json:"enabled"`
		Interval float64    `json:"interval"`
		LastRun  *time.Time `json:"last_run,omitempty"`
		RunCount uint64     `json:"run_count"`
	}{st.Enabled, st.Interval.Seconds(), st.LastRun, st.RunCount})
}

type Snapshot struct {
	Running        bool                  `json:"running"`
	VarianceFactor float64               `json:"variance_factor"`
	MinInterval    float64               `json:"min_interval"`
	Tasks          map[string]TaskStatus `json:"tasks"`
}

type task struct {
	name    string
	action  Action
	enabled atomic.Bool
	// busy is set while the action runs.
	busy atomic.Bool

	// removed is closed by RemoveTask; it wakes the loop out of its sleep.
	removed    chan struct{}
	removeOnce sync.Once

	mu       sync.Mutex
	interval time.Duration
	lastRun  time.Time
	runCount uint64
}

func (t *task) every() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

func (t *task) status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TaskStatus{Enabled: t.enabled.Load(), Interval: t.interval, RunCount: t.runCount}
	if !t.lastRun.IsZero() {
		lr := t.lastRun
		st.LastRun = &lr
	}
	return st
}

func (t *task) remove() { t.removeOnce.Do(func() { close(t.removed) }) }

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	tasks map[string]*task

	// Set for the lifetime of one Start call.
	running bool
	stopCh  chan struct{}
	sup     *supervisor.Supervisor
	// draining is set once Start is waiting for its loops; no new loop may join.
	draining bool

	// rand returns a value in [0, 1); replaced in tests.
	rand func() float64
}
