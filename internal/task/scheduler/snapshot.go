package scheduler

// Status returns a copy of every task's state keyed by name.
func (s *Service) Status() map[string]TaskStatus {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make(map[string]TaskStatus, len(tasks))
	for _, t := range tasks {
		out[t.name] = t.status()
	}
	return out
}

// TaskStatus returns the state of one task.
func (s *Service) TaskStatus(name string) (TaskStatus, bool) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return TaskStatus{}, false
	}
	return t.status(), true
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.running
	cfg := s.cfg
	s.mu.Unlock()

	return Snapshot{
		Running:        running,
		VarianceFactor: cfg.VarianceFactor,
		MinInterval:    cfg.MinInterval.Seconds(),
		Tasks:          s.Status(),
	}
}
