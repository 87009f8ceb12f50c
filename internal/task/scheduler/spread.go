package scheduler

import (
	"time"
)

// jitter returns interval + U(-v, +v) with v = interval*factor, floored at minimum.
// u is a sample from [0, 1).
func jitter(interval time.Duration, factor float64, minimum time.Duration, u float64) time.Duration {
	v := float64(interval) * factor
	d := time.Duration(float64(interval) + (2*u-1)*v)
	return max(d, minimum)
}

func (s *Service) nextDelay(interval time.Duration) time.Duration {
	s.mu.Lock()
	cfg := s.cfg
	u := s.rand()
	s.mu.Unlock()
	return jitter(interval, cfg.VarianceFactor, cfg.MinInterval, u)
}

// startupDelay spreads the first iteration of a loop over [0, min(interval, StartupSpread)).
func (s *Service) startupDelay(t *task) time.Duration {
	every := t.every()
	s.mu.Lock()
	spread := min(every, s.cfg.StartupSpread)
	u := s.rand()
	s.mu.Unlock()
	if spread <= 0 {
		return 0
	}
	return time.Duration(u * float64(spread))
}
