package server

import (
	"time"
)

// CleanupConfig holds the run eviction parameters.
type CleanupConfig struct {
	// Interval is how often to run cleanup (default: 1 minute).
	Interval time.Duration
	// Retention is how long a run is kept after its last activity (default: 10 minutes).
	Retention time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Interval:  time.Minute,
		Retention: 10 * time.Minute,
	}
}

// StartCleanupLoop starts a background goroutine that periodically evicts
// stale runs. Returns a stop function that should be called to stop the loop.
func (s *Server) StartCleanupLoop(cfg CleanupConfig) func() {
	defaults := DefaultCleanupConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaults.Retention
	}

	ticker := time.NewTicker(cfg.Interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				s.runCleanupCycle(cfg)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// runCleanupCycle performs a single cleanup cycle with panic recovery.
func (s *Server) runCleanupCycle(cfg CleanupConfig) int {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cleanup_panic_recovered", "error", r)
		}
	}()

	removed := s.registry.CleanupStale(s.clock.Now(), cfg.Retention)
	s.logger.Debug("cleanup_cycle_completed",
		"runs_cleaned", removed,
		"runs_active", s.registry.Len(),
	)
	return removed
}
