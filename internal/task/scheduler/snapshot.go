package scheduler

// Snapshot returns a point-in-time view for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:          s.state,
		TickInterval:   s.cfg.TickInterval,
		DriftThreshold: s.cfg.DriftThreshold,
		Timezone:       s.loc.String(),
		LastTick:       s.lastTick,
		Ticks:          s.ticks,
		DriftResets:    s.resets,
	}
	s.mu.Unlock()

	snap.Jobs = s.table.infos()
	return snap
}

// Jobs lists the live jobs in registration order.
func (s *Service) Jobs() []JobInfo { return s.table.infos() }

// Job looks up one live job.
func (s *Service) Job(id JobID) (JobInfo, bool) { return s.table.info(id) }
