package upload

import (
	"context"
	"time"
)

// Sweep evicts sessions idle for longer than the TTL and deletes their
// chunks. It returns the number of sessions evicted.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.opts.TTL <= 0 {
		return 0
	}
	cutoff := m.opts.Clock().Add(-m.opts.TTL)

	m.mu.Lock()
	candidates := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	evicted := 0
	for _, s := range candidates {
		s.mu.Lock()
		stale := !s.closed && s.receiving == 0 && s.lastActive.Before(cutoff)
		if stale {
			s.closed = true
		}
		s.mu.Unlock()
		if !stale {
			continue
		}

		m.evict(ctx, s)
		evicted++
		m.log.Info().
			Str("session", s.id).
			Str("filename", s.filename).
			Msg("upload session expired")
	}
	return evicted
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.log.Debug().Int("evicted", n).Msg("session sweep")
			}
		}
	}
}
