package hold

import (
	"context"
	"log"
	"time"
)

// DefaultSweepInterval is how often the sweep runs when unconfigured.
const DefaultSweepInterval = time.Minute

// Sweeper periodically runs the manager's expiry sweep.  It is a
// cooperative background task: start it once from main and cancel its
// context on shutdown.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper returns a Sweeper; interval <= 0 falls back to
// DefaultSweepInterval.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{manager: m, interval: interval}
}

// Run blocks, sweeping on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.manager.SweepExpired(ctx)
			if err != nil {
				log.Printf("hold-sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("hold-sweep: expired %d holds", n)
			}
		}
	}
}
