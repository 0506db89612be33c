package presence

import (
	"context"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
)

// Reaper periodically evicts presence entries that have shown no activity
// for longer than the idle threshold, and closes their connections.
type Reaper struct {
	reg      *Registry
	interval time.Duration
	maxIdle  time.Duration
}

func NewReaper(reg *Registry, interval, maxIdle time.Duration) *Reaper {
	return &Reaper{reg: reg, interval: interval, maxIdle: maxIdle}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	logger.Infof("presence: reaper started interval=%s idle=%s", r.interval, r.maxIdle)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one eviction pass and returns the number of evicted entries.
func (r *Reaper) Sweep() int {
	defer logger.DeferLogDuration("presence.Sweep", time.Now())()
	evicted := r.reg.Sweep(r.maxIdle)
	for _, e := range evicted {
		logger.Infof("presence: evicted idle user=%s conn=%s last_active=%s", e.UserID, e.Conn.ID(), e.LastActiveAt.Format(time.RFC3339))
		e.Conn.Close()
	}
	metrics.ReaperEvictions.Add(float64(len(evicted)))
	return len(evicted)
}
