// Package dispatch pushes events to users that are online on this process.
// Nothing is queued for offline users: they recover state from storage on reconnect.
package dispatch

import (
	"github.com/chatrelay/internal/event"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/presence"
)

// Directory resolves a user to their live presence entry.
type Directory interface {
	Lookup(userID string) (presence.Entry, bool)
}

type Dispatcher struct {
	dir Directory
}

func New(dir Directory) *Dispatcher {
	return &Dispatcher{dir: dir}
}

// Notify pushes ev to userID's current connection and reports whether it was handed
// to the connection. An offline user yields false and no further action.
func (d *Dispatcher) Notify(userID string, ev event.Outbound) bool {
	e, ok := d.dir.Lookup(userID)
	if !ok {
		metrics.Dispatches.WithLabelValues("offline").Inc()
		return false
	}
	if !e.Conn.Send(ev) {
		metrics.Dispatches.WithLabelValues("dropped").Inc()
		logger.Debugf("dispatch: %s not accepted user=%s conn=%s", ev.Kind(), userID, e.Conn.ID())
		return false
	}
	metrics.Dispatches.WithLabelValues("delivered").Inc()
	return true
}

// NotifyAll pushes ev to each user in userIDs and returns how many were online.
func (d *Dispatcher) NotifyAll(userIDs []string, ev event.Outbound) int {
	n := 0
	for _, id := range userIDs {
		if d.Notify(id, ev) {
			n++
		}
	}
	return n
}
