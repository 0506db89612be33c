// Package presence tracks which users hold a live connection on this process.
//
// The Registry keeps exactly one entry per user. A second connection from the same
// user replaces the first, and the displaced connection is told so with a
// session-superseded event. Removal is conditional on the connection id, so a late
// disconnect from a superseded connection never evicts its successor. Every change of
// membership or status is followed by a full snapshot broadcast to all entries.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/chatrelay/internal/event"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
)

// Conn is the registry's view of a live connection.
// Send must not block; it reports whether the event was accepted for writing.
type Conn interface {
	ID() string
	Send(ev event.Outbound) bool
	Close()
}

// Entry is a copy of one user's presence state.
type Entry struct {
	UserID       string
	Conn         Conn
	Profile      model.Profile
	LastActiveAt time.Time
	Topics       []string
	Status       string
}

type entry struct {
	conn       Conn
	profile    model.Profile
	lastActive time.Time
	topics     map[string]struct{}
	status     string
}

func (e *entry) export(userID string) Entry {
	topics := make([]string, 0, len(e.topics))
	for t := range e.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return Entry{
		UserID:       userID,
		Conn:         e.conn,
		Profile:      e.profile,
		LastActiveAt: e.lastActive,
		Topics:       topics,
		Status:       e.status,
	}
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time

	// broadcastMu orders snapshot broadcasts so the last one sent reflects the latest state.
	broadcastMu sync.Mutex
}

type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register installs or replaces the entry for userID and broadcasts the new snapshot.
// If the previous entry belonged to another connection, that connection receives
// session-superseded. It is not closed.
func (r *Registry) Register(userID string, conn Conn, profile model.Profile) {
	r.mu.Lock()
	prev := r.entries[userID]
	r.entries[userID] = &entry{
		conn:       conn,
		profile:    profile,
		lastActive: r.now(),
		topics:     map[string]struct{}{userID: {}},
	}
	n := len(r.entries)
	r.mu.Unlock()
	metrics.OnlineUsers.Set(float64(n))

	if prev != nil && prev.conn.ID() != conn.ID() {
		metrics.SessionsSuperseded.Inc()
		logger.Infof("presence: superseded user=%s old_conn=%s new_conn=%s", userID, prev.conn.ID(), conn.ID())
		if !prev.conn.Send(event.SessionSuperseded{}) {
			logger.Debugf("presence: superseded notice not delivered user=%s conn=%s", userID, prev.conn.ID())
		}
	}
	r.Broadcast()
}

// Deregister removes userID's entry only if it is still owned by connID.
// It reports whether an entry was removed.
func (r *Registry) Deregister(userID, connID string) bool {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok || e.conn.ID() != connID {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, userID)
	n := len(r.entries)
	r.mu.Unlock()
	metrics.OnlineUsers.Set(float64(n))

	r.Broadcast()
	return true
}

// Lookup returns a copy of userID's entry.
func (r *Registry) Lookup(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	if !ok {
		return Entry{}, false
	}
	return e.export(userID), true
}

// Touch refreshes the activity time of userID's entry if connID still owns it.
func (r *Registry) Touch(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok || e.conn.ID() != connID {
		return false
	}
	e.lastActive = r.now()
	return true
}

// SetStatus stores a free-form status on userID's entry and broadcasts the snapshot.
func (r *Registry) SetStatus(userID, connID, status string) bool {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok || e.conn.ID() != connID {
		r.mu.Unlock()
		return false
	}
	e.status = status
	e.lastActive = r.now()
	r.mu.Unlock()

	r.Broadcast()
	return true
}

// Join records that userID's connection follows topic, typically a conversation id.
func (r *Registry) Join(userID, connID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok || e.conn.ID() != connID {
		return false
	}
	e.topics[topic] = struct{}{}
	return true
}

// Snapshot projects the registry for broadcast, ordered by user id.
func (r *Registry) Snapshot() []model.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []model.OnlineUser {
	out := make([]model.OnlineUser, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, model.OnlineUser{Profile: e.profile, Status: e.status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Broadcast sends the current snapshot to every registered connection.
func (r *Registry) Broadcast() {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.mu.RLock()
	snap := event.OnlineUsers(r.snapshotLocked())
	targets := make([]Conn, 0, len(r.entries))
	for _, e := range r.entries {
		targets = append(targets, e.conn)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.Send(snap)
	}
	metrics.PresenceBroadcasts.Inc()
}

type candidate struct {
	userID string
	connID string
}

// Sweep evicts every entry idle for longer than maxIdle and broadcasts once if any
// were removed. It returns the evicted entries; closing their connections is up to
// the caller.
func (r *Registry) Sweep(maxIdle time.Duration) []Entry {
	now := r.now()
	evicted := r.evictStale(r.staleCandidates(now, maxIdle), now, maxIdle)
	if len(evicted) > 0 {
		r.Broadcast()
	}
	return evicted
}

func (r *Registry) staleCandidates(now time.Time, maxIdle time.Duration) []candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []candidate
	for userID, e := range r.entries {
		if now.Sub(e.lastActive) > maxIdle {
			out = append(out, candidate{userID: userID, connID: e.conn.ID()})
		}
	}
	return out
}

// evictStale re-checks ownership and idleness of each candidate under the write
// lock, so entries replaced or touched since the read are kept.
func (r *Registry) evictStale(cands []candidate, now time.Time, maxIdle time.Duration) []Entry {
	if len(cands) == 0 {
		return nil
	}
	r.mu.Lock()
	var evicted []Entry
	for _, c := range cands {
		e, ok := r.entries[c.userID]
		if !ok || e.conn.ID() != c.connID || now.Sub(e.lastActive) <= maxIdle {
			continue
		}
		evicted = append(evicted, e.export(c.userID))
		delete(r.entries, c.userID)
	}
	n := len(r.entries)
	r.mu.Unlock()
	metrics.OnlineUsers.Set(float64(n))
	return evicted
}

// Drain empties the registry without broadcasting and returns what it held.
func (r *Registry) Drain() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for userID, e := range r.entries {
		out = append(out, e.export(userID))
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()
	metrics.OnlineUsers.Set(0)
	return out
}
