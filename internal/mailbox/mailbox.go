// Package mailbox implements the reply handoff between the bot callback
// and the browser client.
//
// A Mailbox holds at most one undelivered reply per conversation id. The
// bot's push handler deposits a reply, the client's poll handler takes it,
// and a per-entry timer evicts it after a fixed delay whether or not it was
// consumed. Delivery is at-most-once: the consumed flag is flipped under the
// lock, so concurrent polls for the same conversation resolve to exactly one
// winner.
package mailbox

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a deposited reply survives before eviction.
const DefaultTTL = 30 * time.Second

// entry is one pending reply. Owned exclusively by the Mailbox.
type entry struct {
	payload   string
	createdAt time.Time
	consumed  bool
	evict     *time.Timer
}

// Stats is a snapshot of mailbox activity counters.
type Stats struct {
	Deposits   int64 `json:"deposits"`
	Overwrites int64 `json:"overwrites"`
	Takes      int64 `json:"takes"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	Pending    int   `json:"pending"`
}

// Mailbox is a process-wide single-delivery store keyed by conversation id.
// Safe for concurrent use.
type Mailbox struct {
	ttl    time.Duration
	logger *slog.Logger

	// onDeposit, if set, fires after a successful Deposit with the key.
	// Used to nudge websocket subscribers; never called under the lock.
	onDeposit func(key string)

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	stats   Stats
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithTTL overrides the eviction delay.
func WithTTL(ttl time.Duration) Option {
	return func(m *Mailbox) {
		m.ttl = ttl
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mailbox) {
		m.logger = logger.With("component", "mailbox")
	}
}

// WithNotify registers a callback invoked after each Deposit.
func WithNotify(fn func(key string)) Option {
	return func(m *Mailbox) {
		m.onDeposit = fn
	}
}

// New creates a Mailbox with the default TTL.
func New(opts ...Option) *Mailbox {
	m := &Mailbox{
		ttl:     DefaultTTL,
		logger:  slog.Default().With("component", "mailbox"),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Deposit stores the reply for key, replacing any prior entry, and schedules
// eviction after the TTL. A replaced entry's timer is cancelled so it can
// never evict the new entry early. Never fails; an unconsumed prior reply is
// silently discarded (last write wins).
func (m *Mailbox) Deposit(key, payload string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	if prev, ok := m.entries[key]; ok {
		prev.evict.Stop()
		m.stats.Overwrites++
		if !prev.consumed {
			m.logger.Debug("unconsumed reply overwritten", "conversation_id", key)
		}
	}

	e := &entry{
		payload:   payload,
		createdAt: time.Now(),
	}
	e.evict = time.AfterFunc(m.ttl, func() {
		m.expire(key, e)
	})
	m.entries[key] = e
	m.stats.Deposits++
	m.mu.Unlock()

	if m.onDeposit != nil {
		m.onDeposit(key)
	}
}

// TryTake returns the pending reply for key and marks it consumed. The
// second return is the deposit time. ok is false when there is no pending
// reply — a normal polling outcome, not an error. Each deposited reply is
// returned by at most one successful TryTake.
func (m *Mailbox) TryTake(key string) (payload string, depositedAt time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.entries[key]
	if !found || e.consumed {
		m.stats.Misses++
		return "", time.Time{}, false
	}

	e.consumed = true
	m.stats.Takes++
	return e.payload, e.createdAt, true
}

// expire removes the entry when its timer fires. The pointer comparison
// guards against a timer that lost a Stop race with an overwriting Deposit:
// it must only remove the entry it was scheduled for.
func (m *Mailbox) expire(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.entries[key]; ok && cur == e {
		delete(m.entries, key)
		m.stats.Evictions++
		m.logger.Debug("reply evicted", "conversation_id", key, "consumed", e.consumed)
	}
}

// Len returns the number of entries currently held, consumed or not.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stats returns a snapshot of the activity counters.
func (m *Mailbox) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Pending = len(m.entries)
	return s
}

// Close stops all outstanding eviction timers and drops all entries.
// Subsequent Deposits are ignored.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for key, e := range m.entries {
		e.evict.Stop()
		delete(m.entries, key)
	}
}
