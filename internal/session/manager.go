package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

const shardCount = 32

// Manager owns every live CallSession. Calls are spread over shards so a busy
// call never blocks lookups for another; each entry carries its own mutex so
// callbacks for the same call run one at a time.
type Manager struct {
	shards      [shardCount]shard
	idleTimeout time.Duration

	hookMu   sync.RWMutex
	onExpire func(*CallSession)
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session *CallSession
	removed bool
}

func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = time.Minute
	}
	m := &Manager{idleTimeout: idleTimeout}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*entry)
	}
	return m
}

func (m *Manager) SetExpireHook(hook func(*CallSession)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onExpire = hook
}

// Do runs fn against the session for callID while holding that call's lock.
// When no session exists, fn receives a fresh one in PhaseGreeting and created
// is true; if fn returns an error for a fresh session, the session is dropped.
// A session that fn leaves in a terminal phase is removed from the store.
func (m *Manager) Do(callID string, fn func(s *CallSession) error) (created bool, err error) {
	for {
		e, isNew := m.acquire(callID)
		e.mu.Lock()
		if e.removed {
			// Lost a race with End or the janitor; look the call up again.
			e.mu.Unlock()
			continue
		}

		working := clone(e.session)
		fnErr := fn(working)
		if fnErr == nil || !isNew {
			working.LastActivityAt = time.Now().UTC()
			e.session = working
		}
		if working.Phase.IsTerminal() || (fnErr != nil && isNew) {
			m.remove(callID, e)
		}
		e.mu.Unlock()
		return isNew, fnErr
	}
}

// Get returns a snapshot of the session for callID.
func (m *Manager) Get(callID string) (*CallSession, error) {
	sh := m.shardFor(callID)
	sh.mu.Lock()
	e, ok := sh.entries[callID]
	sh.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrNotFound
	}
	return clone(e.session), nil
}

// End removes the session for callID and returns its final state.
func (m *Manager) End(callID string) (*CallSession, error) {
	sh := m.shardFor(callID)
	sh.mu.Lock()
	e, ok := sh.entries[callID]
	sh.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrNotFound
	}
	m.remove(callID, e)
	return clone(e.session), nil
}

func (m *Manager) ActiveCount() int {
	count := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		count += len(sh.entries)
		sh.mu.Unlock()
	}
	return count
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireIdle(time.Now().UTC())
			}
		}
	}()
}

// expireIdle evicts sessions idle past the timeout. Entries locked by an
// in-flight callback are skipped until the next sweep.
func (m *Manager) expireIdle(now time.Time) int {
	var expired []*CallSession
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		for callID, e := range sh.entries {
			if !e.mu.TryLock() {
				continue
			}
			if now.Sub(e.session.LastActivityAt) >= m.idleTimeout {
				e.removed = true
				delete(sh.entries, callID)
				expired = append(expired, clone(e.session))
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}

	m.hookMu.RLock()
	hook := m.onExpire
	m.hookMu.RUnlock()
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
	return len(expired)
}

func (m *Manager) acquire(callID string) (*entry, bool) {
	sh := m.shardFor(callID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[callID]; ok {
		return e, false
	}
	now := time.Now().UTC()
	e := &entry{session: &CallSession{
		CallID:          callID,
		Phase:           PhaseGreeting,
		SecurityAttempt: 1,
		StartedAt:       now,
		LastActivityAt:  now,
	}}
	sh.entries[callID] = e
	return e, true
}

// remove must be called with e.mu held.
func (m *Manager) remove(callID string, e *entry) {
	e.removed = true
	sh := m.shardFor(callID)
	sh.mu.Lock()
	if cur, ok := sh.entries[callID]; ok && cur == e {
		delete(sh.entries, callID)
	}
	sh.mu.Unlock()
}

func (m *Manager) shardFor(callID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callID))
	return &m.shards[h.Sum32()%shardCount]
}

func clone(s *CallSession) *CallSession {
	c := *s
	if s.Questions != nil {
		c.Questions = append([]SecurityQuestion(nil), s.Questions...)
	}
	return &c
}
