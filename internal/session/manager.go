// Package session keeps the per-session values that must live in memory only:
// the API credential, the website URL and the current upload.
package session

import (
	"strings"
	"sync"
	"time"
)

// Upload is the file most recently accepted for a session. Data is retained so
// the table can be re-parsed after its cache entry expires.
type Upload struct {
	Name string
	Data []byte
	Key  string
}

// State is a snapshot of one session's in-memory values.
type State struct {
	Credential string
	WebsiteURL string
	Upload     *Upload
}

func (s State) HasCredential() bool { return s.Credential != "" }

// ExpireFunc is called, outside the manager's lock, with the final state of
// every session that was idle for longer than the idle timeout.
type ExpireFunc func(id string, st State)

type entry struct {
	state State
	seen  time.Time
}

// Manager holds session state. Sessions not touched for the idle timeout are
// dropped: a session touched after that starts over from the defaults, and
// all others are swept periodically from Touch.
type Manager struct {
	mu       sync.Mutex
	defaults State
	idle     time.Duration
	now      func() time.Time
	swept    time.Time
	onExpire ExpireFunc
	sessions map[string]*entry
}

// NewManager returns a Manager whose new sessions start from defaults. An idle
// timeout of zero keeps sessions until they are deleted.
func NewManager(defaults State, idle time.Duration) *Manager {
	defaults.Upload = nil
	return &Manager{
		defaults: defaults,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// OnExpire registers the function that releases resources held for expired
// sessions.
func (m *Manager) OnExpire(fn ExpireFunc) {
	m.mu.Lock()
	m.onExpire = fn
	m.mu.Unlock()
}

// Touch marks the session as active, creating it if needed. Expired sessions,
// including id itself, are released before Touch returns.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	now := m.now()
	expired := m.sweep(now)
	if e, ok := m.sessions[id]; ok && m.stale(e, now) {
		expired[id] = e.state
		delete(m.sessions, id)
	}
	m.touch(id, now)
	fn := m.onExpire
	m.mu.Unlock()

	if fn == nil {
		return
	}
	for sid, st := range expired {
		fn(sid, st)
	}
}

// sweep removes stale sessions at most once per quarter of the idle timeout.
// m.mu must be held.
func (m *Manager) sweep(now time.Time) map[string]State {
	expired := make(map[string]State)
	if m.idle <= 0 || now.Sub(m.swept) < m.idle/4 {
		return expired
	}
	m.swept = now
	for id, e := range m.sessions {
		if m.stale(e, now) {
			expired[id] = e.state
			delete(m.sessions, id)
		}
	}
	return expired
}

func (m *Manager) stale(e *entry, now time.Time) bool {
	return m.idle > 0 && now.Sub(e.seen) > m.idle
}

// touch returns the session's entry, creating it from the defaults, and marks
// it seen. m.mu must be held.
func (m *Manager) touch(id string, now time.Time) *entry {
	e, ok := m.sessions[id]
	if !ok {
		e = &entry{state: m.defaults}
		m.sessions[id] = e
	}
	e.seen = now
	return e
}

func (m *Manager) Get(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e.state
	}
	return m.defaults
}

func (m *Manager) update(id string, fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.touch(id, m.now()).state)
}

func (m *Manager) SetCredential(id, credential string) {
	m.update(id, func(st *State) { st.Credential = strings.TrimSpace(credential) })
}

func (m *Manager) SetWebsiteURL(id, url string) {
	m.update(id, func(st *State) { st.WebsiteURL = strings.TrimSpace(url) })
}

// SetUpload replaces the session's upload and returns the one it replaced.
func (m *Manager) SetUpload(id string, up Upload) (previous *Upload) {
	m.update(id, func(st *State) {
		previous = st.Upload
		st.Upload = &up
	})
	return previous
}

// Delete forgets a session and returns its last state.
func (m *Manager) Delete(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return State{}, false
	}
	delete(m.sessions, id)
	return e.state, true
}

func (m *Manager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
