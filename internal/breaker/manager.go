package breaker

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Settings configure one breaker. A rate-limited upstream gets a low
// threshold and a long timeout; a reliable one the opposite.
type Settings struct {
	Threshold   int
	OpenTimeout time.Duration
}

// Manager owns all breakers in the process, keyed by dependency name.
// Breakers are created lazily on first use and shared by every caller of
// that name.
type Manager struct {
	mu        sync.Mutex
	defaults  Settings
	overrides map[string]Settings
	breakers  map[string]*Breaker
}

// NewManager builds a manager with process defaults and optional per-name
// overrides.
func NewManager(defaults Settings, overrides map[string]Settings) *Manager {
	if overrides == nil {
		overrides = map[string]Settings{}
	}
	return &Manager{
		defaults:  defaults,
		overrides: overrides,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	s := m.defaults
	if o, ok := m.overrides[name]; ok {
		s = o
	}
	b := New(name, s.Threshold, s.OpenTimeout)
	m.breakers[name] = b
	return b
}

// Call routes fn through the named breaker.
func (m *Manager) Call(name string, fn func() error) error {
	return m.Get(name).Call(fn)
}

// Status snapshots every breaker created so far.
func (m *Manager) Status() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Status()
	}
	return out
}

// ParseOverrides reads "name:threshold:timeout" entries, e.g.
// "sec_filings:2:5m". Malformed entries are skipped.
func ParseOverrides(entries []string) map[string]Settings {
	out := make(map[string]Settings, len(entries))
	for _, e := range entries {
		parts := strings.Split(strings.TrimSpace(e), ":")
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		threshold, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		timeout, err := time.ParseDuration(parts[2])
		if err != nil {
			continue
		}
		out[parts[0]] = Settings{Threshold: threshold, OpenTimeout: timeout}
	}
	return out
}
