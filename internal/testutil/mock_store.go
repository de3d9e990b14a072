package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/focusgate/focusgate/internal/storage"
)

// MockStore implements storage.Store with in-memory maps for testing.
// All methods are safe for concurrent use.
type MockStore struct {
	mu       sync.Mutex
	session  *storage.SessionRecord
	deny     map[string]storage.DenyEntry
	buckets  map[string]storage.TimeBucket // "day|domain"
	catmap   map[string]string
	lastBeat time.Time

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// SizeBytes value returned by SizeBytes()
	Size int64

	// Call counters
	SetSessionCalls int
	AddTimeCalls    int
	HeartbeatCalls  int
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		deny:    make(map[string]storage.DenyEntry),
		buckets: make(map[string]storage.TimeBucket),
		catmap:  make(map[string]string),
		errors:  make(map[string]error),
		Size:    1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// SetStickyError injects an error returned on every call to the named method
// until cleared with SetError(method, nil).
func (m *MockStore) SetStickyError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method+"!sticky"] = err
}

func (m *MockStore) popError(method string) error {
	if err := m.errors[method+"!sticky"]; err != nil {
		return err
	}
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

// --- Session ----------------------------------------------------------------

func (m *MockStore) GetSession() (*storage.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("GetSession"); err != nil {
		return nil, err
	}
	if m.session == nil {
		return nil, nil
	}
	cp := *m.session
	return &cp, nil
}

func (m *MockStore) SetSession(rec storage.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetSessionCalls++
	if err := m.popError("SetSession"); err != nil {
		return err
	}
	m.session = &rec
	return nil
}

// --- Deny list --------------------------------------------------------------

func (m *MockStore) DenyList() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("DenyList"); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m.deny))
	for d := range m.deny {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockStore) AddDenied(domain string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("AddDenied"); err != nil {
		return false, err
	}
	if _, ok := m.deny[domain]; ok {
		return false, nil
	}
	m.deny[domain] = storage.DenyEntry{AddedAt: time.Now().UTC(), Source: "local"}
	return true, nil
}

func (m *MockStore) RemoveDenied(domain string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("RemoveDenied"); err != nil {
		return false, err
	}
	if _, ok := m.deny[domain]; !ok {
		return false, nil
	}
	delete(m.deny, domain)
	return true, nil
}

func (m *MockStore) MergeRemoteDenied(remote []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("MergeRemoteDenied"); err != nil {
		return 0, err
	}
	added := 0
	for _, d := range remote {
		if d == "" {
			continue
		}
		if _, ok := m.deny[d]; ok {
			continue
		}
		m.deny[d] = storage.DenyEntry{AddedAt: time.Now().UTC(), Source: "remote"}
		added++
	}
	return added, nil
}

// --- Time buckets -----------------------------------------------------------

func (m *MockStore) AddTime(day, domain string, ms int64, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddTimeCalls++
	if err := m.popError("AddTime"); err != nil {
		return err
	}
	key := day + "|" + domain
	entry := m.buckets[key]
	entry.Ms += ms
	entry.Category = category
	m.buckets[key] = entry
	return nil
}

func (m *MockStore) DayBuckets(day string) (map[string]storage.TimeBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("DayBuckets"); err != nil {
		return nil, err
	}
	out := make(map[string]storage.TimeBucket)
	prefix := day + "|"
	for k, v := range m.buckets {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out, nil
}

// --- Category map -----------------------------------------------------------

func (m *MockStore) CategoryMap() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("CategoryMap"); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m.catmap))
	for k, v := range m.catmap {
		out[k] = v
	}
	return out, nil
}

func (m *MockStore) SetCategoryMap(mm map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SetCategoryMap"); err != nil {
		return err
	}
	m.catmap = make(map[string]string, len(mm))
	for k, v := range mm {
		m.catmap[k] = v
	}
	return nil
}

// --- Heartbeat --------------------------------------------------------------

func (m *MockStore) Heartbeat(at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HeartbeatCalls++
	if err := m.popError("Heartbeat"); err != nil {
		return err
	}
	m.lastBeat = at
	return nil
}

func (m *MockStore) LastHeartbeat() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("LastHeartbeat"); err != nil {
		return time.Time{}, err
	}
	return m.lastBeat, nil
}

// --- Utility ----------------------------------------------------------------

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockStore) Close() error {
	return nil
}
