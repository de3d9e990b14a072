package testutil

import (
	"context"
	"sync"

	"github.com/focusgate/focusgate/internal/remote"
)

// MockRemote implements remote.Client with canned responses.
type MockRemote struct {
	mu sync.Mutex

	CategoriesResp []remote.CategoryEntry
	BlockedResp    []string

	CategoriesErr error
	BlockedErr    error
	MutateErr     error

	AddedDomains   []string
	RemovedDomains []string
	PingErr        error
}

// NewMockRemote returns an empty MockRemote.
func NewMockRemote() *MockRemote {
	return &MockRemote{}
}

func (m *MockRemote) Categories(_ context.Context) ([]remote.CategoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CategoriesErr != nil {
		return nil, m.CategoriesErr
	}
	return append([]remote.CategoryEntry(nil), m.CategoriesResp...), nil
}

func (m *MockRemote) Blocked(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BlockedErr != nil {
		return nil, m.BlockedErr
	}
	return append([]string(nil), m.BlockedResp...), nil
}

func (m *MockRemote) AddBlocked(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MutateErr != nil {
		return m.MutateErr
	}
	m.AddedDomains = append(m.AddedDomains, domain)
	return nil
}

func (m *MockRemote) RemoveBlocked(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MutateErr != nil {
		return m.MutateErr
	}
	m.RemovedDomains = append(m.RemovedDomains, domain)
	return nil
}

func (m *MockRemote) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

// Added returns a copy of the domains propagated via AddBlocked.
func (m *MockRemote) Added() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.AddedDomains...)
}

// Removed returns a copy of the domains propagated via RemoveBlocked.
func (m *MockRemote) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.RemovedDomains...)
}
