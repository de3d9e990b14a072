package testutil

import (
	"context"
	"sync"

	"github.com/focusgate/focusgate/internal/rules"
)

// MockEngine implements rules.Engine, recording every Replace call.
type MockEngine struct {
	mu        sync.Mutex
	Calls     int
	LastStart int
	LastEnd   int
	Installed []rules.Rule
	Err       error
}

// NewMockEngine returns an empty MockEngine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (e *MockEngine) Replace(_ context.Context, idStart, idEnd int, rr []rules.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls++
	e.LastStart = idStart
	e.LastEnd = idEnd
	if e.Err != nil {
		return e.Err
	}
	e.Installed = append([]rules.Rule(nil), rr...)
	return nil
}

// InstalledDomains returns the domains of the currently installed rule set.
func (e *MockEngine) InstalledDomains() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.Installed))
	for i, r := range e.Installed {
		out[i] = r.Domain
	}
	return out
}

// SetError makes subsequent Replace calls fail with err (nil clears).
func (e *MockEngine) SetError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}
