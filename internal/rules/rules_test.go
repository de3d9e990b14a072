package rules

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

// recordingEngine captures Replace calls for assertions.
type recordingEngine struct {
	calls   int
	idStart int
	idEnd   int
	last    []Rule
	err     error
}

func (e *recordingEngine) Replace(_ context.Context, idStart, idEnd int, rules []Rule) error {
	e.calls++
	e.idStart = idStart
	e.idEnd = idEnd
	e.last = rules
	return e.err
}

func newSynth(engine Engine) *Synthesizer {
	return NewSynthesizer(SynthConfig{
		IDStart:     20000,
		Cap:         5000,
		RedirectURL: "https://localhost/blocked",
	}, engine, zerolog.Nop())
}

func TestBuildDeterministic(t *testing.T) {
	s := newSynth(nil)
	deny := []string{"b.example.com", "a.example.com", "c.example.com"}

	first := s.Build(deny)
	second := s.Build(deny)
	if !reflect.DeepEqual(first, second) {
		t.Error("two builds from the same deny list must be identical")
	}

	// Stable sorted order regardless of input order
	shuffled := s.Build([]string{"c.example.com", "a.example.com", "b.example.com"})
	if !reflect.DeepEqual(first, shuffled) {
		t.Error("build must not depend on input order")
	}

	if first[0].Domain != "a.example.com" || first[0].ID != 20000 {
		t.Errorf("first rule = %+v, want a.example.com/20000", first[0])
	}
	if first[2].ID != 20002 {
		t.Errorf("IDs must be sequential, got %d", first[2].ID)
	}
}

func TestBuildNormalizesAndDedupes(t *testing.T) {
	s := newSynth(nil)
	got := s.Build([]string{
		"https://News.example.com/feed",
		"news.example.com",
		"www.news.example.com",
		"",
	})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (normalize + dedupe)", len(got))
	}
	if got[0].Domain != "news.example.com" {
		t.Errorf("Domain = %q, want news.example.com", got[0].Domain)
	}
}

func TestBuildCapDropsExcessSilently(t *testing.T) {
	s := NewSynthesizer(SynthConfig{IDStart: 100, Cap: 2, RedirectURL: "r"}, nil, zerolog.Nop())
	got := s.Build([]string{"c.com", "a.com", "b.com"})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (capped)", len(got))
	}
	// Drop is deterministic: sorted order, tail cut
	if got[0].Domain != "a.com" || got[1].Domain != "b.com" {
		t.Errorf("capped set = %v, want a.com,b.com", got)
	}
}

func TestInstallSingleReplaceCall(t *testing.T) {
	engine := &recordingEngine{}
	s := newSynth(engine)

	if err := s.Install(context.Background(), []string{"x.example.com"}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if engine.calls != 1 {
		t.Errorf("Replace calls = %d, want exactly 1", engine.calls)
	}
	if engine.idStart != 20000 || engine.idEnd != 25000 {
		t.Errorf("remove range = [%d,%d), want [20000,25000)", engine.idStart, engine.idEnd)
	}
	if len(engine.last) != 1 {
		t.Errorf("installed rules = %d, want 1", len(engine.last))
	}
}

func TestInstallIdempotent(t *testing.T) {
	engine := &recordingEngine{}
	s := newSynth(engine)
	deny := []string{"b.example.com", "a.example.com"}

	if err := s.Install(context.Background(), deny); err != nil {
		t.Fatalf("Install: %v", err)
	}
	first := append([]Rule(nil), engine.last...)

	if err := s.Install(context.Background(), deny); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !reflect.DeepEqual(first, engine.last) {
		t.Error("re-installing an unchanged deny list must produce an identical rule set")
	}
}

func TestClearInstallsEmptySet(t *testing.T) {
	engine := &recordingEngine{}
	s := newSynth(engine)

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if engine.calls != 1 || len(engine.last) != 0 {
		t.Errorf("Clear should issue one replace with zero rules, got calls=%d rules=%d",
			engine.calls, len(engine.last))
	}
}

func TestInstallPropagatesEngineError(t *testing.T) {
	engine := &recordingEngine{err: errors.New("engine down")}
	s := newSynth(engine)
	if err := s.Install(context.Background(), []string{"x.com"}); err == nil {
		t.Error("expected engine error to propagate")
	}
}

func TestHTTPEngineReplace(t *testing.T) {
	var got replaceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/rules" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	engine := NewHTTPEngine(EngineConfig{BaseURL: srv.URL, Timeout: 0}, zerolog.Nop())
	rules := []Rule{{ID: 20000, Domain: "x.com", RedirectURL: "r"}}
	if err := engine.Replace(context.Background(), 20000, 25000, rules); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got.RemoveIDStart != 20000 || got.RemoveIDEnd != 25000 {
		t.Errorf("range = [%d,%d), want [20000,25000)", got.RemoveIDStart, got.RemoveIDEnd)
	}
	if len(got.Add) != 1 || got.Add[0].Domain != "x.com" {
		t.Errorf("add = %+v", got.Add)
	}
}

func TestHTTPEngineReplaceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	engine := NewHTTPEngine(EngineConfig{BaseURL: srv.URL}, zerolog.Nop())
	if err := engine.Replace(context.Background(), 1, 2, nil); err == nil {
		t.Error("expected error on HTTP 500")
	}
}
