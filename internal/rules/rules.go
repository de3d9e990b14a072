// Package rules synthesizes the destination-blocking rule set from a deny
// list and installs it into the host rule engine as one atomic replace.
package rules

import (
	"context"
	"sort"
	"time"

	"github.com/focusgate/focusgate/internal/category"
	"github.com/focusgate/focusgate/internal/metrics"
	"github.com/rs/zerolog"
)

// Rule is one destination-blocking rule: requests to Domain are redirected
// to RedirectURL. Rule shape is fixed; there is no general rules DSL.
type Rule struct {
	ID          int    `json:"id"`
	Domain      string `json:"domain"`
	RedirectURL string `json:"redirect_url"`
}

// Engine is the host subsystem that enforces a declarative rule set.
// Replace atomically removes every managed rule with an ID in
// [idStart, idStart+cap) and installs the given set; no intermediate state
// where some but not all rules are installed is ever observable.
type Engine interface {
	Replace(ctx context.Context, idStart, idEnd int, rules []Rule) error
}

// SynthConfig holds synthesizer parameters.
type SynthConfig struct {
	// IDStart is the first rule ID in the managed range.
	IDStart int
	// Cap is the maximum rule count. Deny entries beyond the cap are
	// silently dropped in sorted order; the drop is counted, never an error.
	Cap int
	// RedirectURL is the target every rule redirects to.
	RedirectURL string
}

// Synthesizer converts a deny-list snapshot into a rule set and installs it.
type Synthesizer struct {
	cfg    SynthConfig
	engine Engine
	log    zerolog.Logger
}

// NewSynthesizer constructs a Synthesizer.
func NewSynthesizer(cfg SynthConfig, engine Engine, log zerolog.Logger) *Synthesizer {
	return &Synthesizer{cfg: cfg, engine: engine, log: log}
}

// Build produces the target rule list for a deny-list snapshot. The output
// is deterministic: normalized, deduplicated, sorted, one rule per
// destination, IDs assigned sequentially from IDStart, capped at Cap.
// Building twice from the same input yields an identical list.
func (s *Synthesizer) Build(deny []string) []Rule {
	seen := make(map[string]bool, len(deny))
	domains := make([]string, 0, len(deny))
	for _, raw := range deny {
		d := category.Normalize(raw)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}
	sort.Strings(domains)

	if len(domains) > s.cfg.Cap {
		dropped := len(domains) - s.cfg.Cap
		metrics.RulesDropped.Add(float64(dropped))
		s.log.Warn().Int("dropped", dropped).Int("cap", s.cfg.Cap).
			Msg("deny list exceeds rule cap, excess entries dropped")
		domains = domains[:s.cfg.Cap]
	}

	out := make([]Rule, len(domains))
	for i, d := range domains {
		out[i] = Rule{
			ID:          s.cfg.IDStart + i,
			Domain:      d,
			RedirectURL: s.cfg.RedirectURL,
		}
	}
	return out
}

// Install replaces the installed rule set with one synthesized from deny.
// Idempotent: an unchanged deny list produces an identical installed set.
func (s *Synthesizer) Install(ctx context.Context, deny []string) error {
	target := s.Build(deny)

	start := time.Now()
	err := s.engine.Replace(ctx, s.cfg.IDStart, s.cfg.IDStart+s.cfg.Cap, target)
	metrics.RuleInstallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RuleInstalls.WithLabelValues("error").Inc()
		return err
	}
	metrics.RuleInstalls.WithLabelValues("ok").Inc()
	metrics.InstalledRules.Set(float64(len(target)))
	s.log.Debug().Int("rules", len(target)).Msg("rule set installed")
	return nil
}

// Clear removes every managed rule. Used on transition to Off.
func (s *Synthesizer) Clear(ctx context.Context) error {
	return s.Install(ctx, nil)
}
