package category

import (
	"strings"
)

// Uncategorized is the terminal fallback category.
const Uncategorized = "uncategorized"

// Stage identifies which pipeline stage produced a resolution.
type Stage string

const (
	StageExact   Stage = "exact"
	StageSuffix  Stage = "suffix"
	StageKeyword Stage = "keyword"
	StageDefault Stage = "default"
)

// keywordGroups maps name fragments to a category. Checked in order after
// the map lookups fail; first fragment match wins.
var keywordGroups = []struct {
	category  string
	fragments []string
}{
	{"distraction", []string{
		"facebook", "instagram", "tiktok", "twitter", "reddit",
		"youtube", "twitch", "netflix", "9gag", "game",
	}},
	{"education", []string{
		"coursera", "udemy", "khanacademy", "edx", "wiki",
		"learn", "course", "academy",
	}},
	{"development", []string{
		"github", "gitlab", "stackoverflow", "localhost", "docs",
		"developer", "golang", "api",
	}},
}

// Resolver maps a destination name to a category given a loaded mapping
// table. It is pure: the table is a snapshot, never consulted remotely.
type Resolver struct {
	table map[string]string
}

// NewResolver wraps a category table snapshot. The table is read-only to
// the resolver; pass a fresh one after each remote refresh.
func NewResolver(table map[string]string) *Resolver {
	if table == nil {
		table = map[string]string{}
	}
	return &Resolver{table: table}
}

// Resolve runs the ordered resolution pipeline:
// exact match → longest-suffix parent-domain match → keyword heuristic →
// Uncategorized.
func (r *Resolver) Resolve(domain string) string {
	cat, _ := r.ResolveStage(domain)
	return cat
}

// ResolveStage is Resolve plus the stage that matched, so each stage is
// independently observable in tests and logs.
func (r *Resolver) ResolveStage(domain string) (string, Stage) {
	domain = Normalize(domain)
	if domain == "" {
		return Uncategorized, StageDefault
	}

	// Stage 1: exact match
	if cat, ok := r.table[domain]; ok {
		return cat, StageExact
	}

	// Stage 2: longest-suffix parent-domain match. Walk label boundaries
	// left to right so the first hit is the longest matching suffix:
	// deep.sub.example.com → sub.example.com → example.com.
	rest := domain
	for {
		idx := strings.IndexByte(rest, '.')
		if idx < 0 {
			break
		}
		rest = rest[idx+1:]
		if cat, ok := r.table[rest]; ok {
			return cat, StageSuffix
		}
	}

	// Stage 3: keyword heuristic
	for _, group := range keywordGroups {
		for _, frag := range group.fragments {
			if strings.Contains(domain, frag) {
				return group.category, StageKeyword
			}
		}
	}

	// Stage 4: default
	return Uncategorized, StageDefault
}

// Normalize lowercases a destination name and strips scheme, path, port,
// and a leading www label, reducing it to a bare hostname.
func Normalize(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	if idx := strings.IndexAny(s, "/?#"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.Trim(s, ".")
}
