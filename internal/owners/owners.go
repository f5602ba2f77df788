// Package owners infers the probable responsible party for a failing test.
//
// Resolution is a two-tier strategy: explicit ownership rules (CODEOWNERS
// style path patterns) are consulted first and win with a fixed high
// confidence; when no rule matches, historical change attribution for the
// test's file supplies a fallback owner at a lower confidence scaled by how
// recently and how often that contributor touched the file. Both sources are
// optional external collaborators — absence of either (or both) yields "no
// owner determined", never an error.
package owners

import (
	"sort"
	"strings"
	"time"
)

// Source identifies which tier produced a resolution.
type Source string

// Resolution sources.
const (
	SourceRule    Source = "ownership_rule"
	SourceHistory Source = "change_attribution"
)

// Confidence bands. A direct rule hit is a fixed high confidence; a
// historical attribution lands in a lower band scaled by recency and
// frequency, capped below the rule band so an explicit rule always reads as
// the stronger signal.
const (
	ruleConfidence = 0.9

	historyBaseConfidence = 0.5
	historyMaxConfidence  = 0.85

	frequencyWeight = 0.2
	recencyWeight   = 0.15

	// frequencySaturation is the commit count at which the frequency bonus
	// maxes out.
	frequencySaturation = 10
)

type (
	// Rule maps a path pattern to an owner. Patterns are path prefixes; a
	// trailing "*" is permitted and ignored (prefix semantics already cover
	// it). The longest matching pattern wins.
	Rule struct {
		Pattern string
		Owner   string
	}

	// Attribution is one contributor's recorded history for a file, as
	// reported by the historical-attribution collaborator.
	Attribution struct {
		Author     string
		Commits    int
		LastCommit time.Time
	}

	// AttributionSource supplies historical change attribution for a file
	// path. Implementations typically wrap a VCS query made by the caller;
	// this package never performs I/O itself.
	AttributionSource interface {
		Attribute(path string) (Attribution, bool)
	}

	// Resolution is a resolved owner with its confidence and provenance.
	Resolution struct {
		Owner      string
		Confidence float64
		Source     Source
	}

	// Resolver resolves test ids to owners. Immutable after construction;
	// safe for concurrent use.
	Resolver struct {
		rules   []Rule
		history AttributionSource
		now     func() time.Time
	}

	// Option configures optional Resolver behavior.
	Option func(*Resolver)
)

// WithAttributionSource sets the historical-attribution fallback. If not
// set, resolution relies on rules alone.
func WithAttributionSource(src AttributionSource) Option {
	return func(r *Resolver) {
		r.history = src
	}
}

// withClock overrides the clock for recency scoring in tests.
func withClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver over the given ownership rules. Rules are
// sorted longest-pattern-first at construction so lookup can stop at the
// first match. A nil or empty rule set is valid.
func NewResolver(rules []Rule, opts ...Option) *Resolver {
	sorted := make([]Rule, 0, len(rules))

	for _, r := range rules {
		r.Pattern = normalizePattern(r.Pattern)
		if r.Pattern == "" || r.Owner == "" {
			continue
		}

		sorted = append(sorted, r)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Pattern) > len(sorted[j].Pattern)
	})

	resolver := &Resolver{rules: sorted, now: time.Now}

	for _, opt := range opts {
		opt(resolver)
	}

	return resolver
}

// RuleCount returns the number of usable ownership rules.
func (r *Resolver) RuleCount() int {
	return len(r.rules)
}

// Resolve maps a test id to a probable owner.
//
// The file path is the portion of the test id before the first "::". Rules
// are tried first (longest pattern wins, fixed high confidence); historical
// attribution is the fallback. Returns false when neither source produces an
// owner.
func (r *Resolver) Resolve(testID string) (Resolution, bool) {
	path := TestFilePath(testID)
	if path == "" {
		return Resolution{}, false
	}

	// Rules are longest-first, so the first hit is the longest match.
	for _, rule := range r.rules {
		if strings.HasPrefix(path, rule.Pattern) || strings.Contains(path, rule.Pattern) {
			return Resolution{
				Owner:      rule.Owner,
				Confidence: ruleConfidence,
				Source:     SourceRule,
			}, true
		}
	}

	if r.history == nil {
		return Resolution{}, false
	}

	attribution, ok := r.history.Attribute(path)
	if !ok || attribution.Author == "" {
		return Resolution{}, false
	}

	return Resolution{
		Owner:      attribution.Author,
		Confidence: r.historyConfidence(attribution),
		Source:     SourceHistory,
	}, true
}

// historyConfidence scores an attribution inside the fallback band:
// base 0.5, plus up to 0.2 for commit frequency and up to 0.15 for recency,
// capped at 0.85.
func (r *Resolver) historyConfidence(a Attribution) float64 {
	confidence := historyBaseConfidence

	commits := a.Commits
	if commits > frequencySaturation {
		commits = frequencySaturation
	}

	if commits > 0 {
		confidence += frequencyWeight * float64(commits) / float64(frequencySaturation)
	}

	if !a.LastCommit.IsZero() {
		age := r.now().Sub(a.LastCommit)

		switch {
		case age <= 30*24*time.Hour:
			confidence += recencyWeight
		case age <= 180*24*time.Hour:
			confidence += recencyWeight / 2
		}
	}

	if confidence > historyMaxConfidence {
		confidence = historyMaxConfidence
	}

	return confidence
}

// TestFilePath extracts the file path component of a pytest-style test id.
// Returns the input unchanged when it carries no "::" separator.
func TestFilePath(testID string) string {
	path, _, _ := strings.Cut(testID, "::")

	return strings.TrimSpace(path)
}

// normalizePattern strips leading slashes and trailing wildcards so patterns
// compare as plain path prefixes.
func normalizePattern(pattern string) string {
	pattern = strings.TrimSpace(pattern)
	pattern = strings.TrimPrefix(pattern, "/")
	pattern = strings.TrimSuffix(pattern, "*")

	return pattern
}
