package triage

import "sort"

type (
	// SuggestedPattern is a candidate addition to .ciwatch.yaml derived from
	// untriaged failures that share a normalized fingerprint.
	SuggestedPattern struct {
		// Fingerprint is the shared normalized signature.
		Fingerprint string

		// ResolvesCount is the number of untriaged failures this entry
		// would cover.
		ResolvesCount int

		// Failures lists the identities this pattern would resolve.
		Failures []string
	}
)

// SuggestPatterns groups failures that fell through to NEW_REGRESSION or
// NEEDS_HUMAN_TRIAGE by fingerprint and suggests the recurring signatures as
// candidate patterns, most impactful first.
//
// A signature seen once is not suggested; a pattern that resolves a single
// failure adds configuration without reducing triage work.
func SuggestPatterns(failures []*DeduplicatedFailure) []SuggestedPattern {
	if len(failures) == 0 {
		return nil
	}

	groups := make(map[string][]string)

	for _, failure := range failures {
		switch failure.Category() {
		case CategoryNewRegression, CategoryNeedsHumanTriage:
		default:
			continue
		}

		if failure.Fingerprint == "" {
			continue
		}

		groups[failure.Fingerprint] = append(groups[failure.Fingerprint], failure.Identity)
	}

	patterns := make([]SuggestedPattern, 0, len(groups))

	for fp, identities := range groups {
		if len(identities) < 2 {
			continue
		}

		patterns = append(patterns, SuggestedPattern{
			Fingerprint:   fp,
			ResolvesCount: len(identities),
			Failures:      identities,
		})
	}

	// Sort by ResolvesCount descending, fingerprint as tie-break for
	// deterministic output.
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].ResolvesCount != patterns[j].ResolvesCount {
			return patterns[i].ResolvesCount > patterns[j].ResolvesCount
		}

		return patterns[i].Fingerprint < patterns[j].Fingerprint
	})

	return patterns
}
