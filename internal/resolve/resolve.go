// Package resolve merges pattern-detector spans and semantic-recognizer
// spans into one conflict-free, prioritized span set.
//
// The resolver runs two passes. Pass one collects both sources. Pass two
// rescans the whole canonical text for every literal the recognizer found,
// compensating for the recognizer's chunk-local blindness: a name spotted in
// one chunk recurs with the same label everywhere. The rescan is a heuristic
// (short literals can false-positive), so it can be switched off.
package resolve

import (
	"sort"
	"strings"

	"github.com/inkveil/inkveil/internal/schema"
)

// Resolver holds resolution options.
type Resolver struct {
	// RescanLiterals enables the global literal rescan pass.
	RescanLiterals bool
}

// New returns a Resolver with the rescan pass enabled.
func New() Resolver {
	return Resolver{RescanLiterals: true}
}

type key struct{ start, end int }

// Resolve combines mandatory (pattern) spans and semantic (recognizer)
// spans over the canonical text, returning the full resolved list sorted by
// start. Mandatory spans win exact-coincidence conflicts. The result may
// still contain partial overlaps; Merge collapses those.
func (r Resolver) Resolve(text string, mandatory, semantic []schema.Span) []schema.Span {
	final := make(map[key]schema.Span, len(mandatory)+len(semantic))
	for _, sp := range mandatory {
		final[key{sp.Start, sp.End}] = sp
	}

	original := make(map[key]schema.Span, len(semantic))
	for _, sp := range semantic {
		original[key{sp.Start, sp.End}] = sp
	}

	if r.RescanLiterals {
		r.rescan(text, semantic, original, final)
	}

	// Semantic spans not already placed (or displaced) by the rescan.
	for k, sp := range original {
		if _, taken := final[k]; !taken {
			final[k] = sp
		}
	}

	out := make([]schema.Span, 0, len(final))
	for _, sp := range final {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

// rescan adds a candidate span at every case-insensitive occurrence of each
// distinct semantic literal. First label wins when the same literal was
// tagged differently across chunks. Candidates exactly coincident with an
// already-claimed span are dropped (mandatory wins).
func (r Resolver) rescan(text string, semantic []schema.Span, original, final map[key]schema.Span) {
	type literal struct {
		text  string
		label string
	}
	var literals []literal
	seen := make(map[string]bool, len(semantic))
	for _, sp := range semantic {
		if sp.Text == "" || seen[sp.Text] {
			continue
		}
		seen[sp.Text] = true
		literals = append(literals, literal{sp.Text, sp.Label})
	}

	runes := []rune(text)
	lower := []rune(strings.ToLower(text))

	for _, lit := range literals {
		needle := []rune(strings.ToLower(lit.text))
		if len(needle) == 0 || len(needle) > len(lower) {
			continue
		}
		for i := 0; i+len(needle) <= len(lower); i++ {
			if !runesEqual(lower[i:i+len(needle)], needle) {
				continue
			}
			k := key{i, i + len(needle)}
			if _, taken := final[k]; taken {
				continue
			}
			if sp, ok := original[k]; ok {
				final[k] = sp
				continue
			}
			final[k] = schema.Span{
				Label:  lit.label,
				Start:  k.start,
				End:    k.end,
				Text:   string(runes[k.start:k.end]),
				Method: schema.MethodGlobalScan,
			}
		}
	}
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Merge collapses strictly overlapping spans into their union, producing the
// final non-overlapping set the redactor consumes. Adjacent spans stay
// separate so a name touching an ID keeps its own masking policy. When a
// numeric/mandatory label takes part in a merge it dominates the result.
func Merge(spans []schema.Span) []schema.Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]schema.Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := []schema.Span{sorted[0]}
	for _, sp := range sorted[1:] {
		last := &merged[len(merged)-1]
		if sp.Start >= last.End {
			merged = append(merged, sp)
			continue
		}
		if sp.End > last.End {
			last.End = sp.End
		}
		if schema.IsMandatory(sp.Label) && !schema.IsMandatory(last.Label) {
			last.Label = sp.Label
		}
	}
	return merged
}
