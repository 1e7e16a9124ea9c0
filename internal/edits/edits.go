// Package edits diffs original against masked text into a minimal, sorted,
// non-overlapping edit list for the document patcher.
package edits

import (
	"errors"
	"fmt"
	"sort"

	"github.com/inkveil/inkveil/internal/schema"
)

// Edit replaces the canonical-text rune range [Start, End) with Replacement.
type Edit struct {
	Start       int
	End         int
	Replacement string
}

// ErrOverlap reports overlapping edits, which the extractor never produces
// for length-preserving masking; seeing one means an upstream bug rather
// than a condition to paper over.
var ErrOverlap = errors.New("edits: overlapping edits")

// Extract diffs original and masked text. When both have the same rune
// length (the normal case, masking is length-preserving) it groups maximal
// runs of differing positions. Otherwise it falls back to deriving edits
// from the span set, comparing each span's segment at the same offsets.
func Extract(original, masked string, spans []schema.Span) ([]Edit, error) {
	origRunes := []rune(original)
	maskRunes := []rune(masked)

	var out []Edit
	if len(origRunes) == len(maskRunes) {
		i := 0
		for i < len(origRunes) {
			if origRunes[i] == maskRunes[i] {
				i++
				continue
			}
			start := i
			for i < len(origRunes) && origRunes[i] != maskRunes[i] {
				i++
			}
			out = append(out, Edit{Start: start, End: i, Replacement: string(maskRunes[start:i])})
		}
		return merge(out)
	}

	// Guarded fallback: lengths differ, use the known spans.
	for _, sp := range spans {
		if sp.Start < 0 || sp.Start >= len(maskRunes) || sp.Start >= sp.End {
			continue
		}
		end := sp.End
		if end > len(maskRunes) {
			end = len(maskRunes)
		}
		origEnd := sp.End
		if origEnd > len(origRunes) {
			origEnd = len(origRunes)
		}
		maskedSeg := string(maskRunes[sp.Start:end])
		if maskedSeg == string(origRunes[sp.Start:origEnd]) {
			continue
		}
		out = append(out, Edit{Start: sp.Start, End: sp.End, Replacement: maskedSeg})
	}
	return merge(out)
}

// merge sorts edits and coalesces adjacent ones. Strictly overlapping edits
// are an internal error.
func merge(in []Edit) ([]Edit, error) {
	if len(in) == 0 {
		return nil, nil
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start < in[j].Start })

	out := []Edit{in[0]}
	for _, e := range in[1:] {
		last := &out[len(out)-1]
		switch {
		case e.Start > last.End:
			out = append(out, e)
		case e.Start == last.End:
			last.End = e.End
			last.Replacement += e.Replacement
		default:
			return nil, fmt.Errorf("%w: [%d,%d) and [%d,%d)", ErrOverlap, last.Start, last.End, e.Start, e.End)
		}
	}
	return out, nil
}
