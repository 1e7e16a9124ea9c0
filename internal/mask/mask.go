// Package mask turns a resolved span set into masked text. Masking never
// changes text length: policies overwrite selected runes with '*' and leave
// separators alone, so downstream edit extraction can diff position by
// position.
package mask

import (
	"unicode"

	"github.com/inkveil/inkveil/internal/schema"
)

const maskRune = '*'

// Apply masks every span of the final span set in the canonical text.
// Spans must be sorted by start and pairwise non-overlapping (the resolver's
// Merge guarantees both). The output has exactly the input's rune length.
func Apply(text string, spans []schema.Span) string {
	if len(spans) == 0 {
		return text
	}
	runes := []rune(text)
	for _, sp := range spans {
		if sp.Start < 0 || sp.End > len(runes) || sp.Start >= sp.End {
			continue
		}
		segment := runes[sp.Start:sp.End]
		maskSegment(segment, sp.Label)
	}
	return string(runes)
}

// maskSegment applies the category policy in place. Positions are local to
// the segment.
func maskSegment(seg []rune, label string) {
	switch label {
	case schema.LabelNationalID:
		// hide the trailing six digit/check characters
		idx := positions(seg, isIDChar)
		if len(idx) > 6 {
			idx = idx[len(idx)-6:]
		}
		maskAt(seg, idx)

	case schema.LabelMobilePhone:
		// hide four digits: the 4th-7th of a bare 11-digit number, or the
		// same block counted from the end when a country prefix is present
		idx := positions(seg, unicode.IsDigit)
		if len(idx) >= 11 {
			start := 3
			if len(idx) != 11 {
				start = len(idx) - 8
			}
			maskAt(seg, idx[start:start+4])
		}

	case schema.LabelLandline:
		// four digits centered on the digit-sequence midpoint
		idx := positions(seg, unicode.IsDigit)
		mid := len(idx) / 2
		lo := mid - 2
		if lo < 0 {
			lo = 0
		}
		hi := mid + 2
		if hi > len(idx) {
			hi = len(idx)
		}
		maskAt(seg, idx[lo:hi])

	case schema.LabelPersonName:
		if len(seg) > 0 {
			seg[0] = maskRune
		}

	case schema.LabelBankCard, schema.LabelCreditCode:
		// keep the last four alphanumeric characters
		idx := positions(seg, isAlnum)
		if len(idx) > 4 {
			idx = idx[:len(idx)-4]
		}
		maskAt(seg, idx)

	case schema.LabelPassport:
		// keep first and last, mask the interior
		if len(seg) > 2 {
			for i := 1; i < len(seg)-1; i++ {
				seg[i] = maskRune
			}
		}

	case schema.LabelEntryPermit:
		if len(seg) >= 9 {
			for i := 2; i < 6; i++ {
				seg[i] = maskRune
			}
		}

	case schema.LabelPlateNumber:
		// mask interior alphanumerics, keep the tail character
		if len(seg) >= 7 {
			for i := 2; i < len(seg)-1; i++ {
				if isAlnum(seg[i]) {
					seg[i] = maskRune
				}
			}
		}

	default:
		// addresses, organizations, emails, caller-supplied tags: full mask
		for i := range seg {
			seg[i] = maskRune
		}
	}
}

func isIDChar(r rune) bool {
	return unicode.IsDigit(r) || r == 'x' || r == 'X'
}

func isAlnum(r rune) bool {
	return unicode.IsDigit(r) || unicode.IsLetter(r)
}

func positions(seg []rune, match func(rune) bool) []int {
	var idx []int
	for i, r := range seg {
		if match(r) {
			idx = append(idx, i)
		}
	}
	return idx
}

func maskAt(seg []rune, idx []int) {
	for _, i := range idx {
		seg[i] = maskRune
	}
}
