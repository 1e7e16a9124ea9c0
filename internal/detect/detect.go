// Package detect scans canonical text for fixed-format numeric identifiers
// (national ID, credit codes, phone numbers, cards, plates and the like).
//
// Detection runs in strict priority order. Once a higher-priority category
// claims an interval, any lower-priority candidate fully contained in it is
// discarded. Partial overlaps are not filtered here; the resolver's merge
// pass handles them.
package detect

import (
	"regexp"
	"unicode/utf8"

	"github.com/inkveil/inkveil/internal/schema"
)

// boundary classes: a match may not be immediately adjacent to a rune of its
// class. Go's regexp has no lookaround, so the check is explicit.
func isASCIIAlnum(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}

func isUpperAlnum(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'A' && r <= 'Z'
}

const plateProvinces = "[京津沪渝冀豫云辽黑湘皖鲁新苏浙赣鄂桂甘晋蒙陕吉闽贵粤青藏川宁琼]"

type pattern struct {
	label    string
	re       *regexp.Regexp
	boundary func(rune) bool
	validate func(string) bool
}

// Patterns in detection priority order. Bank card goes last: its 13-19 digit
// run swallows every more specific numeric format if it gets to claim first.
var patterns = []pattern{
	{
		label:    schema.LabelNationalID,
		re:       regexp.MustCompile(`[1-9]\d{5}(?:19|20)\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])\d{3}[0-9Xx]`),
		boundary: isASCIIAlnum,
	},
	{
		label:    schema.LabelCreditCode,
		re:       regexp.MustCompile(`[1-9ANY][1-59]\d{6}[0-9ABCDEFGHJKLMNPQRSTUWXY]{10}`),
		boundary: isUpperAlnum,
	},
	{
		label:    schema.LabelMobilePhone,
		re:       regexp.MustCompile(`(?:\+86|86)?\s?1[3-9]\d{9}`),
		boundary: isASCIIAlnum,
	},
	{
		label:    schema.LabelLandline,
		re:       regexp.MustCompile(`(?:0\d{2,3}-)?\d{7,8}`),
		boundary: isASCIIAlnum,
	},
	{
		label:    schema.LabelPassport,
		re:       regexp.MustCompile(`[DEGSP]\d{7,8}`),
		boundary: isUpperAlnum,
	},
	{
		label:    schema.LabelEntryPermit,
		re:       regexp.MustCompile(`[CWHM]\d{8}`),
		boundary: isUpperAlnum,
	},
	{
		label:    schema.LabelPlateNumber,
		re:       regexp.MustCompile(plateProvinces + `[A-Z][\s-]?[A-Z0-9]{5,6}|粤Z[\s-]?[A-Z0-9]{4}[港澳]`),
		boundary: isUpperAlnum,
	},
	{
		label:    schema.LabelBankCard,
		re:       regexp.MustCompile(`(?:\d[ -]?){13,19}`),
		boundary: isASCIIAlnum,
		validate: validBankCard,
	},
}

// validBankCard counts digits after stripping separators; a card number has
// 13 to 19 of them.
func validBankCard(match string) bool {
	n := 0
	for _, r := range match {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n >= 13 && n <= 19
}

type interval struct{ start, end int }

func containedIn(claimed []interval, start, end int) bool {
	for _, c := range claimed {
		if c.start <= start && end <= c.end {
			return true
		}
	}
	return false
}

// Scan returns spans for the requested mandatory categories, in detection
// order. It is pure: same text and labels, same spans.
func Scan(text string, labels []string) []schema.Span {
	if text == "" || len(labels) == 0 {
		return nil
	}

	requested := make(map[string]bool, len(labels))
	for _, l := range labels {
		requested[l] = true
	}

	runeAt := runeOffsets(text)

	var spans []schema.Span
	var claimed []interval
	for _, p := range patterns {
		if !requested[p.label] {
			continue
		}
		// Manual scan instead of FindAllStringIndex: when a match fails its
		// boundary check, rescanning one rune past the rejected start keeps
		// the semantics of a lookbehind, which would have retried there.
		pos := 0
		for pos <= len(text) {
			loc := p.re.FindStringIndex(text[pos:])
			if loc == nil {
				break
			}
			s, e := pos+loc[0], pos+loc[1]
			match := text[s:e]
			if !clearBoundary(text, s, e, p.boundary) || (p.validate != nil && !p.validate(match)) {
				_, size := utf8.DecodeRuneInString(text[s:])
				pos = s + size
				continue
			}
			start, end := runeAt[s], runeAt[e]
			if !containedIn(claimed, start, end) {
				spans = append(spans, schema.Span{
					Label:  p.label,
					Start:  start,
					End:    end,
					Text:   match,
					Method: schema.MethodRegex,
				})
				claimed = append(claimed, interval{start, end})
			}
			pos = e
		}
	}
	return spans
}

// clearBoundary reports whether the byte range [start, end) is not glued to
// an adjacent rune of the pattern's boundary class.
func clearBoundary(text string, start, end int, class func(rune) bool) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if class(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if class(r) {
			return false
		}
	}
	return true
}

// runeOffsets maps each rune-start byte offset (and len(text)) to its rune
// offset, so regexp byte positions convert to canonical rune positions.
func runeOffsets(text string) map[int]int {
	m := make(map[int]int, len(text)+1)
	n := 0
	for i := range text {
		m[i] = n
		n++
	}
	m[len(text)] = n
	return m
}
