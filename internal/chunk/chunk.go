// Package chunk splits long canonical text into bounded pieces along
// sentence-ending boundaries so the semantic recognizer never sees an entity
// cut mid-span.
package chunk

// DefaultMaxLen bounds chunk length in runes when the request does not
// override it.
const DefaultMaxLen = 300

// DefaultDelimiters are the sentence-ending runes chunks break after.
var DefaultDelimiters = []rune{'\n', '。', '！', '？', '；'}

// Chunk is a piece of the canonical text together with its starting rune
// offset, so per-chunk recognizer spans can be shifted back.
type Chunk struct {
	Text   string
	Offset int
}

// Splitter carries chunking configuration.
type Splitter struct {
	MaxLen     int
	Delimiters []rune
}

// NewSplitter returns a Splitter with defaults applied.
func NewSplitter(maxLen int) Splitter {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return Splitter{MaxLen: maxLen, Delimiters: DefaultDelimiters}
}

// Split breaks text into chunks of at most MaxLen runes, cutting only after
// delimiter runes. A single sentence longer than MaxLen stays whole; packing
// never splits inside a sentence. The concatenation of all chunk texts is
// exactly the input, and offsets are rune positions into it.
func (s Splitter) Split(text string) []Chunk {
	if text == "" {
		return nil
	}
	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	delims := s.Delimiters
	if len(delims) == 0 {
		delims = DefaultDelimiters
	}
	isDelim := make(map[rune]bool, len(delims))
	for _, d := range delims {
		isDelim[d] = true
	}

	runes := []rune(text)

	// Sentence boundaries: each sentence ends just after a delimiter, the
	// last one at end of text.
	var sentences [][2]int // [start, end) in runes
	start := 0
	for i, r := range runes {
		if isDelim[r] {
			sentences = append(sentences, [2]int{start, i + 1})
			start = i + 1
		}
	}
	if start < len(runes) {
		sentences = append(sentences, [2]int{start, len(runes)})
	}

	var chunks []Chunk
	curStart, curEnd := -1, -1
	flush := func() {
		if curStart >= 0 && curEnd > curStart {
			chunks = append(chunks, Chunk{Text: string(runes[curStart:curEnd]), Offset: curStart})
		}
		curStart, curEnd = -1, -1
	}
	for _, sent := range sentences {
		if curStart >= 0 && (curEnd-curStart)+(sent[1]-sent[0]) > maxLen {
			flush()
		}
		if curStart < 0 {
			curStart = sent[0]
		}
		curEnd = sent[1]
	}
	flush()
	return chunks
}
