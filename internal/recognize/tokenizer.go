package recognize

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// TokenOffset maps a model token back to a byte range in the source text.
// Special and padding tokens carry {-1, -1}.
type TokenOffset struct {
	Start int
	End   int
}

// WordPieceTokenizer is a minimal BERT-compatible tokenizer that tracks
// byte offsets, which token-classification decoding needs to place entities.
type WordPieceTokenizer struct {
	vocab        map[string]int64
	lowerCase    bool
	clsID        int64
	sepID        int64
	padID        int64
	unkID        int64
	continuation string
}

// LoadWordPieceTokenizer builds the tokenizer from a vocab.txt file, one
// token per line, line number = token ID.
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		vocab[token] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}

	return &WordPieceTokenizer{
		vocab:        vocab,
		lowerCase:    true,
		continuation: "##",
		clsID:        vocab["[CLS]"],
		sepID:        vocab["[SEP]"],
		padID:        vocab["[PAD]"],
		unkID:        vocab["[UNK]"],
	}, nil
}

// EncodeWithOffsets converts text into token IDs, an attention mask, and a
// per-token byte offset mapping, all of length seqLen.
func (t *WordPieceTokenizer) EncodeWithOffsets(text string, seqLen int) ([]int64, []int64, []TokenOffset) {
	if seqLen <= 0 {
		return nil, nil, nil
	}

	words := splitWords(text)
	tokens := []int64{t.clsID}
	offsets := []TokenOffset{{-1, -1}}

	for _, w := range words {
		token := w.text
		if t.lowerCase {
			token = strings.ToLower(token)
		}
		for _, p := range t.wordPiece(token) {
			tokens = append(tokens, p.id)
			offsets = append(offsets, TokenOffset{w.start + p.start, w.start + p.end})
			if len(tokens) >= seqLen-1 {
				break
			}
		}
		if len(tokens) >= seqLen-1 {
			break
		}
	}

	tokens = append(tokens, t.sepID)
	offsets = append(offsets, TokenOffset{-1, -1})

	attn := make([]int64, seqLen)
	for i := 0; i < len(tokens) && i < seqLen; i++ {
		attn[i] = 1
	}
	for len(tokens) < seqLen {
		tokens = append(tokens, t.padID)
		offsets = append(offsets, TokenOffset{-1, -1})
	}
	return tokens[:seqLen], attn, offsets[:seqLen]
}

type piece struct {
	id         int64
	start, end int
}

func (t *WordPieceTokenizer) wordPiece(token string) []piece {
	if id, ok := t.vocab[token]; ok {
		return []piece{{id, 0, len(token)}}
	}

	var pieces []piece
	start := 0
	for start < len(token) {
		end := len(token)
		matched := false
		for end > start {
			sub := token[start:end]
			if start > 0 {
				sub = t.continuation + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, piece{id, start, end})
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []piece{{t.unkID, 0, len(token)}}
		}
	}
	if len(pieces) == 0 {
		return []piece{{t.unkID, 0, len(token)}}
	}
	return pieces
}

type wordSpan struct {
	text       string
	start, end int
}

// splitWords pre-tokenizes on whitespace and treats each CJK rune as its own
// word, the way BERT Chinese vocabularies expect.
func splitWords(text string) []wordSpan {
	var spans []wordSpan
	start := -1
	flush := func(end int) {
		if start >= 0 {
			spans = append(spans, wordSpan{text[start:end], start, end})
			start = -1
		}
	}
	for idx, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(idx)
		case unicode.Is(unicode.Han, r):
			flush(idx)
			end := idx + len(string(r))
			spans = append(spans, wordSpan{text[idx:end], idx, end})
		default:
			if start < 0 {
				start = idx
			}
		}
	}
	flush(len(text))
	return spans
}
