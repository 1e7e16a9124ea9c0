package recognize

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/inkveil/inkveil/internal/schema"
)

// Fake is a scripted recognizer for tests. It finds every occurrence of the
// configured literals in the given text and tags them with their label,
// mimicking a chunk-scoped recognizer.
type Fake struct {
	// Find maps literal text to the label it should be reported under.
	Find map[string]string
	// Err, when set, is returned instead of any entities.
	Err error

	calls atomic.Int64
}

// Calls reports how many times Recognize ran.
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

func (f *Fake) Recognize(_ context.Context, text string, labels []string) ([]schema.Span, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	requested := make(map[string]bool, len(labels))
	for _, l := range labels {
		requested[l] = true
	}

	runes := []rune(text)
	var spans []schema.Span
	for literal, label := range f.Find {
		if len(labels) > 0 && !requested[label] {
			continue
		}
		lit := []rune(literal)
		if len(lit) == 0 {
			continue
		}
		for i := 0; i+len(lit) <= len(runes); i++ {
			if string(runes[i:i+len(lit)]) == literal {
				spans = append(spans, schema.Span{
					Label: label,
					Start: i,
					End:   i + len(lit),
					Text:  literal,
				})
			}
		}
	}
	// deterministic order for assertions
	sortSpans(spans)
	return spans, nil
}

func sortSpans(spans []schema.Span) {
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && less(spans[j], spans[j-1]); j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
}

func less(a, b schema.Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return strings.Compare(a.Label, b.Label) < 0
}
