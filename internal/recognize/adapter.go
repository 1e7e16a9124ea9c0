package recognize

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/inkveil/inkveil/internal/chunk"
	"github.com/inkveil/inkveil/internal/schema"
	"github.com/inkveil/inkveil/internal/scrub"
)

const defaultMaxConcurrency = 4

// ChunkedAdapter splits long text into sentence-bounded chunks, recognizes
// each chunk independently, and shifts the returned spans back to canonical
// offsets. Chunk calls run concurrently but results reassemble by chunk
// index, so output order is deterministic regardless of scheduling.
type ChunkedAdapter struct {
	rec            Recognizer
	maxConcurrency int
	callTimeout    time.Duration
}

// NewChunkedAdapter wraps a recognizer. callTimeout bounds each chunk call;
// zero means no per-call deadline beyond the request context.
func NewChunkedAdapter(rec Recognizer, callTimeout time.Duration) *ChunkedAdapter {
	return &ChunkedAdapter{
		rec:            rec,
		maxConcurrency: defaultMaxConcurrency,
		callTimeout:    callTimeout,
	}
}

// SetMaxConcurrency bounds the number of concurrent chunk calls.
func (a *ChunkedAdapter) SetMaxConcurrency(n int) {
	if n > 0 {
		a.maxConcurrency = n
	}
}

// Result reports the adapter outcome: the spans plus whether any chunk call
// failed and was skipped (fail-open degradation).
type Result struct {
	Spans    []schema.Span
	Degraded bool
}

// Recognize chunks the text with the given splitter and recognizes every
// non-blank chunk. A failing chunk contributes no spans instead of aborting
// the request.
func (a *ChunkedAdapter) Recognize(ctx context.Context, splitter chunk.Splitter, text string, labels []string) Result {
	if a == nil || a.rec == nil || text == "" || len(labels) == 0 {
		return Result{}
	}

	chunks := splitter.Split(text)

	type chunkResult struct {
		spans []schema.Span
		err   error
	}
	results := make([]chunkResult, len(chunks))

	var wg sync.WaitGroup
	sem := make(chan struct{}, a.maxConcurrency)
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		wg.Add(1)
		go func(i int, c chunk.Chunk) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx := ctx
			if a.callTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, a.callTimeout)
				defer cancel()
			}
			spans, err := a.rec.Recognize(callCtx, c.Text, labels)
			results[i] = chunkResult{spans: spans, err: err}
		}(i, c)
	}
	wg.Wait()

	var out Result
	for i, r := range results {
		if r.err != nil {
			// Fail open: a dead recognizer degrades to zero semantic
			// entities for this chunk, the request continues.
			scrub.Logf("recognize: chunk %d failed, skipping: %v", i, r.err)
			out.Degraded = true
			continue
		}
		for _, sp := range r.spans {
			sp.Start += chunks[i].Offset
			sp.End += chunks[i].Offset
			sp.Method = schema.MethodChunk
			out.Spans = append(out.Spans, sp)
		}
	}
	return out
}
