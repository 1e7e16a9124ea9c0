// Package audit records one structured event per masking request and
// delivers them to configured sinks off the request path.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/inkveil/inkveil/internal/schema"
)

// Decision is the outcome of a masking request.
type Decision string

const (
	// DecisionOK means every stage completed.
	DecisionOK Decision = "ok"
	// DecisionDegraded means the semantic recognizer failed for at least
	// one chunk and the request continued on detector output alone.
	DecisionDegraded Decision = "degraded"
	// DecisionFailed means the request was aborted.
	DecisionFailed Decision = "failed"
)

// Request kinds.
const (
	KindMaskText = "mask_text"
	KindMaskDocx = "mask_docx"
	KindMaskPDF  = "mask_pdf"
)

// Event is the canonical audit payload. It carries counts and categories
// only, never the matched text itself.
type Event struct {
	Version    string         `json:"version"`
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       string         `json:"kind"`
	Decision   Decision       `json:"decision"`
	Categories map[string]int `json:"categories,omitempty"`
	SpanCount  int            `json:"span_count"`
	TextRunes  int            `json:"text_runes"`
	LatencyMs  float64        `json:"latency_ms"`
	Note       string         `json:"note,omitempty"`
}

// NewEvent starts an event for one request.
func NewEvent(kind string) *Event {
	return &Event{
		Version:   "1",
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Decision:  DecisionOK,
	}
}

// CountSpans fills Categories and SpanCount from the final span set.
func (ev *Event) CountSpans(spans []schema.Span) {
	if len(spans) == 0 {
		ev.SpanCount = 0
		return
	}
	ev.Categories = make(map[string]int)
	for _, s := range spans {
		ev.Categories[s.Label]++
	}
	ev.SpanCount = len(spans)
}
