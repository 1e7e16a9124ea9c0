// Package pipeline orchestrates the masking flow: pattern detection and
// chunked semantic recognition in parallel views of the same text, span
// resolution and merging, then length-preserving masking.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/inkveil/inkveil/internal/audit"
	"github.com/inkveil/inkveil/internal/chunk"
	"github.com/inkveil/inkveil/internal/convert"
	"github.com/inkveil/inkveil/internal/detect"
	"github.com/inkveil/inkveil/internal/docx"
	"github.com/inkveil/inkveil/internal/edits"
	"github.com/inkveil/inkveil/internal/mask"
	"github.com/inkveil/inkveil/internal/recognize"
	"github.com/inkveil/inkveil/internal/resolve"
	"github.com/inkveil/inkveil/internal/schema"
	"github.com/inkveil/inkveil/internal/telemetry"
	"github.com/inkveil/inkveil/internal/workdir"
)

// ErrEmptyInput rejects requests with no text to work on.
var ErrEmptyInput = errors.New("input text is empty")

// Options wires an Engine. Adapter and Converter may be nil; the engine
// then runs pattern detection only, and PDF requests fail cleanly.
type Options struct {
	Adapter     *recognize.ChunkedAdapter
	Resolver    resolve.Resolver
	Converter   *convert.Client
	Emitter     *audit.Emitter
	Telemetry   *telemetry.Provider
	WorkdirRoot string
	MaxChunkLen int
	Delimiters  []rune
}

// Engine runs masking requests end to end.
type Engine struct {
	adapter     *recognize.ChunkedAdapter
	resolver    resolve.Resolver
	converter   *convert.Client
	emitter     *audit.Emitter
	telemetry   *telemetry.Provider
	workdirRoot string
	maxChunkLen int
	delimiters  []rune
}

func New(opts Options) *Engine {
	maxLen := opts.MaxChunkLen
	if maxLen <= 0 {
		maxLen = chunk.DefaultMaxLen
	}
	delims := opts.Delimiters
	if len(delims) == 0 {
		delims = chunk.DefaultDelimiters
	}
	return &Engine{
		adapter:     opts.Adapter,
		resolver:    opts.Resolver,
		converter:   opts.Converter,
		emitter:     opts.Emitter,
		telemetry:   opts.Telemetry,
		workdirRoot: opts.WorkdirRoot,
		maxChunkLen: maxLen,
		delimiters:  delims,
	}
}

// MaskRequest is one text masking call.
type MaskRequest struct {
	Text        string
	Labels      []string // empty → the full taxonomy
	MaxChunkLen int      // 0 → engine default
}

// MaskResult mirrors the /mask/custom response.
type MaskResult struct {
	Original         string        `json:"original"`
	Masked           string        `json:"masked"`
	Entities         []schema.Span `json:"entities_found"`
	Mandatory        []string      `json:"mandatory"`
	OptionalSelected []string      `json:"optional_selected"`
}

type maskOutcome struct {
	masked   string
	resolved []schema.Span
	final    []schema.Span
	degraded bool
}

// MaskText masks the request text and reports every entity that was found.
func (e *Engine) MaskText(ctx context.Context, req MaskRequest) (*MaskResult, error) {
	start := time.Now()
	ev := audit.NewEvent(audit.KindMaskText)
	defer e.finish(ctx, ev, start)

	if strings.TrimSpace(req.Text) == "" {
		ev.Decision = audit.DecisionFailed
		ev.Note = "empty input"
		return nil, ErrEmptyInput
	}

	_, semanticLabels := schema.Partition(req.Labels)
	out := e.maskCore(ctx, ev, req.Text, req.Labels, req.MaxChunkLen)

	return &MaskResult{
		Original:         req.Text,
		Masked:           out.masked,
		Entities:         out.resolved,
		Mandatory:        schema.Mandatory,
		OptionalSelected: semanticLabels,
	}, nil
}

// MaskDocx masks the text content of a .docx archive and returns the
// patched archive. A document with no text comes back unchanged.
func (e *Engine) MaskDocx(ctx context.Context, data []byte, labels []string, maxChunkLen int) ([]byte, error) {
	start := time.Now()
	ev := audit.NewEvent(audit.KindMaskDocx)
	defer e.finish(ctx, ev, start)

	a, err := docx.OpenArchive(data)
	if err != nil {
		ev.Decision = audit.DecisionFailed
		ev.Note = err.Error()
		return nil, err
	}
	text := a.Document().Text()
	if strings.TrimSpace(text) == "" {
		ev.Note = "document has no text"
		return data, nil
	}

	out := e.maskCore(ctx, ev, text, labels, maxChunkLen)
	es, err := edits.Extract(text, out.masked, out.final)
	if err != nil {
		ev.Decision = audit.DecisionFailed
		ev.Note = err.Error()
		return nil, fmt.Errorf("derive document edits: %w", err)
	}
	a.Document().Apply(es)
	result, err := a.Rewrite()
	if err != nil {
		ev.Decision = audit.DecisionFailed
		ev.Note = err.Error()
		return nil, err
	}
	return result, nil
}

// MaskPDF converts a PDF to markdown through the parse service, masks the
// markdown, and returns it, rendered to HTML when render is set.
// Conversion failures are fatal; there is no unmasked fallback.
func (e *Engine) MaskPDF(ctx context.Context, filename string, data []byte, labels []string, maxChunkLen int, render bool) (string, error) {
	start := time.Now()
	ev := audit.NewEvent(audit.KindMaskPDF)
	var convMs float64
	defer func() { e.finishWith(ctx, ev, start, convMs) }()

	if e.converter == nil {
		ev.Decision = audit.DecisionFailed
		ev.Note = "converter not configured"
		return "", errors.New("pdf conversion is not configured")
	}

	convStart := time.Now()
	markdown, err := e.converter.ParseToMarkdown(ctx, filename, data)
	convMs = float64(time.Since(convStart).Milliseconds())
	if err != nil {
		ev.Decision = audit.DecisionFailed
		ev.Note = err.Error()
		return "", err
	}

	if strings.TrimSpace(markdown) == "" {
		ev.Note = "conversion produced no text"
		return markdown, nil
	}

	out := e.maskCore(ctx, ev, markdown, labels, maxChunkLen)

	area, err := workdir.New(e.workdirRoot)
	if err != nil {
		ev.Decision = audit.DecisionFailed
		ev.Note = err.Error()
		return "", err
	}
	defer area.Close()
	if err := os.WriteFile(area.File("masked.md"), []byte(out.masked), 0o600); err != nil {
		ev.Decision = audit.DecisionFailed
		ev.Note = err.Error()
		return "", fmt.Errorf("write masked artifact: %w", err)
	}

	if !render {
		return out.masked, nil
	}
	html, err := convert.RenderHTML(out.masked)
	if err != nil {
		ev.Decision = audit.DecisionFailed
		ev.Note = err.Error()
		return "", err
	}
	return html, nil
}

func (e *Engine) maskCore(ctx context.Context, ev *audit.Event, text string, labels []string, maxChunkLen int) maskOutcome {
	mandatoryLabels, semanticLabels := schema.Partition(labels)
	mandatorySpans := detect.Scan(text, mandatoryLabels)

	var semanticSpans []schema.Span
	degraded := false
	if e.adapter != nil && len(semanticLabels) > 0 {
		maxLen := maxChunkLen
		if maxLen <= 0 {
			maxLen = e.maxChunkLen
		}
		splitter := chunk.Splitter{MaxLen: maxLen, Delimiters: e.delimiters}
		res := e.adapter.Recognize(ctx, splitter, text, semanticLabels)
		semanticSpans = res.Spans
		degraded = res.Degraded
	}

	resolved := e.resolver.Resolve(text, mandatorySpans, semanticSpans)
	final := resolve.Merge(resolved)
	masked := mask.Apply(text, final)

	ev.CountSpans(final)
	ev.TextRunes = utf8.RuneCountInString(text)
	if degraded {
		ev.Decision = audit.DecisionDegraded
		ev.Note = "semantic recognition unavailable for at least one chunk"
	}
	return maskOutcome{masked: masked, resolved: resolved, final: final, degraded: degraded}
}

func (e *Engine) finish(ctx context.Context, ev *audit.Event, start time.Time) {
	e.finishWith(ctx, ev, start, 0)
}

func (e *Engine) finishWith(ctx context.Context, ev *audit.Event, start time.Time, convMs float64) {
	ev.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	if e.emitter != nil {
		e.emitter.Emit(ctx, ev)
	}
	if e.telemetry != nil {
		e.telemetry.RecordRequestMetrics(ev.Kind, string(ev.Decision), ev.LatencyMs, 0, convMs, ev.SpanCount)
	}
}
