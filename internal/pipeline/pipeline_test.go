package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inkveil/inkveil/internal/audit"
	"github.com/inkveil/inkveil/internal/convert"
	"github.com/inkveil/inkveil/internal/docx"
	"github.com/inkveil/inkveil/internal/recognize"
	"github.com/inkveil/inkveil/internal/resolve"
	"github.com/inkveil/inkveil/internal/schema"
)

type captureSink struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (s *captureSink) Name() string { return "capture" }
func (s *captureSink) Deliver(_ context.Context, ev *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}
func (s *captureSink) Close(context.Context) error { return nil }

func (s *captureSink) last() *audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

func newEngine(t *testing.T, rec recognize.Recognizer, sink audit.Sink) (*Engine, *audit.Emitter) {
	t.Helper()
	var adapter *recognize.ChunkedAdapter
	if rec != nil {
		adapter = recognize.NewChunkedAdapter(rec, time.Second)
	}
	var emitter *audit.Emitter
	if sink != nil {
		emitter = audit.NewEmitter(audit.EmitterConfig{QueueSize: 16, Workers: 1, ShutdownTimeout: time.Second}, []audit.Sink{sink})
	}
	return New(Options{
		Adapter:     adapter,
		Resolver:    resolve.New(),
		Emitter:     emitter,
		WorkdirRoot: t.TempDir(),
	}), emitter
}

func TestMaskTextNameAndNationalID(t *testing.T) {
	fake := &recognize.Fake{Find: map[string]string{"张三": schema.LabelPersonName}}
	eng, _ := newEngine(t, fake, nil)

	res, err := eng.MaskText(context.Background(), MaskRequest{Text: "张三的身份证号是110101199003072316"})
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}
	if res.Masked != "*三的身份证号是110101199003******" {
		t.Fatalf("Masked = %q", res.Masked)
	}
	if len(res.Entities) != 2 {
		t.Fatalf("got %d entities, want 2: %+v", len(res.Entities), res.Entities)
	}
	name, id := res.Entities[0], res.Entities[1]
	if name.Label != schema.LabelPersonName || name.Start != 0 || name.End != 2 {
		t.Errorf("name span = %+v", name)
	}
	if id.Label != schema.LabelNationalID || id.Start != 8 || id.End != 26 {
		t.Errorf("id span = %+v", id)
	}
	if len(res.Mandatory) != len(schema.Mandatory) {
		t.Errorf("Mandatory = %v", res.Mandatory)
	}
}

func TestMaskTextEmptyInput(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	if _, err := eng.MaskText(context.Background(), MaskRequest{Text: "   \n "}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
}

func TestMaskTextEntityInLaterChunk(t *testing.T) {
	fake := &recognize.Fake{Find: map[string]string{"李四": schema.LabelPersonName}}
	eng, _ := newEngine(t, fake, nil)

	// Chunk length forces a split after the first sentence; the entity in
	// the second chunk must still come back with document offsets.
	first := "第一句话在这里。"
	text := first + "李四住在城里。"
	res, err := eng.MaskText(context.Background(), MaskRequest{Text: text, MaxChunkLen: 9})
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}
	wantMasked := first + "*四住在城里。"
	if res.Masked != wantMasked {
		t.Fatalf("Masked = %q, want %q", res.Masked, wantMasked)
	}
	if len(res.Entities) != 1 || res.Entities[0].Start != 8 || res.Entities[0].End != 10 {
		t.Fatalf("entities = %+v", res.Entities)
	}
}

func TestMaskTextNoMatchesReturnsUnchanged(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	text := "今天天气不错，适合出门散步。"
	res, err := eng.MaskText(context.Background(), MaskRequest{Text: text})
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}
	if res.Masked != text {
		t.Errorf("Masked = %q, want input unchanged", res.Masked)
	}
	if len(res.Entities) != 0 {
		t.Errorf("entities = %+v, want none", res.Entities)
	}
}

// contextualRecognizer only spots the name in its introduction sentence,
// like a model that needs surrounding context. Later bare occurrences must
// still be caught by the global literal rescan.
type contextualRecognizer struct{}

func (contextualRecognizer) Recognize(_ context.Context, text string, labels []string) ([]schema.Span, error) {
	if !strings.Contains(text, "姓名：") {
		return nil, nil
	}
	idx := strings.Index(text, "张三")
	if idx < 0 {
		return nil, nil
	}
	start := len([]rune(text[:idx]))
	return []schema.Span{{Label: schema.LabelPersonName, Start: start, End: start + 2, Text: "张三"}}, nil
}

func TestMaskTextRescanMasksEveryOccurrence(t *testing.T) {
	eng, _ := newEngine(t, contextualRecognizer{}, nil)
	text := "姓名：张三。联系张三本人。"
	res, err := eng.MaskText(context.Background(), MaskRequest{Text: text, MaxChunkLen: 6})
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}
	if want := "姓名：*三。联系*三本人。"; res.Masked != want {
		t.Fatalf("Masked = %q, want %q", res.Masked, want)
	}
	if len(res.Entities) != 2 {
		t.Fatalf("entities = %+v, want 2", res.Entities)
	}
	if res.Entities[1].Method != schema.MethodGlobalScan {
		t.Errorf("second occurrence method = %q, want %q", res.Entities[1].Method, schema.MethodGlobalScan)
	}
}

func TestMaskTextDegradedRecognizer(t *testing.T) {
	sink := &captureSink{}
	fake := &recognize.Fake{Err: errors.New("model offline")}
	eng, emitter := newEngine(t, fake, sink)

	res, err := eng.MaskText(context.Background(), MaskRequest{Text: "电话13812345678"})
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}
	if res.Masked != "电话138****5678" {
		t.Fatalf("Masked = %q", res.Masked)
	}
	emitter.Close(context.Background())
	ev := sink.last()
	if ev == nil || ev.Decision != audit.DecisionDegraded {
		t.Fatalf("audit event = %+v, want degraded", ev)
	}
}

func TestMaskTextSubsetLabels(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	text := "卡号6222021234567890123，电话13812345678"
	res, err := eng.MaskText(context.Background(), MaskRequest{
		Text:   text,
		Labels: []string{schema.LabelMobilePhone},
	})
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}
	if !strings.Contains(res.Masked, "6222021234567890123") {
		t.Errorf("bank card should be untouched when not requested: %q", res.Masked)
	}
	if !strings.Contains(res.Masked, "138****5678") {
		t.Errorf("mobile should be masked: %q", res.Masked)
	}
}

const docHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	doc := docHeader +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"[Content_Types].xml": `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`,
		"word/document.xml":   doc,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestMaskDocx(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	src := buildDocx(t, `<w:p><w:r><w:t>联系电话</w:t></w:r><w:r><w:t>13812345678</w:t></w:r></w:p>`)

	out, err := eng.MaskDocx(context.Background(), src, nil, 0)
	if err != nil {
		t.Fatalf("MaskDocx: %v", err)
	}
	a, err := docx.OpenArchive(out)
	if err != nil {
		t.Fatalf("reopen result: %v", err)
	}
	if got, want := a.Document().Text(), "联系电话138****5678"; got != want {
		t.Fatalf("masked document text = %q, want %q", got, want)
	}
}

func TestMaskDocxEmptyDocumentUnchanged(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	src := buildDocx(t, `<w:p/>`)
	out, err := eng.MaskDocx(context.Background(), src, nil, 0)
	if err != nil {
		t.Fatalf("MaskDocx: %v", err)
	}
	if !bytes.Equal(out, src) {
		t.Fatalf("empty document should pass through unchanged")
	}
}

func TestMaskDocxRejectsNonArchive(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	if _, err := eng.MaskDocx(context.Background(), []byte("plain text"), nil, 0); !errors.Is(err, docx.ErrNotDocx) {
		t.Fatalf("err = %v, want ErrNotDocx", err)
	}
}

func parseServer(t *testing.T, markdown string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{
				"in.pdf": map[string]any{"md_content": markdown},
			},
		})
	}))
}

func TestMaskPDFMarkdown(t *testing.T) {
	srv := parseServer(t, "# 联系方式\n\n电话：13812345678\n")
	defer srv.Close()

	eng, _ := newEngine(t, nil, nil)
	eng.converter = convert.NewClient(srv.URL, 5*time.Second)

	out, err := eng.MaskPDF(context.Background(), "in.pdf", []byte("%PDF"), nil, 0, false)
	if err != nil {
		t.Fatalf("MaskPDF: %v", err)
	}
	if !strings.Contains(out, "138****5678") || strings.Contains(out, "13812345678") {
		t.Fatalf("masked markdown = %q", out)
	}
}

func TestMaskPDFRenderedHTML(t *testing.T) {
	srv := parseServer(t, "电话：13812345678\n")
	defer srv.Close()

	eng, _ := newEngine(t, nil, nil)
	eng.converter = convert.NewClient(srv.URL, 5*time.Second)

	out, err := eng.MaskPDF(context.Background(), "in.pdf", []byte("%PDF"), nil, 0, true)
	if err != nil {
		t.Fatalf("MaskPDF: %v", err)
	}
	if !strings.Contains(out, "<!DOCTYPE html>") || !strings.Contains(out, "138****5678") {
		t.Fatalf("rendered HTML = %q", out)
	}
}

func TestMaskPDFConversionFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	eng, _ := newEngine(t, nil, nil)
	eng.converter = convert.NewClient(srv.URL, 5*time.Second)

	_, err := eng.MaskPDF(context.Background(), "in.pdf", []byte("%PDF"), nil, 0, false)
	var ue *convert.UpstreamError
	if !errors.As(err, &ue) || ue.Kind != convert.KindBadGateway {
		t.Fatalf("err = %v, want bad_gateway UpstreamError", err)
	}
}

func TestMaskPDFWithoutConverter(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	if _, err := eng.MaskPDF(context.Background(), "in.pdf", []byte("%PDF"), nil, 0, false); err == nil {
		t.Fatal("expected error when converter is not configured")
	}
}
