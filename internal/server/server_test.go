package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inkveil/inkveil/internal/convert"
	"github.com/inkveil/inkveil/internal/docx"
	"github.com/inkveil/inkveil/internal/pipeline"
	"github.com/inkveil/inkveil/internal/recognize"
	"github.com/inkveil/inkveil/internal/resolve"
	"github.com/inkveil/inkveil/internal/schema"
)

func newTestServer(t *testing.T, parseURL string) *Server {
	t.Helper()
	fake := &recognize.Fake{Find: map[string]string{"张三": schema.LabelPersonName}}
	opts := pipeline.Options{
		Adapter:     recognize.NewChunkedAdapter(fake, time.Second),
		Resolver:    resolve.New(),
		WorkdirRoot: t.TempDir(),
	}
	if parseURL != "" {
		opts.Converter = convert.NewClient(parseURL, 5*time.Second)
	}
	return New(pipeline.New(opts), 10)
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMaskCustom(t *testing.T) {
	s := newTestServer(t, "")
	rec := postJSON(t, s, "/mask/custom", map[string]any{
		"text": "张三的身份证号是110101199003072316",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var res struct {
		Original         string        `json:"original"`
		Masked           string        `json:"masked"`
		Entities         []schema.Span `json:"entities_found"`
		Mandatory        []string      `json:"mandatory"`
		OptionalSelected []string      `json:"optional_selected"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Masked != "*三的身份证号是110101199003******" {
		t.Errorf("masked = %q", res.Masked)
	}
	if len(res.Entities) != 2 {
		t.Errorf("entities = %+v", res.Entities)
	}
	if len(res.Mandatory) != 8 {
		t.Errorf("mandatory = %v", res.Mandatory)
	}
}

func TestMaskCustomEmptyText(t *testing.T) {
	s := newTestServer(t, "")
	rec := postJSON(t, s, "/mask/custom", map[string]any{"text": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMaskCustomRejectsGet(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/mask/custom", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestMaskCustomInvalidJSON(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/mask/custom", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func postFile(t *testing.T, s *Server, path, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMaskDocxRoundTrip(t *testing.T) {
	s := newTestServer(t, "")
	src := buildDocx(t, `<w:p><w:r><w:t>电话13812345678</w:t></w:r></w:p>`)

	rec := postFile(t, s, "/mask/docx", "contract.docx", src, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "masked_contract.docx") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	a, err := docx.OpenArchive(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("open result archive: %v", err)
	}
	if got := a.Document().Text(); got != "电话138****5678" {
		t.Errorf("masked text = %q", got)
	}
}

func TestMaskDocxWrongExtension(t *testing.T) {
	s := newTestServer(t, "")
	rec := postFile(t, s, "/mask/docx", "notes.txt", []byte("plain"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMaskDocxCorruptArchive(t *testing.T) {
	s := newTestServer(t, "")
	rec := postFile(t, s, "/mask/docx", "broken.docx", []byte("not a zip"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMaskPDFMarkdown(t *testing.T) {
	parse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"report.pdf": map[string]any{"md_content": "电话：13812345678"}},
		})
	}))
	defer parse.Close()

	s := newTestServer(t, parse.URL)
	rec := postFile(t, s, "/mask/pdf", "report.pdf", []byte("%PDF"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "138****5678") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMaskPDFHTML(t *testing.T) {
	parse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"report.pdf": map[string]any{"md_content": "# 标题\n\n电话：13812345678"}},
		})
	}))
	defer parse.Close()

	s := newTestServer(t, parse.URL)
	rec := postFile(t, s, "/mask/pdf", "report.pdf", []byte("%PDF"), map[string]string{"return": "html"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1") || !strings.Contains(body, "138****5678") {
		t.Errorf("body = %q", body)
	}
}

func TestMaskPDFBadReturnValue(t *testing.T) {
	s := newTestServer(t, "")
	rec := postFile(t, s, "/mask/pdf", "report.pdf", []byte("%PDF"), map[string]string{"return": "pdf"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMaskPDFUpstreamDown(t *testing.T) {
	parse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer parse.Close()

	s := newTestServer(t, parse.URL)
	rec := postFile(t, s, "/mask/pdf", "report.pdf", []byte("%PDF"), nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}
