// Package convert turns PDF documents into markdown via the external parse
// service and renders masked markdown into a styled HTML artifact.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// UpstreamError kinds. Telling "service down" apart from "service choking"
// matters to operators, so connection failures, timeouts, and gateway
// errors each get their own kind.
const (
	KindRefused    = "refused"
	KindTimeout    = "timeout"
	KindBadGateway = "bad_gateway"
	KindStatus     = "status"
)

// UpstreamError describes a failed call to the parse service.
type UpstreamError struct {
	Kind   string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	switch e.Kind {
	case KindBadGateway:
		return "parse service unavailable (502 bad gateway)"
	case KindStatus:
		return fmt.Sprintf("parse service returned HTTP %d", e.Status)
	case KindTimeout:
		return fmt.Sprintf("parse service timed out: %v", e.Err)
	default:
		return fmt.Sprintf("parse service unreachable: %v", e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

const maxParseResponseBytes = 64 << 20

// Client calls the PDF parse service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the parse service at baseURL. PDF parsing
// is slow for large documents, so the timeout should be generous.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type parseResponse struct {
	Results map[string]struct {
		MDContent *string `json:"md_content"`
	} `json:"results"`
}

// ParseToMarkdown submits a PDF to the parse service and returns the
// extracted markdown. Failures are classified into UpstreamError kinds;
// conversion has no fallback, so every error here is fatal to the request.
func (c *Client) ParseToMarkdown(ctx context.Context, filename string, pdf []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filename))
	hdr.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("build parse request: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return "", fmt.Errorf("build parse request: %w", err)
	}

	fields := [][2]string{
		{"backend", "pipeline"},
		{"lang_list", "ch"},
		{"parse_method", "auto"},
		{"formula_enable", "true"},
		{"table_enable", "true"},
		{"return_md", "true"},
		{"return_middle_json", "false"},
		{"return_content_list", "false"},
		{"return_images", "false"},
		{"start_page_id", "0"},
		{"end_page_id", "99999"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("build parse request: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build parse request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/file_parse", &body)
	if err != nil {
		return "", fmt.Errorf("build parse request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &UpstreamError{Kind: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadGateway:
		return "", &UpstreamError{Kind: KindBadGateway, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return "", &UpstreamError{Kind: KindStatus, Status: resp.StatusCode}
	}

	var parsed parseResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxParseResponseBytes))
	if err := dec.Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode parse response: %w", err)
	}
	for _, r := range parsed.Results {
		if r.MDContent != nil {
			return *r.MDContent, nil
		}
		return "", errors.New("parse response missing md_content")
	}
	return "", errors.New("parse response has no results")
}

func classifyTransport(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindRefused
}

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML renders markdown into a complete HTML document styled for CJK
// text on an A4 page, the artifact a downstream HTML renderer consumes.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	var out bytes.Buffer
	out.WriteString(htmlHead)
	out.Write(buf.Bytes())
	out.WriteString(htmlFoot)
	return out.String(), nil
}

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
@page {
    size: A4;
    margin: 2cm;
}
body {
    font-family: "SimSun", "宋体", "STSong", "Arial", sans-serif;
    font-size: 12pt;
    line-height: 1.6;
    color: #333;
}
h1, h2, h3, h4, h5, h6 {
    font-family: "SimHei", "黑体", "STHeiti", "Arial", sans-serif;
    margin-top: 1em;
    margin-bottom: 0.5em;
}
table {
    border-collapse: collapse;
    width: 100%;
    margin: 1em 0;
}
table th, table td {
    border: 1px solid #ddd;
    padding: 8px;
    text-align: left;
}
table th {
    background-color: #f2f2f2;
    font-weight: bold;
}
code {
    background-color: #f4f4f4;
    padding: 2px 4px;
    border-radius: 3px;
    font-family: "Courier New", monospace;
}
pre {
    background-color: #f4f4f4;
    padding: 10px;
    border-radius: 5px;
    overflow-x: auto;
}
</style>
</head>
<body>
`

const htmlFoot = `</body>
</html>
`
