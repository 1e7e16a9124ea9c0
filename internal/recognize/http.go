package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inkveil/inkveil/internal/schema"
)

// HTTPRecognizer calls a recognizer sidecar over JSON/HTTP.
type HTTPRecognizer struct {
	baseURL          string
	client           *http.Client
	maxResponseBytes int64
}

// NewHTTP creates an HTTP recognizer client for the sidecar at baseURL
// (e.g. "http://recognizer:8001").
func NewHTTP(baseURL string, timeout time.Duration, maxResponseBytes int64) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxResponseBytes <= 0 {
		maxResponseBytes = 4 * 1024 * 1024
	}
	return &HTTPRecognizer{
		baseURL:          baseURL,
		maxResponseBytes: maxResponseBytes,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type extractRequest struct {
	Text   string   `json:"text"`
	Schema []string `json:"schema"`
}

type extractResponse struct {
	Entities []extractEntity `json:"entities"`
}

type extractEntity struct {
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Recognize posts the text and label set to the sidecar's /extract endpoint.
// Errors are returned to the caller; the chunked adapter decides whether to
// fail open.
func (r *HTTPRecognizer) Recognize(ctx context.Context, text string, labels []string) ([]schema.Span, error) {
	body, err := json.Marshal(extractRequest{Text: text, Schema: labels})
	if err != nil {
		return nil, fmt.Errorf("marshal extract request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call recognizer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer status %d", resp.StatusCode)
	}

	var parsed extractResponse
	limited := io.LimitReader(resp.Body, r.maxResponseBytes)
	if err := json.NewDecoder(limited).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode recognizer response: %w", err)
	}

	spans := make([]schema.Span, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		spans = append(spans, schema.Span{
			Label: e.Label,
			Start: e.Start,
			End:   e.End,
			Text:  e.Text,
		})
	}
	return spans, nil
}
