package recognize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inkveil/inkveil/internal/schema"
)

func TestHTTPRecognizerRoundTrip(t *testing.T) {
	var gotReq extractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(extractResponse{Entities: []extractEntity{
			{Label: schema.LabelPersonName, Start: 0, End: 2, Text: "张三"},
		}})
	}))
	defer srv.Close()

	rec := NewHTTP(srv.URL, 5*time.Second, 0)
	spans, err := rec.Recognize(context.Background(), "张三在北京", []string{schema.LabelPersonName})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if gotReq.Text != "张三在北京" || len(gotReq.Schema) != 1 {
		t.Errorf("sidecar saw %+v", gotReq)
	}
	if len(spans) != 1 || spans[0].Text != "张三" || spans[0].End != 2 {
		t.Errorf("spans = %+v", spans)
	}
}

func TestHTTPRecognizerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := NewHTTP(srv.URL, 5*time.Second, 0)
	if _, err := rec.Recognize(context.Background(), "text", []string{schema.LabelPersonName}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestHTTPRecognizerUnreachable(t *testing.T) {
	rec := NewHTTP("http://127.0.0.1:1", 500*time.Millisecond, 0)
	if _, err := rec.Recognize(context.Background(), "text", []string{schema.LabelPersonName}); err == nil {
		t.Fatal("expected error when sidecar is unreachable")
	}
}
