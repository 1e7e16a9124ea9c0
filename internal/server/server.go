// Package server exposes the masking engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/inkveil/inkveil/internal/convert"
	"github.com/inkveil/inkveil/internal/docx"
	"github.com/inkveil/inkveil/internal/pipeline"
)

// Server wraps the HTTP routes for Inkveil.
type Server struct {
	mux            *http.ServeMux
	engine         *pipeline.Engine
	maxUploadBytes int64
}

// New creates a server with all routes registered.
func New(engine *pipeline.Engine, maxUploadMB int) *Server {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	s := &Server{
		mux:            http.NewServeMux(),
		engine:         engine,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
	s.mux.HandleFunc("/mask/custom", s.handleMaskCustom)
	s.mux.HandleFunc("/mask/docx", s.handleMaskDocx)
	s.mux.HandleFunc("/mask/pdf", s.handleMaskPDF)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

type maskCustomRequest struct {
	Text        string   `json:"text"`
	SchemaList  []string `json:"schemalist"`
	MaxChunkLen int      `json:"max_chunk_len"`
}

func (s *Server) handleMaskCustom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req maskCustomRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxUploadBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	res, err := s.engine.MaskText(r.Context(), pipeline.MaskRequest{
		Text:        req.Text,
		Labels:      req.SchemaList,
		MaxChunkLen: req.MaxChunkLen,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyInput) {
			http.Error(w, "text must not be empty", http.StatusBadRequest)
			return
		}
		log.Printf("mask/custom failed: %v", err)
		http.Error(w, "masking failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.Printf("failed to write mask/custom response: %v", err)
	}
}

func (s *Server) handleMaskDocx(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, filename, labels, maxChunkLen, ok := s.readUpload(w, r, ".docx")
	if !ok {
		return
	}

	out, err := s.engine.MaskDocx(r.Context(), data, labels, maxChunkLen)
	if err != nil {
		switch {
		case errors.Is(err, docx.ErrNotDocx):
			http.Error(w, "uploaded file is not a valid .docx document", http.StatusBadRequest)
		case errors.Is(err, docx.ErrStructure):
			log.Printf("mask/docx structure failure: %v", err)
			http.Error(w, "masking damaged the document structure; request aborted", http.StatusInternalServerError)
		default:
			log.Printf("mask/docx failed: %v", err)
			http.Error(w, "masking failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "masked_"+filename))
	if _, err := w.Write(out); err != nil {
		log.Printf("failed to write mask/docx response: %v", err)
	}
}

func (s *Server) handleMaskPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, filename, labels, maxChunkLen, ok := s.readUpload(w, r, ".pdf")
	if !ok {
		return
	}

	returnKind := strings.ToLower(strings.TrimSpace(r.FormValue("return")))
	switch returnKind {
	case "", "markdown", "html":
	default:
		http.Error(w, "return must be markdown or html", http.StatusBadRequest)
		return
	}
	render := returnKind == "html"

	out, err := s.engine.MaskPDF(r.Context(), filename, data, labels, maxChunkLen, render)
	if err != nil {
		var ue *convert.UpstreamError
		if errors.As(err, &ue) {
			if ue.Kind == convert.KindTimeout {
				http.Error(w, "pdf parse service timed out", http.StatusGatewayTimeout)
				return
			}
			http.Error(w, fmt.Sprintf("pdf parse service unavailable (%s)", ue.Kind), http.StatusBadGateway)
			return
		}
		log.Printf("mask/pdf failed: %v", err)
		http.Error(w, "masking failed", http.StatusInternalServerError)
		return
	}

	if render {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	}
	if _, err := io.WriteString(w, out); err != nil {
		log.Printf("failed to write mask/pdf response: %v", err)
	}
}

// readUpload pulls the multipart file plus the shared masking params. It
// writes the error response itself and reports ok=false on any rejection.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, wantExt string) (data []byte, filename string, labels []string, maxChunkLen int, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart upload", http.StatusBadRequest)
		return nil, "", nil, 0, false
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return nil, "", nil, 0, false
	}
	defer f.Close()

	if !strings.EqualFold(filepath.Ext(fh.Filename), wantExt) {
		http.Error(w, fmt.Sprintf("file must be a %s document", wantExt), http.StatusBadRequest)
		return nil, "", nil, 0, false
	}

	data, err = io.ReadAll(f)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return nil, "", nil, 0, false
	}
	if len(data) == 0 {
		http.Error(w, "uploaded file is empty", http.StatusBadRequest)
		return nil, "", nil, 0, false
	}

	labels = r.Form["schemalist"]
	if raw := strings.TrimSpace(r.FormValue("max_chunk_len")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "max_chunk_len must be a positive integer", http.StatusBadRequest)
			return nil, "", nil, 0, false
		}
		maxChunkLen = n
	}
	return data, fh.Filename, labels, maxChunkLen, true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}
