package recognize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/inkveil/inkveil/internal/schema"
)

// ONNXRecognizer runs a local token-classification model (BIO tagging) via
// onnxruntime. The model bundle directory holds model.onnx, label_map.json
// (index → BIO tag, e.g. "B-姓名"), and tokenizer/vocab.txt.
type ONNXRecognizer struct {
	session   *ort.AdvancedSession
	tokenizer *WordPieceTokenizer
	tags      []string
	seqLen    int

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	output        *ort.Tensor[float32]

	mu sync.Mutex
}

// LoadONNX initializes the ONNX session and tokenizer from a bundle dir.
func LoadONNX(bundleDir string, seqLen int) (*ONNXRecognizer, error) {
	if bundleDir == "" {
		return nil, errors.New("bundleDir is empty")
	}
	if seqLen <= 0 {
		seqLen = 512
	}

	libPath := resolveSharedLibraryPath(bundleDir)
	if libPath == "" {
		return nil, errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	modelPath := filepath.Join(bundleDir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	tags, err := loadTagMap(filepath.Join(bundleDir, "label_map.json"))
	if err != nil {
		return nil, fmt.Errorf("load label map: %w", err)
	}

	tokenizer, err := LoadWordPieceTokenizer(filepath.Join(bundleDir, "tokenizer", "vocab.txt"))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	inputShape := ort.NewShape(1, int64(seqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(seqLen), int64(len(tags))))
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{inputIDs, attnMask},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXRecognizer{
		session:       session,
		tokenizer:     tokenizer,
		tags:          tags,
		seqLen:        seqLen,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		output:        output,
	}, nil
}

// Recognize tags the text and decodes BIO runs into entity spans, filtered
// to the requested labels.
func (m *ONNXRecognizer) Recognize(ctx context.Context, text string, labels []string) ([]schema.Span, error) {
	if m == nil || m.session == nil || m.tokenizer == nil {
		return nil, errors.New("onnx recognizer not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, attn, offsets := m.tokenizer.EncodeWithOffsets(text, m.seqLen)

	m.mu.Lock()
	copy(m.inputIDs.GetData(), inputIDs)
	copy(m.attentionMask.GetData(), attn)
	err := m.session.Run()
	var tokenTags []string
	if err == nil {
		tokenTags = m.argmaxTags(attn)
	}
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	spans := decodeBIO(tokenTags, offsets, text)

	if len(labels) > 0 {
		requested := make(map[string]bool, len(labels))
		for _, l := range labels {
			requested[l] = true
		}
		kept := spans[:0]
		for _, sp := range spans {
			if requested[sp.Label] {
				kept = append(kept, sp)
			}
		}
		spans = kept
	}
	return spans, nil
}

// argmaxTags picks the highest-logit tag per attended token position.
// Caller holds m.mu.
func (m *ONNXRecognizer) argmaxTags(attn []int64) []string {
	raw := m.output.GetData()
	n := len(m.tags)
	tags := make([]string, m.seqLen)
	for pos := 0; pos < m.seqLen; pos++ {
		if pos < len(attn) && attn[pos] == 0 {
			tags[pos] = "O"
			continue
		}
		base := pos * n
		if base+n > len(raw) {
			tags[pos] = "O"
			continue
		}
		best := 0
		for i := 1; i < n; i++ {
			if raw[base+i] > raw[base+best] {
				best = i
			}
		}
		tags[pos] = m.tags[best]
	}
	return tags
}

// decodeBIO turns per-token BIO tags plus byte offsets into entity spans
// with rune offsets into text.
func decodeBIO(tags []string, offsets []TokenOffset, text string) []schema.Span {
	byteToRune := make(map[int]int, len(text)+1)
	n := 0
	for i := range text {
		byteToRune[i] = n
		n++
	}
	byteToRune[len(text)] = n

	var spans []schema.Span
	curLabel := ""
	curStart, curEnd := -1, -1
	flush := func() {
		if curLabel != "" && curStart >= 0 && curEnd > curStart {
			spans = append(spans, schema.Span{
				Label: curLabel,
				Start: byteToRune[curStart],
				End:   byteToRune[curEnd],
				Text:  text[curStart:curEnd],
			})
		}
		curLabel, curStart, curEnd = "", -1, -1
	}

	for i, tag := range tags {
		if i >= len(offsets) {
			break
		}
		off := offsets[i]
		switch {
		case off.Start < 0 || tag == "O" || tag == "":
			flush()
		case strings.HasPrefix(tag, "B-"):
			flush()
			curLabel = tag[2:]
			curStart, curEnd = off.Start, off.End
		case strings.HasPrefix(tag, "I-") && tag[2:] == curLabel && curStart >= 0:
			curEnd = off.End
		default:
			flush()
		}
	}
	flush()
	return spans
}

func loadTagMap(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	out := make([]string, len(m))
	for k, v := range m {
		idx, convErr := strconv.Atoi(k)
		if convErr != nil {
			return nil, fmt.Errorf("invalid tag index %q: %w", k, convErr)
		}
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("tag index %d out of range", idx)
		}
		out[idx] = v
	}
	return out, nil
}

// resolveSharedLibraryPath locates a platform-specific onnxruntime shared
// library. ONNXRUNTIME_SHARED_LIBRARY_PATH wins; otherwise common
// names/locations are probed.
func resolveSharedLibraryPath(bundleDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
