// Package recognize wraps the semantic entity recognizer: an opaque
// capability that takes text plus a label set and returns spans. Two
// implementations exist, an HTTP sidecar client and a local ONNX
// token-classification model, plus a chunked adapter that feeds either one
// bounded pieces of long text.
package recognize

import (
	"context"

	"github.com/inkveil/inkveil/internal/schema"
)

// Recognizer extracts semantic entities (names, addresses, organizations,
// email addresses) from a piece of text. Returned span offsets are rune
// offsets local to the given text; Method is left for the caller to fill.
type Recognizer interface {
	Recognize(ctx context.Context, text string, labels []string) ([]schema.Span, error)
}
