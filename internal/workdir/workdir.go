// Package workdir manages transient per-request working directories.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Area is a private scratch directory for a single request. Callers must
// pair every New with a Close, usually via defer, so artifacts never
// outlive the request that produced them.
type Area struct {
	path string
}

// New creates a uniquely named directory under root. An empty root falls
// back to the system temp directory.
func New(root string) (*Area, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir root: %w", err)
	}
	path := filepath.Join(root, "inkveil-"+uuid.NewString())
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}
	return &Area{path: path}, nil
}

// Path returns the directory path.
func (a *Area) Path() string { return a.path }

// File returns the path for a named file inside the area.
func (a *Area) File(name string) string { return filepath.Join(a.path, name) }

// Close removes the directory and everything in it.
func (a *Area) Close() error {
	return os.RemoveAll(a.path)
}
