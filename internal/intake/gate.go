package intake

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrBadExtension is returned for filenames outside the allow-list.
	ErrBadExtension = errors.New("unsupported file type")

	// ErrTooLarge is returned when an upload exceeds the size cap. The
	// partially written blob has already been removed.
	ErrTooLarge = errors.New("file too large")
)

// Gate validates and stores uploaded audio blobs. Files are written under a
// single upload root with collision-free names; nothing else touches that
// directory.
type Gate struct {
	uploadDir string
	allowed   map[string]bool
	maxBytes  int64
}

// NewGate creates a gate for the given upload root. extensions are
// dot-prefixed, lowercase (e.g. ".wav"); maxBytes caps the stored size.
func NewGate(uploadDir string, extensions []string, maxBytes int64) *Gate {
	allowed := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		allowed[strings.ToLower(e)] = true
	}
	return &Gate{uploadDir: uploadDir, allowed: allowed, maxBytes: maxBytes}
}

// Dir returns the upload root path.
func (g *Gate) Dir() string { return g.uploadDir }

// Validate reports whether the filename's extension is on the allow-list.
// Matching is case-insensitive.
func (g *Gate) Validate(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext != "" && g.allowed[ext]
}

// Save stores an upload under a fresh random name keeping the original
// extension, creating the upload root if absent. The write is atomic (temp
// file + rename) and size-capped: an oversized upload is removed before the
// error returns, so no orphaned blob survives a rejection.
func (g *Gate) Save(filename string, r io.Reader) (string, error) {
	if !g.Validate(filename) {
		return "", fmt.Errorf("%w: %s", ErrBadExtension, filepath.Ext(filename))
	}

	if err := os.MkdirAll(g.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", g.uploadDir, err)
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(g.uploadDir, name)

	tmp, err := os.CreateTemp(g.uploadDir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()

	// Copy one byte past the cap so oversize is detectable without
	// trusting a client-supplied length.
	n, err := io.Copy(tmp, io.LimitReader(r, g.maxBytes+1))
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close: %w", err)
	}
	if n > g.maxBytes {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, g.maxBytes)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename: %w", err)
	}
	return path, nil
}

// Size returns the on-disk size of a previously saved blob.
func (g *Gate) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes a saved blob. Missing files are not an error; the file may
// have been cleaned up out-of-band.
func (g *Gate) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
