// Package store persists small JSON documents with atomic-replace semantics.
package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Document is a single JSON value backed by one file. Writes go to a temp
// file and are renamed into place, so a concurrent reader never observes a
// partial document.
type Document[T any] struct {
	path      string
	normalize func(T) T

	mu      sync.Mutex
	lastSum [sha256.Size]byte
	hasSum  bool
}

// NewDocument creates a store for one value at path. The optional normalize
// func clears freshness-only fields before the redundant-write check, so a
// value that differs only in those fields is not rewritten.
func NewDocument[T any](path string, normalize func(T) T) *Document[T] {
	return &Document[T]{path: path, normalize: normalize}
}

func (d *Document[T]) Path() string { return d.path }

// Load returns the stored value and true, or the zero value and false when
// the file is missing or unreadable. Corruption is logged, never propagated.
func (d *Document[T]) Load() (T, bool) {
	var v T
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().Str("path", d.path).Err(err).Msg("corrupt document, treating as empty")
		var zero T
		return zero, false
	}
	return v, true
}

// Save writes the value atomically. The write is skipped when the normalized
// serialization matches the previous save.
func (d *Document[T]) Save(v T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	norm := v
	if d.normalize != nil {
		norm = d.normalize(v)
	}
	fp, err := json.Marshal(norm)
	if err != nil {
		return fmt.Errorf("fingerprint document: %w", err)
	}
	sum := sha256.Sum256(fp)
	if d.hasSum && sum == d.lastSum {
		return nil
	}

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}

	d.lastSum, d.hasSum = sum, true
	return nil
}

// Delete removes the backing file. A missing file is not an error.
func (d *Document[T]) Delete() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hasSum = false
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
