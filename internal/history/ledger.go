// Package history keeps a capped, append-only log of completed runs.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultMaxEntries = 100

// Entry records one completed run. Entries are written once and never
// mutated.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Mode       string         `json:"mode"`
	DryRun     bool           `json:"dry_run"`
	RootFolder string         `json:"root_folder"`
	AudioMode  string         `json:"audio_mode"`
	Bitrate    int            `json:"bitrate"`
	ExitCode   int            `json:"exit_code"`
	Summary    map[string]any `json:"summary,omitempty"`
	Output     string         `json:"output,omitempty"`
}

// Ledger stores entries one JSON document per line, oldest first. Appends
// rewrite the whole file; that is fine because the cap is small and appends
// happen once per completed run.
type Ledger struct {
	path string
	max  int
	mu   sync.Mutex
}

func NewLedger(path string, maxEntries int) *Ledger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Ledger{path: path, max: maxEntries}
}

// Append adds an entry and evicts the oldest ones past the cap.
func (l *Ledger) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := append(l.read(), e)
	if len(entries) > l.max {
		entries = entries[len(entries)-l.max:]
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

// ReadAll returns all entries, oldest first.
func (l *Ledger) ReadAll() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Clear removes the whole log.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (l *Ledger) read() []Entry {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}

	var entries []Entry
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// One bad line must not poison the rest of the log.
			log.Debug().Str("path", l.path).Err(err).Msg("skipping malformed history line")
			continue
		}
		entries = append(entries, e)
	}
	return entries
}
