// Package scan produces advisory work-item counts for a library pass. The
// numbers size progress bars only; the script remains the authority on what
// actually needs doing.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// BackupSuffix marks directories the toolbox leaves behind before a cleanup
// pass removes them.
const BackupSuffix = "_backup"

var audioInputExts = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".flac": true,
	".ogg":  true,
	".wav":  true,
}

// EstimateTotal walks root and counts the items a run of the given mode is
// expected to touch. Any failure, including a missing root, yields 0.
func EstimateTotal(root, mode string) int {
	switch mode {
	case "cleanup":
		return countBackupDirs(root)
	case "correct":
		return countMisnamed(root)
	case "convert":
		return countConvertible(root)
	}
	return 0
}

func countBackupDirs(root string) int {
	n := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), BackupSuffix) {
			n++
			return fs.SkipDir
		}
		return nil
	})
	return n
}

// countMisnamed counts book directories whose name diverges from the name
// derived from their m4b file.
func countMisnamed(root string) int {
	n := 0
	walkBookDirs(root, func(dir string, entries []fs.DirEntry) {
		canonical := canonicalName(entries)
		if canonical != "" && filepath.Base(dir) != canonical {
			n++
		}
	})
	return n
}

// countConvertible counts book directories that have qualifying audio inputs
// but no m4b output yet.
func countConvertible(root string) int {
	n := 0
	walkBookDirs(root, func(dir string, entries []fs.DirEntry) {
		hasInput, hasOutput := false, false
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext == ".m4b" {
				hasOutput = true
			} else if audioInputExts[ext] {
				hasInput = true
			}
		}
		if hasInput && !hasOutput {
			n++
		}
	})
	return n
}

// walkBookDirs visits every directory under root except backup leftovers.
func walkBookDirs(root string, fn func(dir string, entries []fs.DirEntry)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), BackupSuffix) {
			return fs.SkipDir
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil
		}
		fn(path, entries)
		return nil
	})
}

func canonicalName(entries []fs.DirEntry) string {
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".m4b") {
			return strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
	}
	return ""
}
