// Package progress turns the toolbox script's raw output into structured
// progress state.
package progress

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Sentinel prefixes emitted by the toolbox script. The script prepends a
// bracketed timestamp to most lines, which is stripped before matching.
const (
	labelSentinel   = "BOOK: "
	pathSentinel    = "PATH: "
	summarySentinel = "RESULT: "
)

// A run of at least this many divider characters marks one finished item.
const (
	dividerChar   = '-'
	dividerMinLen = 20
)

var logPrefixRe = regexp.MustCompile(`^\[[^\]]*\] `)

// Parser accumulates per-item progress from a stream of output lines.
type Parser struct {
	Current      int
	CurrentLabel string
	CurrentPath  string
}

// Feed classifies one line and reports whether parser state changed. Lines
// that match no rule pass through untouched.
func (p *Parser) Feed(line string) bool {
	line = strings.TrimRight(line, "\r")
	line = logPrefixRe.ReplaceAllString(line, "")

	switch {
	case isDivider(line):
		p.Current++
	case strings.HasPrefix(line, labelSentinel):
		p.CurrentLabel = strings.TrimSpace(strings.TrimPrefix(line, labelSentinel))
	case strings.HasPrefix(line, pathSentinel):
		p.CurrentPath = strings.TrimSpace(strings.TrimPrefix(line, pathSentinel))
	default:
		return false
	}
	return true
}

func isDivider(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < dividerMinLen {
		return false
	}
	for _, c := range line {
		if c != dividerChar {
			return false
		}
	}
	return true
}

// ExtractSummary scans a full output capture for the last summary sentinel
// and parses its JSON payload. The script may emit intermediate snapshots;
// only the final one is authoritative. A missing or unparseable summary
// yields nil, not an error.
func ExtractSummary(output string) map[string]any {
	var payload string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(logPrefixRe.ReplaceAllString(strings.TrimRight(line, "\r"), ""))
		if strings.HasPrefix(line, summarySentinel) {
			payload = strings.TrimPrefix(line, summarySentinel)
		}
	}
	if payload == "" {
		return nil
	}

	var summary map[string]any
	if err := json.Unmarshal([]byte(payload), &summary); err == nil {
		return summary
	}

	// The script has historically emitted the payload with shell-escaped
	// quotes. Undo that once and retry.
	unescaped := strings.ReplaceAll(payload, `\"`, `"`)
	if err := json.Unmarshal([]byte(unescaped), &summary); err == nil {
		return summary
	}
	return nil
}
