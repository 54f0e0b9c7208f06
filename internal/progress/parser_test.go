package progress_test

import (
	"strings"
	"testing"

	"github.com/MATXBY/m4brew/internal/progress"

	"github.com/stretchr/testify/require"
)

func TestParserSentinels(t *testing.T) {
	t.Parallel()
	p := &progress.Parser{}

	require.True(t, p.Feed("[12:00:01] BOOK: Alpha"))
	require.True(t, p.Feed("[12:00:02] PATH: /x/Alpha"))
	require.True(t, p.Feed("----------------------------------------"))

	require.Equal(t, "Alpha", p.CurrentLabel)
	require.Equal(t, "/x/Alpha", p.CurrentPath)
	require.Equal(t, 1, p.Current)
}

func TestParserPassThroughLines(t *testing.T) {
	t.Parallel()
	p := &progress.Parser{}

	require.False(t, p.Feed("encoding chapter 3 of 12"))
	require.False(t, p.Feed("[12:00:01] ffmpeg version 6.1"))
	require.False(t, p.Feed(""))
	require.Equal(t, progress.Parser{}, *p)
}

func TestParserShortDividerIgnored(t *testing.T) {
	t.Parallel()
	p := &progress.Parser{}

	require.False(t, p.Feed("----------"))
	require.True(t, p.Feed(strings.Repeat("-", 20)))
	require.True(t, p.Feed("[done] "+strings.Repeat("-", 40)))
	require.Equal(t, 2, p.Current)
}

func TestParserDividerCountsItems(t *testing.T) {
	t.Parallel()
	p := &progress.Parser{}
	divider := strings.Repeat("-", 40)

	p.Feed("BOOK: First")
	p.Feed(divider)
	p.Feed("BOOK: Second")
	p.Feed("PATH: /lib/Second")
	p.Feed(divider)

	require.Equal(t, 2, p.Current)
	require.Equal(t, "Second", p.CurrentLabel)
	require.Equal(t, "/lib/Second", p.CurrentPath)
}

func TestExtractSummaryLastWins(t *testing.T) {
	t.Parallel()
	output := strings.Join([]string{
		"BOOK: Alpha",
		`RESULT: {"success":false,"converted":1}`,
		"some noise",
		`[12:00:09] RESULT: {"success":true,"converted":3}`,
	}, "\n")

	summary := progress.ExtractSummary(output)
	require.NotNil(t, summary)
	require.Equal(t, true, summary["success"])
	require.Equal(t, float64(3), summary["converted"])
}

func TestExtractSummaryEscapedFallback(t *testing.T) {
	t.Parallel()
	output := `RESULT: {\"success\":true,\"skipped\":2}`

	summary := progress.ExtractSummary(output)
	require.NotNil(t, summary)
	require.Equal(t, true, summary["success"])
	require.Equal(t, float64(2), summary["skipped"])
}

func TestExtractSummaryAbsent(t *testing.T) {
	t.Parallel()
	require.Nil(t, progress.ExtractSummary("no sentinel here\nstill nothing"))
	require.Nil(t, progress.ExtractSummary("RESULT: not json at all"))
	require.Nil(t, progress.ExtractSummary(""))
}
