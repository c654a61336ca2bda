package agent

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactorTruncatesOlderSnapshots(t *testing.T) {
	c := testCompactor()
	older := strings.Repeat("a", 100) + strings.Repeat("m", 150) + strings.Repeat("z", 100)
	short := strings.Repeat("s", 300)
	newest := strings.Repeat("n", 1000)

	history := []Message{
		{Role: RoleSystem, Content: "instructions"},
		{Role: RoleTool, Content: older, Snapshot: true, ToolName: "get_page_html"},
		{Role: RoleTool, Content: short, Snapshot: true, ToolName: "get_page_html"},
		{Role: RoleTool, Content: "OK", ToolName: "click"},
		{Role: RoleTool, Content: newest, Snapshot: true, ToolName: "get_page_html"},
	}

	out, err := c.Compact(history, 0)
	require.NoError(t, err)

	want := strings.Repeat("a", 100) + "\n... [truncated 150 characters] ...\n" + strings.Repeat("z", 100)
	assert.Equal(t, want, out[1].Content)
	assert.Equal(t, short, out[2].Content, "snapshots at or under the minimum length are kept")
	assert.Equal(t, newest, out[4].Content, "the newest snapshot is kept in full")
	assert.Equal(t, older, history[1].Content, "the input is not modified")
}

func TestCompactorBudget(t *testing.T) {
	c := testCompactor()
	big := strings.Repeat("x", 4000)
	history := []Message{
		{Role: RoleSystem, Content: "instructions"},
		{Role: RoleUser, Content: "task", Pinned: true},
		{Role: RoleTool, Content: big, ToolName: "check_submit_button_present"},
		{Role: RoleTool, Content: big, ToolName: "navigate"},
		{Role: RoleAssistant, Content: "thinking"},
		{Role: RoleTool, Content: big, ToolName: "navigate"},
	}

	out, err := c.Compact(history, 1200)
	require.NoError(t, err)

	assert.LessOrEqual(t, c.Tokens(out), 1200)
	assert.Equal(t, "instructions", out[0].Content)
	assert.Equal(t, "task", out[1].Content)
	assert.Equal(t, "[redacted 4000 characters]", out[2].Content)
	assert.Equal(t, "[redacted 4000 characters]", out[3].Content)
	assert.Equal(t, big, out[5].Content, "the most recent observation is never redacted")

	// Roles, order and tool names survive compaction.
	shape := func(ms []Message) []string {
		var s []string
		for _, m := range ms {
			s = append(s, string(m.Role)+":"+m.ToolName)
		}
		return s
	}
	if diff := cmp.Diff(shape(history), shape(out)); diff != "" {
		t.Errorf("compaction changed the history shape (-want +got):\n%s", diff)
	}
}

func TestCompactorOnlyRedactsWhatIsNeeded(t *testing.T) {
	c := testCompactor()
	history := []Message{
		{Role: RoleSystem, Content: "instructions"},
		{Role: RoleTool, Content: strings.Repeat("a", 400)},
		{Role: RoleTool, Content: strings.Repeat("b", 400)},
		{Role: RoleTool, Content: "OK"},
	}

	out, err := c.Compact(history, 150)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out[1].Content, redactedPrefix))
	assert.Equal(t, strings.Repeat("b", 400), out[2].Content, "oldest payloads go first")
}

func TestCompactorProtectedContentOverBudget(t *testing.T) {
	c := testCompactor()
	history := []Message{
		{Role: RoleSystem, Content: strings.Repeat("i", 2000)},
		{Role: RoleTool, Content: strings.Repeat("o", 2000)},
	}

	out, err := c.Compact(history, 100)
	assert.ErrorIs(t, err, ErrContextBudgetExceeded)
	require.Len(t, out, 2)
	assert.Equal(t, history[0].Content, out[0].Content)
	assert.Equal(t, history[1].Content, out[1].Content)
}

func TestCharCounter(t *testing.T) {
	assert.Equal(t, 0, CharCounter{}.Count(""))
	assert.Equal(t, 1, CharCounter{}.Count("abc"))
	assert.Equal(t, 2, CharCounter{}.Count("abcdefgh"))
}
