// internal/agent/compactor.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/canary-cli/internal/config"
)

const redactedPrefix = "[redacted "

// Compactor bounds the history sent to the decision-maker.
type Compactor struct {
	counter   TokenCounter
	head      int
	tail      int
	minLength int
}

// NewCompactor builds a compactor from the compaction settings.
func NewCompactor(cfg config.CompactionConfig, counter TokenCounter) *Compactor {
	if counter == nil {
		counter = CharCounter{}
	}
	return &Compactor{
		counter:   counter,
		head:      cfg.SnapshotHead,
		tail:      cfg.SnapshotTail,
		minLength: cfg.SnapshotMinLength,
	}
}

// Tokens returns the estimated size of a history.
func (c *Compactor) Tokens(history []Message) int {
	total := 0
	for _, m := range history {
		total += messageTokens(c.counter, m)
	}
	return total
}

// Compact returns a copy of history where every snapshot but the newest is
// truncated and, while the total exceeds maxTokens, the oldest redactable
// payloads are replaced with a placeholder. System messages, pinned messages
// and the most recent observation are never changed. When those alone exceed
// maxTokens the compacted history is returned with ErrContextBudgetExceeded.
func (c *Compactor) Compact(history []Message, maxTokens int) ([]Message, error) {
	out := make([]Message, len(history))
	copy(out, history)

	newestSnapshot, newestObservation := -1, -1
	for i, m := range out {
		if m.Snapshot {
			newestSnapshot = i
		}
		if m.Snapshot || m.Role == RoleTool {
			newestObservation = i
		}
	}

	for i := range out {
		if out[i].Snapshot && i != newestSnapshot && !out[i].Pinned {
			out[i].Content = c.truncate(out[i].Content)
		}
	}

	if maxTokens <= 0 {
		return out, nil
	}

	total := c.Tokens(out)
	for i := 0; i < len(out) && total > maxTokens; i++ {
		if !redactable(out[i]) || i == newestObservation || strings.HasPrefix(out[i].Content, redactedPrefix) {
			continue
		}
		before := messageTokens(c.counter, out[i])
		out[i].Content = fmt.Sprintf("%s%d characters]", redactedPrefix, len(out[i].Content))
		total -= before - messageTokens(c.counter, out[i])
	}

	if total > maxTokens {
		return out, fmt.Errorf("%w: %d tokens over a budget of %d", ErrContextBudgetExceeded, total, maxTokens)
	}
	return out, nil
}

// truncate keeps the head and tail of a long snapshot.
func (c *Compactor) truncate(content string) string {
	runes := []rune(content)
	if len(runes) <= c.minLength || len(runes) <= c.head+c.tail {
		return content
	}
	omitted := len(runes) - c.head - c.tail
	return string(runes[:c.head]) +
		fmt.Sprintf("\n... [truncated %d characters] ...\n", omitted) +
		string(runes[len(runes)-c.tail:])
}

func redactable(m Message) bool {
	if m.Role == RoleSystem || m.Pinned {
		return false
	}
	return m.Role == RoleTool || m.Snapshot
}
