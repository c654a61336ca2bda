// internal/agent/tokens.go
package agent

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter estimates how many tokens a text consumes.
type TokenCounter interface {
	Count(text string) int
}

// CharCounter approximates one token per four characters.
type CharCounter struct{}

func (CharCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// TiktokenCounter counts with a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns the configured counter. Loading a BPE encoding may
// need network access, so any failure falls back to CharCounter.
func NewTokenCounter(kind, encoding string, logger *zap.Logger) TokenCounter {
	if kind != "tiktoken" {
		return CharCounter{}
	}
	counter, err := NewTiktokenCounter(encoding)
	if err != nil {
		logger.Warn("Falling back to character based token estimate.", zap.Error(err))
		return CharCounter{}
	}
	return counter
}

// messageTokens counts a message including its tool call arguments.
func messageTokens(c TokenCounter, m Message) int {
	n := c.Count(m.Content) + 4
	for _, call := range m.ToolCalls {
		n += c.Count(call.Name) + c.Count(fmt.Sprint(call.Arguments))
	}
	return n
}
