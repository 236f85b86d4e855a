package llm

import (
	"fmt"
	"strings"

	"github.com/RichardoC/tabletalk/internal/models"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many prompt tokens a text costs.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxCounter assumes four characters per token.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// NewTokenCounter returns the model's tiktoken encoding, or ApproxCounter when
// the encoding cannot be loaded.
func NewTokenCounter(model string) (TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return ApproxCounter{}, fmt.Errorf("load tiktoken encoding for %s: %w", model, err)
	}
	return tiktokenCounter{enc: enc}, nil
}

// recentHistory keeps the newest messages whose combined size fits budget,
// returned oldest first.
func recentHistory(history []models.Message, budget int, counter TokenCounter) []models.Message {
	if budget <= 0 {
		return nil
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := counter.Count(formatTurn(history[i]))
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return history[start:]
}

func formatTurn(m models.Message) string {
	return fmt.Sprintf("%s: %s", m.Role, m.Content)
}

func formatHistory(history []models.Message) string {
	var b strings.Builder
	for _, m := range history {
		b.WriteString(formatTurn(m))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
