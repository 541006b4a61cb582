// Package qagen synthesizes question/answer pairs from wiki page text.
//
// The LLM is reached through the narrow Completer interface so the engine
// and tests never depend on a concrete provider.
package qagen

import (
	"context"
	"fmt"

	"github.com/kbsync/kbsync/internal/log"
)

// DefaultMaxContentChars caps how much page text goes into the prompt.
const DefaultMaxContentChars = 5000

// Pair is one synthesized question/answer pair.
type Pair struct {
	Question string
	Answer   string
}

// Completer produces a free-text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const qaPromptTemplate = `Based on the following documentation page, generate question and answer pairs a colleague might ask about this content.

Title: %s

Content:
%s

Rules:
- Generate between 3 and 10 pairs.
- Each question must be answerable from the content alone.
- Answers must be complete, standalone sentences.

Format each pair exactly as:
Q: <question>
A: <answer>`

// Generator turns page text into Q&A pairs via a Completer.
type Generator struct {
	completer       Completer
	logger          log.Logger
	maxContentChars int
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxContentChars overrides the prompt content cap.
func WithMaxContentChars(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxContentChars = n
		}
	}
}

// NewGenerator creates a Generator.
func NewGenerator(completer Completer, logger log.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = log.NewNop()
	}
	g := &Generator{
		completer:       completer,
		logger:          logger,
		maxContentChars: DefaultMaxContentChars,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate synthesizes Q&A pairs for one page. Content beyond the configured
// cap is truncated before prompting. A model that produces no parseable
// pairs yields an empty slice and no error.
func (g *Generator) Generate(ctx context.Context, title, text string) ([]Pair, error) {
	runes := []rune(text)
	if len(runes) > g.maxContentChars {
		runes = runes[:g.maxContentChars]
		g.logger.Debug("content truncated for prompt",
			"title", title, "max_chars", g.maxContentChars)
	}

	prompt := fmt.Sprintf(qaPromptTemplate, title, string(runes))

	raw, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating Q&A for %q: %w", title, err)
	}

	pairs := ParsePairs(raw)
	g.logger.Debug("q&a pairs generated", "title", title, "count", len(pairs))
	return pairs, nil
}
