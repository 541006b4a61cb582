package qagen

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitCompleter implements Completer on top of a Genkit instance.
type GenkitCompleter struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitCompleter creates a Completer bound to a provider-qualified
// model name, e.g. "googleai/gemini-2.5-flash" or "ollama/llama3.3".
func NewGenkitCompleter(g *genkit.Genkit, modelName string) *GenkitCompleter {
	return &GenkitCompleter{g: g, modelName: modelName}
}

// Complete runs a single-turn generation and returns the text response.
func (c *GenkitCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generate with %s: %w", c.modelName, err)
	}
	return resp.Text(), nil
}
