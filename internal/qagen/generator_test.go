package qagen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kbsync/kbsync/internal/log"
)

// mockCompleter implements Completer for testing.
type mockCompleter struct {
	response   string
	err        error
	callCount  int
	lastPrompt string
}

func (m *mockCompleter) Complete(_ context.Context, prompt string) (string, error) {
	m.callCount++
	m.lastPrompt = prompt
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func TestGenerator_Generate(t *testing.T) {
	mock := &mockCompleter{
		response: `Q: How do I deploy the service?
A: Run make deploy from the repository root after review.`,
	}
	g := NewGenerator(mock, log.NewNop())

	pairs, err := g.Generate(context.Background(), "Deploy Guide", "Run make deploy to ship the service.")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if mock.callCount != 1 {
		t.Errorf("completer called %d times, want 1", mock.callCount)
	}
	if !strings.Contains(mock.lastPrompt, "Deploy Guide") {
		t.Error("prompt missing page title")
	}
	if !strings.Contains(mock.lastPrompt, "Run make deploy to ship the service.") {
		t.Error("prompt missing page content")
	}
}

func TestGenerator_Generate_TruncatesContent(t *testing.T) {
	mock := &mockCompleter{response: ""}
	g := NewGenerator(mock, log.NewNop(), WithMaxContentChars(100))

	longText := strings.Repeat("x", 500)
	if _, err := g.Generate(context.Background(), "Long Page", longText); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if strings.Contains(mock.lastPrompt, strings.Repeat("x", 101)) {
		t.Error("content was not truncated to the configured cap")
	}
	if !strings.Contains(mock.lastPrompt, strings.Repeat("x", 100)) {
		t.Error("truncated content missing from prompt")
	}
}

func TestGenerator_Generate_CompleterError(t *testing.T) {
	wantErr := errors.New("model unavailable")
	g := NewGenerator(&mockCompleter{err: wantErr}, log.NewNop())

	if _, err := g.Generate(context.Background(), "Any", "text"); !errors.Is(err, wantErr) {
		t.Errorf("Generate() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestGenerator_Generate_UnparseableOutputIsNotAnError(t *testing.T) {
	g := NewGenerator(&mockCompleter{response: "no pairs here"}, log.NewNop())

	pairs, err := g.Generate(context.Background(), "Any", "text")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("expected zero pairs, got %d", len(pairs))
	}
}
