package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kbsync/kbsync/internal/log"
	"github.com/kbsync/kbsync/internal/tracker"
	"github.com/kbsync/kbsync/internal/vectorindex"
)

type mockRetriever struct {
	results   []vectorindex.Result
	err       error
	callCount int
	lastQuery string
}

func (m *mockRetriever) SearchHealing(ctx context.Context, source vectorindex.RebuildSource,
	query string, opts ...vectorindex.SearchOption) ([]vectorindex.Result, error) {
	m.callCount++
	m.lastQuery = query
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

type mockCompleter struct {
	response   string
	err        error
	lastPrompt string
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.lastPrompt = prompt
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

type nopSource struct{}

func (nopSource) Documents(ctx context.Context) ([]vectorindex.Document, error) { return nil, nil }

func newService(confirmed, generated *mockRetriever, completer *mockCompleter) *Service {
	return New(confirmed, nopSource{}, generated, nopSource{}, completer,
		Config{FallbackContact: "#platform-support"}, log.NewNop())
}

func generatedHit(title string) vectorindex.Result {
	return vectorindex.Result{
		Document: vectorindex.Document{
			ID:      "qa_12345_2_0",
			Content: "Q: How do I deploy?\n\nA: Use the pipeline.",
			Metadata: map[string]string{
				"type":     tracker.DocTypeGenerated,
				"title":    title,
				"space":    "Engineering",
				"url":      "https://wiki.example.com/pages/viewpage.action?pageId=12345",
				"question": "How do I deploy?",
				"answer":   "Use the pipeline.",
			},
		},
		Similarity: 0.85,
	}
}

func confirmedHit() vectorindex.Result {
	return vectorindex.Result{
		Document: vectorindex.Document{
			ID:      "confirmed_7",
			Content: "Q: How do I deploy?\n\nA: Use the NEW pipeline, the old one is gone.",
			Metadata: map[string]string{
				"type":       tracker.DocTypeConfirmed,
				"question":   "How do I deploy?",
				"answer":     "Use the NEW pipeline, the old one is gone.",
				"confidence": "3",
			},
		},
		Similarity: 0.9,
	}
}

func TestService_Answer_ConfirmedTierWins(t *testing.T) {
	confirmed := &mockRetriever{results: []vectorindex.Result{confirmedHit()}}
	generated := &mockRetriever{results: []vectorindex.Result{generatedHit("Deploy Guide")}}
	completer := &mockCompleter{response: "Use the NEW pipeline."}

	resp, err := newService(confirmed, generated, completer).
		Answer(context.Background(), "How do I deploy?", "")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Source != SourceConfirmed {
		t.Errorf("Source = %q, want %q", resp.Source, SourceConfirmed)
	}
	if generated.callCount != 0 {
		t.Errorf("generated tier searched %d times despite confirmed hits, want 0", generated.callCount)
	}
	if !strings.Contains(completer.lastPrompt, "[confirmed]") {
		t.Error("prompt does not mark the confirmed reference")
	}
	if !strings.Contains(completer.lastPrompt, "the old one is gone") {
		t.Error("prompt does not carry the confirmed answer")
	}
	if len(resp.Citations) != 1 || !resp.Citations[0].Confirmed {
		t.Errorf("Citations = %+v, want one confirmed citation", resp.Citations)
	}
}

func TestService_Answer_GeneratedFallback(t *testing.T) {
	confirmed := &mockRetriever{}
	generated := &mockRetriever{results: []vectorindex.Result{generatedHit("Deploy Guide")}}
	completer := &mockCompleter{response: "Use the pipeline."}

	resp, err := newService(confirmed, generated, completer).
		Answer(context.Background(), "How do I deploy?", "")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Source != SourceGenerated {
		t.Errorf("Source = %q, want %q", resp.Source, SourceGenerated)
	}
	if resp.Text != "Use the pipeline." {
		t.Errorf("Text = %q, want completer response", resp.Text)
	}
	if len(resp.Citations) != 1 {
		t.Fatalf("Citations = %+v, want 1", resp.Citations)
	}
	c := resp.Citations[0]
	if c.Title != "Deploy Guide" || c.Space != "Engineering" || c.URL == "" || c.Confirmed {
		t.Errorf("citation = %+v, want page citation with URL", c)
	}
}

func TestService_Answer_NoMatch(t *testing.T) {
	svc := newService(&mockRetriever{}, &mockRetriever{}, &mockCompleter{})

	resp, err := svc.Answer(context.Background(), "What is the meaning of life?", "")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Source != SourceNone {
		t.Errorf("Source = %q, want %q", resp.Source, SourceNone)
	}
	if !strings.Contains(resp.Text, "couldn't find relevant information") {
		t.Errorf("Text = %q, want the no-match message", resp.Text)
	}
	if !strings.Contains(resp.Text, "#platform-support") {
		t.Errorf("Text = %q, want the fallback contact mentioned", resp.Text)
	}
}

func TestService_Answer_NoMatchWithThread(t *testing.T) {
	svc := newService(&mockRetriever{}, &mockRetriever{}, &mockCompleter{})

	resp, err := svc.Answer(context.Background(), "What now?", "earlier discussion")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(resp.Text, "thread") {
		t.Errorf("Text = %q, want the thread-aware no-match message", resp.Text)
	}
}

func TestService_Answer_IndexUnavailable(t *testing.T) {
	confirmed := &mockRetriever{
		err: fmt.Errorf("%w: rebuild failed", vectorindex.ErrIndexUnavailable),
	}
	svc := newService(confirmed, &mockRetriever{}, &mockCompleter{})

	resp, err := svc.Answer(context.Background(), "How do I deploy?", "")
	if err != nil {
		t.Fatalf("Answer() error = %v, want degraded response", err)
	}
	if resp.Source != SourceNone {
		t.Errorf("Source = %q, want %q", resp.Source, SourceNone)
	}
	if !strings.Contains(resp.Text, "temporarily unavailable") {
		t.Errorf("Text = %q, want the unavailable message", resp.Text)
	}
}

func TestService_Answer_SearchError(t *testing.T) {
	confirmed := &mockRetriever{err: errors.New("context canceled")}
	svc := newService(confirmed, &mockRetriever{}, &mockCompleter{})

	if _, err := svc.Answer(context.Background(), "How do I deploy?", ""); err == nil {
		t.Fatal("Answer() succeeded despite non-index search error")
	}
}

func TestService_Answer_CompleterError(t *testing.T) {
	generated := &mockRetriever{results: []vectorindex.Result{generatedHit("Deploy Guide")}}
	completer := &mockCompleter{err: errors.New("model overloaded")}
	svc := newService(&mockRetriever{}, generated, completer)

	if _, err := svc.Answer(context.Background(), "How do I deploy?", ""); err == nil {
		t.Fatal("Answer() succeeded despite completion failure")
	}
}

func TestService_Answer_EmptyQuestion(t *testing.T) {
	svc := newService(&mockRetriever{}, &mockRetriever{}, &mockCompleter{})

	if _, err := svc.Answer(context.Background(), "   ", ""); err == nil {
		t.Fatal("Answer() accepted a blank question")
	}
}

func TestService_Answer_ThreadContextInPrompt(t *testing.T) {
	generated := &mockRetriever{results: []vectorindex.Result{generatedHit("Deploy Guide")}}
	completer := &mockCompleter{response: "ok"}
	svc := newService(&mockRetriever{}, generated, completer)

	if _, err := svc.Answer(context.Background(), "And then?", "user: how do I deploy?"); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(completer.lastPrompt, "Conversation so far:") {
		t.Error("prompt does not include the thread context block")
	}
	if !strings.Contains(completer.lastPrompt, "user: how do I deploy?") {
		t.Error("prompt does not carry the thread content")
	}
}

func TestBuildCitations_DedupeAndCap(t *testing.T) {
	hits := []vectorindex.Result{
		generatedHit("Deploy Guide"),
		generatedHit("Deploy Guide"),
		generatedHit("Runbook"),
		generatedHit("Onboarding"),
		generatedHit("Architecture"),
	}

	citations := buildCitations(hits)
	if len(citations) != 3 {
		t.Fatalf("got %d citations, want capped at 3", len(citations))
	}
	if citations[0].Title != "Deploy Guide" || citations[1].Title != "Runbook" || citations[2].Title != "Onboarding" {
		t.Errorf("citations = %+v, want first three distinct titles in order", citations)
	}
}

func TestBuildCitations_SkipsMissingTitle(t *testing.T) {
	hit := generatedHit("")
	citations := buildCitations([]vectorindex.Result{hit})
	if len(citations) != 0 {
		t.Errorf("citations = %+v, want hits without titles skipped", citations)
	}
}
