// Package answer turns a user question into a grounded response.
//
// Retrieval is two-tiered: manually confirmed corrections are searched
// first and, when any match, answer the question exclusively. Only when no
// confirmed pair matches does the service fall back to the generated Q&A
// collection. Both searches self-heal through the collections' rebuild
// path, so a corrupted index degrades to one rebuild, not an outage.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kbsync/kbsync/internal/log"
	"github.com/kbsync/kbsync/internal/qagen"
	"github.com/kbsync/kbsync/internal/tracker"
	"github.com/kbsync/kbsync/internal/vectorindex"
)

// Source identifies which tier produced a response.
const (
	SourceConfirmed = "confirmed"
	SourceGenerated = "generated"
	SourceNone      = "none"
)

// maxCitations caps how many distinct pages a response cites.
const maxCitations = 3

// Retriever is the subset of vectorindex.Collection the service uses.
type Retriever interface {
	SearchHealing(ctx context.Context, source vectorindex.RebuildSource, query string, opts ...vectorindex.SearchOption) ([]vectorindex.Result, error)
}

// Citation points a response back at its supporting material.
type Citation struct {
	Title     string `json:"title"`
	Space     string `json:"space,omitempty"`
	URL       string `json:"url,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
}

// Response is a complete answer with provenance.
type Response struct {
	Text      string     `json:"text"`
	Source    string     `json:"source"`
	Citations []Citation `json:"citations,omitempty"`
}

// Config tunes retrieval.
type Config struct {
	// ConfirmedTopK limits the confirmed-tier search. Defaults to 3.
	ConfirmedTopK int32
	// GeneratedTopK limits the generated-tier search. Defaults to 5.
	GeneratedTopK int32
	// ScoreThreshold is the cosine-similarity floor for both tiers.
	// Defaults to 0.6.
	ScoreThreshold float32
	// FallbackContact is named in the no-match response, e.g. a team
	// channel. Empty omits the referral sentence.
	FallbackContact string
}

// Service answers questions from the knowledge base.
type Service struct {
	confirmed       Retriever
	confirmedSource vectorindex.RebuildSource
	generated       Retriever
	generatedSource vectorindex.RebuildSource
	completer       qagen.Completer
	cfg             Config
	logger          log.Logger
}

// New creates a Service.
func New(confirmed Retriever, confirmedSource vectorindex.RebuildSource,
	generated Retriever, generatedSource vectorindex.RebuildSource,
	completer qagen.Completer, cfg Config, logger log.Logger) *Service {
	if cfg.ConfirmedTopK <= 0 {
		cfg.ConfirmedTopK = 3
	}
	if cfg.GeneratedTopK <= 0 {
		cfg.GeneratedTopK = 5
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.6
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		confirmed:       confirmed,
		confirmedSource: confirmedSource,
		generated:       generated,
		generatedSource: generatedSource,
		completer:       completer,
		cfg:             cfg,
		logger:          logger,
	}
}

// Answer responds to a question. threadContext carries preceding
// conversation turns and may be empty.
func (s *Service) Answer(ctx context.Context, question, threadContext string) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question must not be empty")
	}

	hits, err := s.confirmed.SearchHealing(ctx, s.confirmedSource, question,
		vectorindex.WithTopK(s.cfg.ConfirmedTopK),
		vectorindex.WithMinSimilarity(s.cfg.ScoreThreshold))
	if err != nil {
		return s.unavailable(err)
	}
	if len(hits) > 0 {
		s.logger.Info("answering from confirmed tier",
			"question_len", len(question), "hits", len(hits))
		return s.respond(ctx, question, threadContext, hits, SourceConfirmed)
	}

	hits, err = s.generated.SearchHealing(ctx, s.generatedSource, question,
		vectorindex.WithTopK(s.cfg.GeneratedTopK),
		vectorindex.WithMinSimilarity(s.cfg.ScoreThreshold))
	if err != nil {
		return s.unavailable(err)
	}
	if len(hits) == 0 {
		s.logger.Info("no relevant knowledge found", "question_len", len(question))
		return &Response{Text: s.noMatchMessage(threadContext), Source: SourceNone}, nil
	}

	s.logger.Info("answering from generated tier",
		"question_len", len(question), "hits", len(hits))
	return s.respond(ctx, question, threadContext, hits, SourceGenerated)
}

func (s *Service) respond(ctx context.Context, question, threadContext string,
	hits []vectorindex.Result, source string) (*Response, error) {
	prompt := buildPrompt(question, threadContext, hits)

	text, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	return &Response{
		Text:      strings.TrimSpace(text),
		Source:    source,
		Citations: buildCitations(hits),
	}, nil
}

func (s *Service) unavailable(err error) (*Response, error) {
	if !errors.Is(err, vectorindex.ErrIndexUnavailable) {
		return nil, err
	}
	s.logger.Error("knowledge base unavailable", "error", err)
	return &Response{
		Text:   "The knowledge base is temporarily unavailable. Please try again in a few minutes.",
		Source: SourceNone,
	}, nil
}

func (s *Service) noMatchMessage(threadContext string) string {
	var b strings.Builder
	if threadContext != "" {
		b.WriteString("I couldn't find anything in the knowledge base relevant to this thread's question.")
	} else {
		b.WriteString("I couldn't find relevant information in the knowledge base for this question.")
	}
	if s.cfg.FallbackContact != "" {
		b.WriteString(" Please reach out to ")
		b.WriteString(s.cfg.FallbackContact)
		b.WriteString(" for help.")
	}
	return b.String()
}

// buildCitations dedupes hits by (title, space) and keeps the first
// maxCitations. Confirmed hits cite the corrected question itself.
func buildCitations(hits []vectorindex.Result) []Citation {
	seen := make(map[string]bool, len(hits))
	var citations []Citation
	for _, hit := range hits {
		meta := hit.Document.Metadata

		var c Citation
		if meta["type"] == tracker.DocTypeConfirmed {
			c = Citation{Title: meta["question"], Confirmed: true}
		} else {
			c = Citation{Title: meta["title"], Space: meta["space"], URL: meta["url"]}
		}
		if c.Title == "" {
			continue
		}

		key := c.Title + "\x00" + c.Space
		if seen[key] {
			continue
		}
		seen[key] = true

		citations = append(citations, c)
		if len(citations) == maxCitations {
			break
		}
	}
	return citations
}
