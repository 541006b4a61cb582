package tracker

import (
	"context"
	"fmt"

	"github.com/kbsync/kbsync/internal/vectorindex"
)

// GeneratedDocuments returns the full authoritative document set of the
// generated collection: every Q&A unit joined with its page metadata.
func (s *Store) GeneratedDocuments(ctx context.Context) ([]vectorindex.Document, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.page_id, u.qa_index, u.question, u.answer, u.url, u.vector_doc_id,
		       p.title, p.space_key, p.space_name, p.version
		FROM qa_units u
		JOIN page_tracking p USING (page_id)
		ORDER BY u.page_id, u.qa_index`)
	if err != nil {
		return nil, fmt.Errorf("loading generated documents: %w", err)
	}
	defer rows.Close()

	var docs []vectorindex.Document
	for rows.Next() {
		var u QAUnit
		var p PageTracking
		if err := rows.Scan(&u.PageID, &u.Index, &u.Question, &u.Answer, &u.URL,
			&u.VectorDocID, &p.Title, &p.SpaceKey, &p.SpaceName, &p.Version); err != nil {
			return nil, fmt.Errorf("scanning generated document: %w", err)
		}
		p.PageID = u.PageID
		docs = append(docs, vectorindex.Document{
			ID:       u.VectorDocID,
			Content:  QAContent(u.Question, u.Answer),
			Metadata: GeneratedDocMetadata(p, u),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating generated documents: %w", err)
	}
	return docs, nil
}

// ConfirmedDocuments returns the full authoritative document set of the
// confirmed collection.
func (s *Store) ConfirmedDocuments(ctx context.Context) ([]vectorindex.Document, error) {
	pairs, err := s.ListConfirmed(ctx)
	if err != nil {
		return nil, err
	}

	docs := make([]vectorindex.Document, 0, len(pairs))
	for _, pair := range pairs {
		docs = append(docs, vectorindex.Document{
			ID:       ConfirmedDocID(pair.ID),
			Content:  QAContent(pair.Question, pair.Answer),
			Metadata: ConfirmedDocMetadata(pair),
		})
	}
	return docs, nil
}

type generatedSource struct{ store *Store }

func (g generatedSource) Documents(ctx context.Context) ([]vectorindex.Document, error) {
	return g.store.GeneratedDocuments(ctx)
}

type confirmedSource struct{ store *Store }

func (c confirmedSource) Documents(ctx context.Context) ([]vectorindex.Document, error) {
	return c.store.ConfirmedDocuments(ctx)
}

// GeneratedSource adapts the store as the rebuild source of the generated
// collection.
func (s *Store) GeneratedSource() vectorindex.RebuildSource {
	return generatedSource{store: s}
}

// ConfirmedSource adapts the store as the rebuild source of the confirmed
// collection.
func (s *Store) ConfirmedSource() vectorindex.RebuildSource {
	return confirmedSource{store: s}
}
