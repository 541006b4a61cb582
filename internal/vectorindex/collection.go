package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/kbsync/kbsync/internal/log"
)

// Collection is one named vector collection with embed-on-write semantics.
//
// Collection is safe for concurrent use. Rebuilds hold a per-collection
// mutex so they never interleave with upserts or deletes.
type Collection struct {
	name     string
	queries  Querier
	embedder ai.Embedder
	logger   log.Logger

	mu sync.Mutex
}

// NewCollection creates a Collection.
func NewCollection(name string, queries Querier, embedder ai.Embedder, logger log.Logger) *Collection {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Collection{
		name:     name,
		queries:  queries,
		embedder: embedder,
		logger:   logger.With("collection", name),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Add embeds and upserts documents. Deterministic IDs make the operation
// idempotent: re-adding the same snapshot replaces rows in place.
func (c *Collection) Add(ctx context.Context, docs []Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(ctx, docs)
}

func (c *Collection) addLocked(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		embedding, err := c.embedText(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embedding document %q: %w", doc.ID, err)
		}

		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata of %q: %w", doc.ID, err)
		}

		if err := c.queries.UpsertVector(ctx, UpsertVectorParams{
			Collection: c.name,
			ID:         doc.ID,
			Content:    doc.Content,
			Embedding:  embedding,
			Metadata:   metadataJSON,
		}); err != nil {
			return err
		}
	}

	c.logger.Debug("documents upserted", "count", len(docs))
	return nil
}

// Delete removes documents by ID. Missing IDs are not an error.
func (c *Collection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.queries.DeleteVectors(ctx, c.name, ids); err != nil {
		return err
	}
	c.logger.Debug("documents deleted", "count", len(ids))
	return nil
}

// IDs returns all document IDs, used for emptiness checks and stale-entry
// diffing.
func (c *Collection) IDs(ctx context.Context) ([]string, error) {
	return c.queries.ListVectorIDs(ctx, c.name)
}

// Count returns the number of documents in the collection.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	return c.queries.CountVectors(ctx, c.name)
}

// Drop removes every document of the collection.
func (c *Collection) Drop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries.DropCollection(ctx, c.name)
}

// Search performs cosine-similarity search above the configured threshold.
// A per-search timeout keeps slow vector queries from blocking callers.
func (c *Collection) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := c.embedText(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := c.queries.SearchVectors(queryCtx, SearchVectorsParams{
		Collection:     c.name,
		QueryEmbedding: embedding,
		MinSimilarity:  cfg.minSimilarity,
		ResultLimit:    cfg.topK,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]string
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			c.logger.Warn("failed to parse metadata", "document_id", row.ID, "error", err)
			metadata = make(map[string]string)
		}
		results = append(results, Result{
			Document: Document{
				ID:       row.ID,
				Content:  row.Content,
				Metadata: metadata,
			},
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// Rebuild drops the collection and repopulates it from source. It is
// idempotent and re-entrant; failed or killed rebuilds can simply be rerun.
func (c *Collection) Rebuild(ctx context.Context, source RebuildSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs, err := source.Documents(ctx)
	if err != nil {
		return fmt.Errorf("loading rebuild source for %s: %w", c.name, err)
	}

	if err := c.queries.DropCollection(ctx, c.name); err != nil {
		return err
	}

	if err := c.addLocked(ctx, docs); err != nil {
		return fmt.Errorf("repopulating %s: %w", c.name, err)
	}

	c.logger.Info("collection rebuilt", "documents", len(docs))
	return nil
}

// SearchHealing is Search with one self-heal attempt: on failure the
// collection is rebuilt from source and the search retried once. If the
// rebuild or the retry fails, the error wraps ErrIndexUnavailable.
func (c *Collection) SearchHealing(ctx context.Context, source RebuildSource, query string, opts ...SearchOption) ([]Result, error) {
	results, err := c.Search(ctx, query, opts...)
	if err == nil {
		return results, nil
	}

	c.logger.Warn("search failed, rebuilding collection", "error", err)

	if rerr := c.Rebuild(ctx, source); rerr != nil {
		return nil, fmt.Errorf("%w: rebuild after failed search: %v", ErrIndexUnavailable, rerr)
	}

	results, err = c.Search(ctx, query, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: search after rebuild: %v", ErrIndexUnavailable, err)
	}
	return results, nil
}

// EnsureReady rebuilds an empty collection from source. Called at startup
// so a fresh database serves answers without waiting for the next write.
func (c *Collection) EnsureReady(ctx context.Context, source RebuildSource) error {
	count, err := c.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	c.logger.Info("collection empty, rebuilding from relational store")
	return c.Rebuild(ctx, source)
}

// embedText generates the embedding vector for one text.
func (c *Collection) embedText(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{
				Content: []*ai.Part{ai.NewTextPart(text)},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	v := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &v, nil
}
