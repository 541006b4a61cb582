package vectorindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the PG querier uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG implements Querier over the vector_documents table.
type PG struct {
	db DB
}

// NewPG creates a PG querier.
func NewPG(db DB) *PG {
	return &PG{db: db}
}

func (p *PG) UpsertVector(ctx context.Context, arg UpsertVectorParams) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO vector_documents (collection, id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE SET
			content    = EXCLUDED.content,
			embedding  = EXCLUDED.embedding,
			metadata   = EXCLUDED.metadata,
			created_at = now()`,
		arg.Collection, arg.ID, arg.Content, arg.Embedding, arg.Metadata)
	if err != nil {
		return fmt.Errorf("upserting vector %s/%s: %w", arg.Collection, arg.ID, err)
	}
	return nil
}

func (p *PG) DeleteVectors(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.Exec(ctx,
		`DELETE FROM vector_documents WHERE collection = $1 AND id = ANY($2)`,
		collection, ids)
	if err != nil {
		return fmt.Errorf("deleting vectors from %s: %w", collection, err)
	}
	return nil
}

func (p *PG) ListVectorIDs(ctx context.Context, collection string) ([]string, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id FROM vector_documents WHERE collection = $1 ORDER BY id`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("listing vector ids of %s: %w", collection, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning vector id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector ids: %w", err)
	}
	return ids, nil
}

func (p *PG) CountVectors(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := p.db.QueryRow(ctx,
		`SELECT count(*) FROM vector_documents WHERE collection = $1`,
		collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting vectors of %s: %w", collection, err)
	}
	return count, nil
}

func (p *PG) SearchVectors(ctx context.Context, arg SearchVectorsParams) ([]SearchVectorsRow, error) {
	// <=> is pgvector cosine distance; similarity = 1 - distance.
	rows, err := p.db.Query(ctx, `
		SELECT id, content, metadata, 1 - (embedding <=> $2) AS similarity
		FROM vector_documents
		WHERE collection = $1
		  AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2
		LIMIT $4`,
		arg.Collection, arg.QueryEmbedding, arg.MinSimilarity, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", arg.Collection, err)
	}
	defer rows.Close()

	var out []SearchVectorsRow
	for rows.Next() {
		var r SearchVectorsRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return out, nil
}

func (p *PG) DropCollection(ctx context.Context, collection string) error {
	_, err := p.db.Exec(ctx,
		`DELETE FROM vector_documents WHERE collection = $1`, collection)
	if err != nil {
		return fmt.Errorf("dropping collection %s: %w", collection, err)
	}
	return nil
}
