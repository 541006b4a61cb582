// Package vectorindex manages named vector collections backed by
// PostgreSQL + pgvector.
//
// A Collection is a derived index: the relational store is authoritative
// and every collection can be rebuilt losslessly from a RebuildSource.
package vectorindex

import (
	"context"
	"errors"

	"github.com/pgvector/pgvector-go"
)

// Dimension is the embedding dimension of the vector_documents schema.
const Dimension = 768

// Collection names used by the application.
const (
	CollectionGenerated = "generated"
	CollectionConfirmed = "confirmed"
)

// ErrIndexUnavailable reports that a collection failed and could not be
// restored by rebuilding from its relational source.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Document is one entry in a collection. IDs are deterministic so upserts
// are idempotent.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result is a search hit with its cosine similarity (1 = identical).
type Result struct {
	Document   Document
	Similarity float32
}

// RebuildSource supplies the full authoritative document set of a
// collection, used for drop-and-repopulate rebuilds.
type RebuildSource interface {
	Documents(ctx context.Context) ([]Document, error)
}

// UpsertVectorParams are the arguments for Querier.UpsertVector.
type UpsertVectorParams struct {
	Collection string
	ID         string
	Content    string
	Embedding  *pgvector.Vector
	Metadata   []byte
}

// SearchVectorsParams are the arguments for Querier.SearchVectors.
type SearchVectorsParams struct {
	Collection     string
	QueryEmbedding *pgvector.Vector
	MinSimilarity  float32
	ResultLimit    int32
}

// SearchVectorsRow is one row returned by Querier.SearchVectors.
type SearchVectorsRow struct {
	ID         string
	Content    string
	Metadata   []byte
	Similarity float32
}

// Querier defines the database operations a Collection needs.
// Following Go best practices: interfaces are defined by the consumer,
// not the provider, which keeps Collection testable without a database.
type Querier interface {
	// UpsertVector inserts or replaces one document row.
	UpsertVector(ctx context.Context, arg UpsertVectorParams) error

	// DeleteVectors removes the given document IDs from a collection.
	DeleteVectors(ctx context.Context, collection string, ids []string) error

	// ListVectorIDs returns all document IDs of a collection.
	ListVectorIDs(ctx context.Context, collection string) ([]string, error)

	// CountVectors returns the number of documents in a collection.
	CountVectors(ctx context.Context, collection string) (int64, error)

	// SearchVectors performs cosine-similarity search above a threshold.
	SearchVectors(ctx context.Context, arg SearchVectorsParams) ([]SearchVectorsRow, error)

	// DropCollection removes every document of a collection.
	DropCollection(ctx context.Context, collection string) error
}
