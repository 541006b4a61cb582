// Package tracker is the relational tracking store: page snapshots,
// generated Q&A units with provenance, and manually confirmed corrections.
//
// The tracker is authoritative. Vector collections are derived from its
// tables and can always be rebuilt from them.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kbsync/kbsync/internal/log"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store provides access to the tracking tables.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     DB
	logger log.Logger
}

// New creates a Store.
func New(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// GetPage returns the tracking row for a page, or nil when the page was
// never processed.
func (s *Store) GetPage(ctx context.Context, pageID string) (*PageTracking, error) {
	row := s.db.QueryRow(ctx, `
		SELECT page_id, title, space_key, space_name, version, content_hash,
		       last_updated, qa_count, last_processed, status
		FROM page_tracking
		WHERE page_id = $1`, pageID)

	var p PageTracking
	var lastUpdated, lastProcessed pgtype.Timestamptz
	err := row.Scan(&p.PageID, &p.Title, &p.SpaceKey, &p.SpaceName, &p.Version,
		&p.ContentHash, &lastUpdated, &p.QACount, &lastProcessed, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading tracking row for page %s: %w", pageID, err)
	}

	if lastUpdated.Valid {
		p.LastUpdated = lastUpdated.Time
	}
	if lastProcessed.Valid {
		p.LastProcessed = lastProcessed.Time
	}
	return &p, nil
}

// ReplacePage atomically replaces a page's tracking row and Q&A units with
// a new fully-processed snapshot. It returns the vector doc IDs of the old
// units that are NOT part of the new snapshot, so the caller can delete
// them from the vector index best-effort.
//
// The transaction guarantees the tracking row never reflects a partially
// applied snapshot.
func (s *Store) ReplacePage(ctx context.Context, page PageTracking, units []QAUnit) ([]string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	oldIDs, err := vectorDocIDs(ctx, tx, page.PageID)
	if err != nil {
		return nil, err
	}

	lastUpdated := pgtype.Timestamptz{Time: page.LastUpdated, Valid: !page.LastUpdated.IsZero()}
	status := page.Status
	if status == "" {
		status = StatusProcessed
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO page_tracking
			(page_id, title, space_key, space_name, version, content_hash,
			 last_updated, qa_count, last_processed, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), $9)
		ON CONFLICT (page_id) DO UPDATE SET
			title          = EXCLUDED.title,
			space_key      = EXCLUDED.space_key,
			space_name     = EXCLUDED.space_name,
			version        = EXCLUDED.version,
			content_hash   = EXCLUDED.content_hash,
			last_updated   = EXCLUDED.last_updated,
			qa_count       = EXCLUDED.qa_count,
			last_processed = now(),
			status         = EXCLUDED.status`,
		page.PageID, page.Title, page.SpaceKey, page.SpaceName, page.Version,
		page.ContentHash, lastUpdated, len(units), status)
	if err != nil {
		return nil, fmt.Errorf("upserting tracking row for page %s: %w", page.PageID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM qa_units WHERE page_id = $1`, page.PageID); err != nil {
		return nil, fmt.Errorf("deleting old qa units of page %s: %w", page.PageID, err)
	}

	newIDs := make(map[string]bool, len(units))
	for _, u := range units {
		newIDs[u.VectorDocID] = true
		_, err := tx.Exec(ctx, `
			INSERT INTO qa_units (page_id, qa_index, question, answer, url, vector_doc_id)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			u.PageID, u.Index, u.Question, u.Answer, u.URL, u.VectorDocID)
		if err != nil {
			return nil, fmt.Errorf("inserting qa unit %s: %w", u.VectorDocID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing replace for page %s: %w", page.PageID, err)
	}

	var stale []string
	for _, id := range oldIDs {
		if !newIDs[id] {
			stale = append(stale, id)
		}
	}

	s.logger.Debug("page snapshot replaced",
		"page_id", page.PageID, "version", page.Version,
		"qa_count", len(units), "stale_vectors", len(stale))
	return stale, nil
}

// RemovePageQA deletes a page's Q&A units and flips its tracking row to
// removed with qa_count 0. The row itself is kept so a restored page is
// reprocessed. Returns the vector doc IDs of the deleted units.
func (s *Store) RemovePageQA(ctx context.Context, pageID string) ([]string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning remove transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	oldIDs, err := vectorDocIDs(ctx, tx, pageID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM qa_units WHERE page_id = $1`, pageID); err != nil {
		return nil, fmt.Errorf("deleting qa units of page %s: %w", pageID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE page_tracking
		SET status = $2, qa_count = 0, last_processed = now()
		WHERE page_id = $1`, pageID, StatusRemoved)
	if err != nil {
		return nil, fmt.Errorf("marking page %s removed: %w", pageID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing removal of page %s: %w", pageID, err)
	}

	s.logger.Info("page q&a removed", "page_id", pageID, "units", len(oldIDs))
	return oldIDs, nil
}

// ListQAUnits returns the Q&A units of one page ordered by index.
func (s *Store) ListQAUnits(ctx context.Context, pageID string) ([]QAUnit, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, page_id, qa_index, question, answer, url, vector_doc_id, created_at
		FROM qa_units
		WHERE page_id = $1
		ORDER BY qa_index`, pageID)
	if err != nil {
		return nil, fmt.Errorf("listing qa units of page %s: %w", pageID, err)
	}
	defer rows.Close()

	return scanQAUnits(rows)
}

// Summary aggregates the tracking tables for the status command.
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	var sum Summary

	err := s.db.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = $1),
			(SELECT count(*) FROM qa_units),
			(SELECT count(*) FROM confirmed_qa)
		FROM page_tracking`, StatusRemoved).
		Scan(&sum.Pages, &sum.RemovedPages, &sum.QAUnits, &sum.ConfirmedPairs)
	if err != nil {
		return nil, fmt.Errorf("loading tracking summary: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT p.space_key, count(DISTINCT p.page_id), count(u.id)
		FROM page_tracking p
		LEFT JOIN qa_units u USING (page_id)
		GROUP BY p.space_key
		ORDER BY p.space_key`)
	if err != nil {
		return nil, fmt.Errorf("loading space summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc SpaceCount
		if err := rows.Scan(&sc.SpaceKey, &sc.Pages, &sc.QAUnits); err != nil {
			return nil, fmt.Errorf("scanning space summary: %w", err)
		}
		sum.Spaces = append(sum.Spaces, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating space summary: %w", err)
	}

	return &sum, nil
}

// vectorDocIDs returns the vector doc IDs currently recorded for a page.
func vectorDocIDs(ctx context.Context, tx pgx.Tx, pageID string) ([]string, error) {
	rows, err := tx.Query(ctx,
		`SELECT vector_doc_id FROM qa_units WHERE page_id = $1`, pageID)
	if err != nil {
		return nil, fmt.Errorf("listing vector doc ids of page %s: %w", pageID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning vector doc id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector doc ids: %w", err)
	}
	return ids, nil
}

func scanQAUnits(rows pgx.Rows) ([]QAUnit, error) {
	var units []QAUnit
	for rows.Next() {
		var u QAUnit
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(&u.ID, &u.PageID, &u.Index, &u.Question, &u.Answer,
			&u.URL, &u.VectorDocID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning qa unit: %w", err)
		}
		if createdAt.Valid {
			u.CreatedAt = createdAt.Time
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating qa units: %w", err)
	}
	return units, nil
}
