// Package syncer drives change-aware synchronization from the wiki into the
// tracking store and the vector collections.
//
// The engine compares each fetched page against its tracking row and only
// regenerates Q&A pairs when the page actually changed: a new version, a
// different content hash, or a page that was previously removed. Everything
// else is skipped, which keeps repeated syncs cheap and idempotent.
package syncer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kbsync/kbsync/internal/confluence"
	"github.com/kbsync/kbsync/internal/log"
	"github.com/kbsync/kbsync/internal/qagen"
	"github.com/kbsync/kbsync/internal/tracker"
	"github.com/kbsync/kbsync/internal/vectorindex"
)

// minTextChars is the minimum extracted text length worth sending to the
// generator. Shorter pages are skipped without touching the tracking store,
// so they are re-evaluated once real content lands.
const minTextChars = 50

// Fetcher retrieves spaces and pages from the wiki.
type Fetcher interface {
	Spaces(ctx context.Context) ([]confluence.Space, error)
	Pages(ctx context.Context, spaceKey string) ([]confluence.Page, error)
	Page(ctx context.Context, pageID string) (*confluence.Page, error)
	PageURL(pageID string) string
}

// Generator produces Q&A pairs from page content.
type Generator interface {
	Generate(ctx context.Context, title, content string) ([]qagen.Pair, error)
}

// TrackingStore is the subset of tracker.Store the engine uses.
type TrackingStore interface {
	GetPage(ctx context.Context, pageID string) (*tracker.PageTracking, error)
	ReplacePage(ctx context.Context, page tracker.PageTracking, units []tracker.QAUnit) ([]string, error)
	RemovePageQA(ctx context.Context, pageID string) ([]string, error)
	SaveCorrection(ctx context.Context, question, answer string) (*tracker.ConfirmedPair, error)
	DeleteConfirmed(ctx context.Context, id int64) (bool, error)
	PurgeInvalidConfirmed(ctx context.Context) (int64, error)
}

// Index is the subset of vectorindex.Collection the engine uses.
type Index interface {
	Add(ctx context.Context, docs []vectorindex.Document) error
	Delete(ctx context.Context, ids []string) error
}

// ConfirmedIndex additionally supports rebuilding, the guaranteed-consistent
// cleanup path after invalid confirmed rows are purged.
type ConfirmedIndex interface {
	Index
	Rebuild(ctx context.Context, source vectorindex.RebuildSource) error
}

// Engine synchronizes wiki pages into the tracking store and vector index.
type Engine struct {
	fetcher         Fetcher
	generator       Generator
	store           TrackingStore
	generated       Index
	confirmed       ConfirmedIndex
	confirmedSource vectorindex.RebuildSource
	limiter         *rate.Limiter
	logger          log.Logger
}

// Config tunes the engine.
type Config struct {
	// SyncDelay is the pause enforced between pages during SyncAll, so a
	// full sync does not hammer the generation backend. Zero disables it.
	SyncDelay time.Duration

	// ConfirmedSource rebuilds the confirmed collection after purges.
	ConfirmedSource vectorindex.RebuildSource
}

// New creates an Engine.
func New(fetcher Fetcher, generator Generator, store TrackingStore,
	generated Index, confirmed ConfirmedIndex, cfg Config, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.SyncDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.SyncDelay), 1)
	}

	return &Engine{
		fetcher:         fetcher,
		generator:       generator,
		store:           store,
		generated:       generated,
		confirmed:       confirmed,
		confirmedSource: cfg.ConfirmedSource,
		limiter:         limiter,
		logger:          logger,
	}
}

// needsSync reports whether a fetched page differs from its tracking row.
func needsSync(existing *tracker.PageTracking, page confluence.Page, contentHash string) bool {
	if existing == nil {
		return true
	}
	if existing.Status == tracker.StatusRemoved {
		return true
	}
	if existing.Version != page.Version {
		return true
	}
	return existing.ContentHash != contentHash
}

// ProcessPage synchronizes a single page. It returns true when the page was
// (re)processed and false when it was skipped, either as unchanged or as too
// short to generate from. With force set, the change check is bypassed.
func (e *Engine) ProcessPage(ctx context.Context, page confluence.Page, force bool) (bool, error) {
	text := confluence.ExtractText(page.Body)
	hash := confluence.ContentHash(text)

	existing, err := e.store.GetPage(ctx, page.ID)
	if err != nil {
		return false, err
	}
	if !force && !needsSync(existing, page, hash) {
		e.logger.Debug("page unchanged, skipping",
			"page_id", page.ID, "version", page.Version)
		return false, nil
	}

	if len([]rune(text)) < minTextChars {
		e.logger.Debug("page content too short for generation",
			"page_id", page.ID, "chars", len([]rune(text)))
		return false, nil
	}

	pairs, err := e.generator.Generate(ctx, page.Title, text)
	if err != nil {
		// Tracked as processed with zero pairs. The next content
		// change retriggers generation.
		e.logger.Warn("qa generation failed",
			"page_id", page.ID, "title", page.Title, "error", err)
		pairs = nil
	}

	url := e.fetcher.PageURL(page.ID)
	units := make([]tracker.QAUnit, 0, len(pairs))
	docs := make([]vectorindex.Document, 0, len(pairs))
	tracking := tracker.PageTracking{
		PageID:      page.ID,
		Title:       page.Title,
		SpaceKey:    page.SpaceKey,
		SpaceName:   page.SpaceName,
		Version:     page.Version,
		ContentHash: hash,
		LastUpdated: page.LastUpdated,
	}
	for i, pair := range pairs {
		unit := tracker.QAUnit{
			PageID:      page.ID,
			Index:       i,
			Question:    pair.Question,
			Answer:      pair.Answer,
			URL:         url,
			VectorDocID: tracker.GeneratedDocID(page.ID, page.Version, i),
		}
		units = append(units, unit)
		docs = append(docs, vectorindex.Document{
			ID:       unit.VectorDocID,
			Content:  tracker.QAContent(unit.Question, unit.Answer),
			Metadata: tracker.GeneratedDocMetadata(tracking, unit),
		})
	}

	// Vectors first. Doc IDs are deterministic per (page, version), so a
	// failure between Add and ReplacePage leaves orphans that the next
	// successful pass deletes as stale.
	if err := e.generated.Add(ctx, docs); err != nil {
		return false, fmt.Errorf("indexing page %s: %w", page.ID, err)
	}

	stale, err := e.store.ReplacePage(ctx, tracking, units)
	if err != nil {
		return false, err
	}
	e.deleteVectors(ctx, e.generated, stale)

	e.logger.Info("page synchronized",
		"page_id", page.ID, "title", page.Title,
		"version", page.Version, "qa_count", len(units))
	return true, nil
}

// UpdatePage fetches one page by ID and reprocesses it unconditionally.
func (e *Engine) UpdatePage(ctx context.Context, pageID string) error {
	page, err := e.fetcher.Page(ctx, pageID)
	if err != nil {
		return fmt.Errorf("fetching page %s: %w", pageID, err)
	}
	_, err = e.ProcessPage(ctx, *page, true)
	return err
}

// RemovePage drops a page's Q&A from the tracking store and the vector
// index. The tracking row is kept with removed status so the page is
// reprocessed if it reappears.
func (e *Engine) RemovePage(ctx context.Context, pageID string) error {
	ids, err := e.store.RemovePageQA(ctx, pageID)
	if err != nil {
		return err
	}
	e.deleteVectors(ctx, e.generated, ids)
	return nil
}

// SaveCorrection stores a confirmed correction and indexes it in the
// confirmed collection. Re-saving a question overwrites its answer and
// reuses the same vector doc ID.
func (e *Engine) SaveCorrection(ctx context.Context, question, answer string) (*tracker.ConfirmedPair, error) {
	pair, err := e.store.SaveCorrection(ctx, question, answer)
	if err != nil {
		return nil, err
	}

	purged, err := e.store.PurgeInvalidConfirmed(ctx)
	if err != nil {
		e.logger.Warn("purging invalid confirmed pairs failed", "error", err)
	}

	doc := vectorindex.Document{
		ID:       tracker.ConfirmedDocID(pair.ID),
		Content:  tracker.QAContent(pair.Question, pair.Answer),
		Metadata: tracker.ConfirmedDocMetadata(*pair),
	}
	if err := e.confirmed.Add(ctx, []vectorindex.Document{doc}); err != nil {
		return nil, fmt.Errorf("indexing correction %d: %w", pair.ID, err)
	}

	// Purged rows leave vectors behind. Rebuilding from the relational
	// table is the guaranteed cleanup path.
	if purged > 0 && e.confirmedSource != nil {
		if err := e.confirmed.Rebuild(ctx, e.confirmedSource); err != nil {
			e.logger.Warn("confirmed collection rebuild failed", "error", err)
		}
	}
	return pair, nil
}

// RemoveConfirmed deletes a confirmed pair and its vector. Returns false
// when the pair did not exist.
func (e *Engine) RemoveConfirmed(ctx context.Context, id int64) (bool, error) {
	deleted, err := e.store.DeleteConfirmed(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}
	e.deleteVectors(ctx, e.confirmed, []string{tracker.ConfirmedDocID(id)})
	return true, nil
}

// deleteVectors removes vectors best-effort. The tracking store is
// authoritative, so a leftover vector is repaired by the next rebuild.
func (e *Engine) deleteVectors(ctx context.Context, index Index, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := index.Delete(ctx, ids); err != nil {
		e.logger.Warn("stale vector cleanup failed",
			"count", len(ids), "error", err)
	}
}
