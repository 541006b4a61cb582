package syncer

import (
	"context"
	"fmt"
	"time"
)

// Result summarizes a full synchronization run.
type Result struct {
	PagesSeen    int           `json:"pages_seen"`
	PagesSynced  int           `json:"pages_synced"`
	PagesSkipped int           `json:"pages_skipped"`
	PagesFailed  int           `json:"pages_failed"`
	SpacesFailed int           `json:"spaces_failed"`
	Duration     time.Duration `json:"duration"`
}

// SyncAll synchronizes every configured space. Failures are isolated at
// both levels: a space whose pages cannot be listed and a page that cannot
// be processed are counted and logged, and the run continues with the next
// space or page. Only the initial space enumeration is fatal. With force
// set, unchanged pages are reprocessed too.
func (e *Engine) SyncAll(ctx context.Context, force bool) (*Result, error) {
	start := time.Now()

	spaces, err := e.fetcher.Spaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}

	result := &Result{}
	for _, space := range spaces {
		pages, err := e.fetcher.Pages(ctx, space.Key)
		if err != nil {
			result.SpacesFailed++
			e.logger.Error("space listing failed",
				"space_key", space.Key, "space_name", space.Name, "error", err)
			continue
		}
		e.logger.Info("syncing space",
			"space_key", space.Key, "space_name", space.Name, "pages", len(pages))

		for _, page := range pages {
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}

			result.PagesSeen++
			synced, err := e.ProcessPage(ctx, page, force)
			switch {
			case err != nil:
				result.PagesFailed++
				e.logger.Error("page sync failed",
					"page_id", page.ID, "title", page.Title, "error", err)
			case synced:
				result.PagesSynced++
			default:
				result.PagesSkipped++
			}
		}
	}

	result.Duration = time.Since(start)
	e.logger.Info("sync complete",
		"seen", result.PagesSeen, "synced", result.PagesSynced,
		"skipped", result.PagesSkipped, "failed", result.PagesFailed,
		"spaces_failed", result.SpacesFailed, "duration", result.Duration)
	return result, nil
}
