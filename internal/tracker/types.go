package tracker

import "time"

// Page tracking statuses.
const (
	// StatusProcessed marks a page whose last snapshot was fully processed.
	StatusProcessed = "processed"
	// StatusRemoved marks a page that was deleted or trashed upstream.
	// The row is kept so a restored page is detected as changed.
	StatusRemoved = "removed"
)

// PageTracking is one row of page_tracking: the last fully-processed
// snapshot of a wiki page. Version and ContentHash drive change detection.
type PageTracking struct {
	PageID        string
	Title         string
	SpaceKey      string
	SpaceName     string
	Version       int
	ContentHash   string
	LastUpdated   time.Time
	QACount       int
	LastProcessed time.Time
	Status        string
}

// QAUnit is one generated Q&A pair with provenance back to the page
// snapshot that produced it. VectorDocID is deterministic per
// (page, version, index) so vector upserts are idempotent.
type QAUnit struct {
	ID          int64
	PageID      string
	Index       int
	Question    string
	Answer      string
	URL         string
	VectorDocID string
	CreatedAt   time.Time
}

// ConfirmedPair is one manually confirmed correction. Confidence counts
// how many times the same question was confirmed.
type ConfirmedPair struct {
	ID         int64
	Question   string
	Answer     string
	Confidence int
	UpdatedAt  time.Time
}

// SpaceCount is a per-space slice of the tracking summary.
type SpaceCount struct {
	SpaceKey string
	Pages    int64
	QAUnits  int64
}

// Summary is an aggregate view over the tracking tables, used by the
// status command.
type Summary struct {
	Pages          int64
	RemovedPages   int64
	QAUnits        int64
	ConfirmedPairs int64
	Spaces         []SpaceCount
}
