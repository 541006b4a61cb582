package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kbsync/kbsync/internal/confluence"
	"github.com/kbsync/kbsync/internal/log"
	"github.com/kbsync/kbsync/internal/qagen"
	"github.com/kbsync/kbsync/internal/tracker"
	"github.com/kbsync/kbsync/internal/vectorindex"
)

const pageBody = `<p>Deployments run through the release pipeline. ` +
	`Trigger it from the dashboard and watch the canary stage before promoting.</p>`

type mockFetcher struct {
	spaces    []confluence.Space
	pages     map[string][]confluence.Page
	page      *confluence.Page
	spacesErr error
	pagesErrs map[string]error
	pageErr   error
}

func (m *mockFetcher) Spaces(ctx context.Context) ([]confluence.Space, error) {
	return m.spaces, m.spacesErr
}

func (m *mockFetcher) Pages(ctx context.Context, spaceKey string) ([]confluence.Page, error) {
	if err := m.pagesErrs[spaceKey]; err != nil {
		return nil, err
	}
	return m.pages[spaceKey], nil
}

func (m *mockFetcher) Page(ctx context.Context, pageID string) (*confluence.Page, error) {
	if m.pageErr != nil {
		return nil, m.pageErr
	}
	return m.page, nil
}

func (m *mockFetcher) PageURL(pageID string) string {
	return "https://wiki.example.com/pages/viewpage.action?pageId=" + pageID
}

type mockGenerator struct {
	pairs     []qagen.Pair
	err       error
	callCount int
}

func (m *mockGenerator) Generate(ctx context.Context, title, content string) ([]qagen.Pair, error) {
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	return m.pairs, nil
}

type mockStore struct {
	existing     *tracker.PageTracking
	staleIDs     []string
	removedIDs   []string
	savedPair    *tracker.ConfirmedPair
	deleteOK     bool
	getErr       error
	replaceErr   error
	saveErr      error
	purgeErr     error
	replacedPage *tracker.PageTracking
	replacedN    int
	purgeCalls   int
	purgedCount  int64
}

func (m *mockStore) GetPage(ctx context.Context, pageID string) (*tracker.PageTracking, error) {
	return m.existing, m.getErr
}

func (m *mockStore) ReplacePage(ctx context.Context, page tracker.PageTracking, units []tracker.QAUnit) ([]string, error) {
	if m.replaceErr != nil {
		return nil, m.replaceErr
	}
	m.replacedPage = &page
	m.replacedN = len(units)
	return m.staleIDs, nil
}

func (m *mockStore) RemovePageQA(ctx context.Context, pageID string) ([]string, error) {
	return m.removedIDs, nil
}

func (m *mockStore) SaveCorrection(ctx context.Context, question, answer string) (*tracker.ConfirmedPair, error) {
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	return m.savedPair, nil
}

func (m *mockStore) DeleteConfirmed(ctx context.Context, id int64) (bool, error) {
	return m.deleteOK, nil
}

func (m *mockStore) PurgeInvalidConfirmed(ctx context.Context) (int64, error) {
	m.purgeCalls++
	return m.purgedCount, m.purgeErr
}

type mockIndex struct {
	addErr       error
	deleteErr    error
	added        []vectorindex.Document
	deletedIDs   []string
	rebuildCalls int
}

func (m *mockIndex) Add(ctx context.Context, docs []vectorindex.Document) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, docs...)
	return nil
}

func (m *mockIndex) Delete(ctx context.Context, ids []string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, ids...)
	return nil
}

func (m *mockIndex) Rebuild(ctx context.Context, source vectorindex.RebuildSource) error {
	m.rebuildCalls++
	return nil
}

func testEngine(fetcher *mockFetcher, generator *mockGenerator, store *mockStore) (*Engine, *mockIndex, *mockIndex) {
	generated := &mockIndex{}
	confirmed := &mockIndex{}
	engine := New(fetcher, generator, store, generated, confirmed, Config{}, log.NewNop())
	return engine, generated, confirmed
}

func samplePage() confluence.Page {
	return confluence.Page{
		ID:        "12345",
		Title:     "Deploy Guide",
		SpaceKey:  "ENG",
		SpaceName: "Engineering",
		Version:   2,
		Body:      pageBody,
	}
}

func samplePairs() []qagen.Pair {
	return []qagen.Pair{
		{Question: "How do I deploy?", Answer: "Trigger the release pipeline from the dashboard."},
		{Question: "What should I watch during rollout?", Answer: "The canary stage, before promoting."},
	}
}

func TestNeedsSync(t *testing.T) {
	page := samplePage()
	hash := confluence.ContentHash(confluence.ExtractText(page.Body))

	current := &tracker.PageTracking{
		PageID: page.ID, Version: page.Version,
		ContentHash: hash, Status: tracker.StatusProcessed,
	}

	tests := []struct {
		name     string
		existing *tracker.PageTracking
		want     bool
	}{
		{"never processed", nil, true},
		{"unchanged", current, false},
		{"version bumped", &tracker.PageTracking{
			PageID: page.ID, Version: 1, ContentHash: hash, Status: tracker.StatusProcessed,
		}, true},
		{"hash differs", &tracker.PageTracking{
			PageID: page.ID, Version: page.Version, ContentHash: "other", Status: tracker.StatusProcessed,
		}, true},
		{"previously removed", &tracker.PageTracking{
			PageID: page.ID, Version: page.Version, ContentHash: hash, Status: tracker.StatusRemoved,
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsSync(tt.existing, page, hash); got != tt.want {
				t.Errorf("needsSync() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngine_ProcessPage_NewPage(t *testing.T) {
	fetcher := &mockFetcher{}
	generator := &mockGenerator{pairs: samplePairs()}
	store := &mockStore{}
	engine, generated, _ := testEngine(fetcher, generator, store)

	synced, err := engine.ProcessPage(context.Background(), samplePage(), false)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}
	if !synced {
		t.Fatal("ProcessPage() = false, want synced")
	}

	if store.replacedPage == nil {
		t.Fatal("tracking store not updated")
	}
	if store.replacedPage.ContentHash == "" || store.replacedPage.Version != 2 {
		t.Errorf("tracking row = %+v, want version 2 with content hash", store.replacedPage)
	}
	if store.replacedN != 2 {
		t.Errorf("stored %d units, want 2", store.replacedN)
	}

	if len(generated.added) != 2 {
		t.Fatalf("indexed %d docs, want 2", len(generated.added))
	}
	if generated.added[0].ID != "qa_12345_2_0" {
		t.Errorf("first doc ID = %q, want qa_12345_2_0", generated.added[0].ID)
	}
	if !strings.Contains(generated.added[0].Content, "How do I deploy?") {
		t.Errorf("doc content = %q, want it to carry the question", generated.added[0].Content)
	}
	if generated.added[0].Metadata["url"] != fetcher.PageURL("12345") {
		t.Errorf("doc url = %q, want page URL", generated.added[0].Metadata["url"])
	}
}

func TestEngine_ProcessPage_SkipsUnchanged(t *testing.T) {
	page := samplePage()
	hash := confluence.ContentHash(confluence.ExtractText(page.Body))

	generator := &mockGenerator{pairs: samplePairs()}
	store := &mockStore{existing: &tracker.PageTracking{
		PageID: page.ID, Version: page.Version,
		ContentHash: hash, Status: tracker.StatusProcessed,
	}}
	engine, generated, _ := testEngine(&mockFetcher{}, generator, store)

	synced, err := engine.ProcessPage(context.Background(), page, false)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}
	if synced {
		t.Error("ProcessPage() = true for unchanged page, want skip")
	}
	if generator.callCount != 0 {
		t.Errorf("generator called %d times for unchanged page, want 0", generator.callCount)
	}
	if len(generated.added) != 0 {
		t.Errorf("indexed %d docs for unchanged page, want 0", len(generated.added))
	}
}

func TestEngine_ProcessPage_ForceBypassesCheck(t *testing.T) {
	page := samplePage()
	hash := confluence.ContentHash(confluence.ExtractText(page.Body))

	generator := &mockGenerator{pairs: samplePairs()}
	store := &mockStore{existing: &tracker.PageTracking{
		PageID: page.ID, Version: page.Version,
		ContentHash: hash, Status: tracker.StatusProcessed,
	}}
	engine, _, _ := testEngine(&mockFetcher{}, generator, store)

	synced, err := engine.ProcessPage(context.Background(), page, true)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}
	if !synced {
		t.Error("ProcessPage(force) = false, want synced")
	}
	if generator.callCount != 1 {
		t.Errorf("generator called %d times, want 1", generator.callCount)
	}
}

func TestEngine_ProcessPage_ShortContent(t *testing.T) {
	page := samplePage()
	page.Body = "<p>Stub.</p>"

	generator := &mockGenerator{pairs: samplePairs()}
	store := &mockStore{}
	engine, generated, _ := testEngine(&mockFetcher{}, generator, store)

	synced, err := engine.ProcessPage(context.Background(), page, false)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}
	if synced {
		t.Fatal("ProcessPage() = true, want short page skipped")
	}
	if generator.callCount != 0 {
		t.Errorf("generator called %d times for short page, want 0", generator.callCount)
	}
	if store.replacedPage != nil {
		t.Errorf("tracking row written for short page: %+v, want none", store.replacedPage)
	}
	if len(generated.added) != 0 {
		t.Errorf("indexed %d docs for short page, want 0", len(generated.added))
	}
}

func TestEngine_ProcessPage_ShortContent_RetriedNextSync(t *testing.T) {
	page := samplePage()
	page.Body = "<p>Stub.</p>"

	generator := &mockGenerator{pairs: samplePairs()}
	store := &mockStore{}
	engine, _, _ := testEngine(&mockFetcher{}, generator, store)

	// First pass skips the stub; no row means the grown page is a change.
	if _, err := engine.ProcessPage(context.Background(), page, false); err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}

	page.Body = pageBody
	synced, err := engine.ProcessPage(context.Background(), page, false)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}
	if !synced {
		t.Fatal("ProcessPage() = false after content grew, want synced")
	}
	if generator.callCount != 1 {
		t.Errorf("generator called %d times, want 1", generator.callCount)
	}
}

func TestEngine_ProcessPage_GenerationFailure(t *testing.T) {
	generator := &mockGenerator{err: errors.New("model overloaded")}
	store := &mockStore{}
	engine, _, _ := testEngine(&mockFetcher{}, generator, store)

	synced, err := engine.ProcessPage(context.Background(), samplePage(), false)
	if err != nil {
		t.Fatalf("ProcessPage() error = %v, want generation failure absorbed", err)
	}
	if !synced {
		t.Error("ProcessPage() = false, want page tracked despite generation failure")
	}
	if store.replacedN != 0 {
		t.Errorf("stored %d units after failed generation, want 0", store.replacedN)
	}
}

func TestEngine_ProcessPage_IndexFailure(t *testing.T) {
	generator := &mockGenerator{pairs: samplePairs()}
	store := &mockStore{}
	engine, generated, _ := testEngine(&mockFetcher{}, generator, store)
	generated.addErr = errors.New("connection refused")

	_, err := engine.ProcessPage(context.Background(), samplePage(), false)
	if err == nil {
		t.Fatal("ProcessPage() succeeded despite index failure")
	}
	if store.replacedPage != nil {
		t.Error("tracking store updated despite index failure")
	}
}

func TestEngine_ProcessPage_DeletesStaleVectors(t *testing.T) {
	generator := &mockGenerator{pairs: samplePairs()}
	store := &mockStore{staleIDs: []string{"qa_12345_1_0", "qa_12345_1_1"}}
	engine, generated, _ := testEngine(&mockFetcher{}, generator, store)

	if _, err := engine.ProcessPage(context.Background(), samplePage(), false); err != nil {
		t.Fatalf("ProcessPage() error = %v", err)
	}
	if len(generated.deletedIDs) != 2 {
		t.Errorf("deleted %d stale vectors, want 2", len(generated.deletedIDs))
	}
}

func TestEngine_ProcessPage_StaleDeleteBestEffort(t *testing.T) {
	generator := &mockGenerator{pairs: samplePairs()}
	store := &mockStore{staleIDs: []string{"qa_12345_1_0"}}
	engine, generated, _ := testEngine(&mockFetcher{}, generator, store)
	generated.deleteErr = errors.New("timeout")

	if _, err := engine.ProcessPage(context.Background(), samplePage(), false); err != nil {
		t.Errorf("ProcessPage() error = %v, want stale cleanup failure absorbed", err)
	}
}

func TestEngine_SyncAll(t *testing.T) {
	changed := samplePage()
	unchanged := samplePage()
	unchanged.ID = "67890"
	unchanged.Version = 1

	fetcher := &mockFetcher{
		spaces: []confluence.Space{{Key: "ENG", Name: "Engineering"}},
		pages:  map[string][]confluence.Page{"ENG": {changed, unchanged}},
	}
	hash := confluence.ContentHash(confluence.ExtractText(unchanged.Body))
	store := &trackedStore{rows: map[string]*tracker.PageTracking{
		"67890": {PageID: "67890", Version: 1, ContentHash: hash, Status: tracker.StatusProcessed},
	}}
	generator := &mockGenerator{pairs: samplePairs()}
	generated := &mockIndex{}
	engine := New(fetcher, generator, store, generated, &mockIndex{}, Config{}, log.NewNop())

	result, err := engine.SyncAll(context.Background(), false)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if result.PagesSeen != 2 || result.PagesSynced != 1 || result.PagesSkipped != 1 || result.PagesFailed != 0 {
		t.Errorf("result = %+v, want seen 2, synced 1, skipped 1, failed 0", result)
	}
}

func TestEngine_SyncAll_IsolatesPageFailures(t *testing.T) {
	good := samplePage()
	bad := samplePage()
	bad.ID = "67890"

	fetcher := &mockFetcher{
		spaces: []confluence.Space{{Key: "ENG", Name: "Engineering"}},
		pages:  map[string][]confluence.Page{"ENG": {bad, good}},
	}
	generator := &mockGenerator{pairs: samplePairs()}
	generated := &failOnceIndex{failID: "qa_67890_2_0"}
	engine := New(fetcher, generator, &mockStore{}, generated, &mockIndex{}, Config{}, log.NewNop())

	result, err := engine.SyncAll(context.Background(), false)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if result.PagesFailed != 1 || result.PagesSynced != 1 {
		t.Errorf("result = %+v, want failed 1 and synced 1", result)
	}
}

func TestEngine_SyncAll_IsolatesSpaceFailures(t *testing.T) {
	fetcher := &mockFetcher{
		spaces: []confluence.Space{
			{Key: "OPS", Name: "Operations"},
			{Key: "ENG", Name: "Engineering"},
		},
		pages:     map[string][]confluence.Page{"ENG": {samplePage()}},
		pagesErrs: map[string]error{"OPS": errors.New("503 service unavailable")},
	}
	generator := &mockGenerator{pairs: samplePairs()}
	store := &mockStore{}
	engine, _, _ := testEngine(fetcher, generator, store)

	result, err := engine.SyncAll(context.Background(), false)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if result.SpacesFailed != 1 {
		t.Errorf("SpacesFailed = %d, want 1", result.SpacesFailed)
	}
	if result.PagesSynced != 1 {
		t.Errorf("PagesSynced = %d, want the healthy space still synced", result.PagesSynced)
	}
	if store.replacedPage == nil {
		t.Error("healthy space's page not stored after sibling space failed")
	}
}

func TestEngine_SyncAll_SpacesError(t *testing.T) {
	fetcher := &mockFetcher{spacesErr: errors.New("401 unauthorized")}
	engine, _, _ := testEngine(fetcher, &mockGenerator{}, &mockStore{})

	if _, err := engine.SyncAll(context.Background(), false); err == nil {
		t.Fatal("SyncAll() succeeded despite spaces listing failure")
	}
}

func TestEngine_SyncAll_RespectsDelay(t *testing.T) {
	pages := []confluence.Page{samplePage(), samplePage(), samplePage()}
	fetcher := &mockFetcher{
		spaces: []confluence.Space{{Key: "ENG", Name: "Engineering"}},
		pages:  map[string][]confluence.Page{"ENG": pages},
	}
	generator := &mockGenerator{pairs: samplePairs()}
	engine := New(fetcher, generator, &mockStore{}, &mockIndex{}, &mockIndex{},
		Config{SyncDelay: 20 * time.Millisecond}, log.NewNop())

	start := time.Now()
	if _, err := engine.SyncAll(context.Background(), true); err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	// Burst of 1, so pages 2 and 3 each wait for a token.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("SyncAll() took %v, want at least 40ms with the delay applied", elapsed)
	}
}

func TestEngine_UpdatePage(t *testing.T) {
	page := samplePage()
	hash := confluence.ContentHash(confluence.ExtractText(page.Body))
	fetcher := &mockFetcher{page: &page}
	generator := &mockGenerator{pairs: samplePairs()}
	// Row matches the fetched page; UpdatePage must still reprocess.
	store := &mockStore{existing: &tracker.PageTracking{
		PageID: page.ID, Version: page.Version,
		ContentHash: hash, Status: tracker.StatusProcessed,
	}}
	engine, _, _ := testEngine(fetcher, generator, store)

	if err := engine.UpdatePage(context.Background(), page.ID); err != nil {
		t.Fatalf("UpdatePage() error = %v", err)
	}
	if generator.callCount != 1 {
		t.Errorf("generator called %d times, want 1", generator.callCount)
	}
}

func TestEngine_RemovePage(t *testing.T) {
	store := &mockStore{removedIDs: []string{"qa_12345_2_0", "qa_12345_2_1"}}
	engine, generated, _ := testEngine(&mockFetcher{}, &mockGenerator{}, store)

	if err := engine.RemovePage(context.Background(), "12345"); err != nil {
		t.Fatalf("RemovePage() error = %v", err)
	}
	if len(generated.deletedIDs) != 2 {
		t.Errorf("deleted %d vectors, want 2", len(generated.deletedIDs))
	}
}

func TestEngine_SaveCorrection(t *testing.T) {
	store := &mockStore{savedPair: &tracker.ConfirmedPair{
		ID: 7, Question: "How do I deploy?", Answer: "Use the pipeline.", Confidence: 2,
	}}
	engine, _, confirmed := testEngine(&mockFetcher{}, &mockGenerator{}, store)

	pair, err := engine.SaveCorrection(context.Background(), "How do I deploy?", "Use the pipeline.")
	if err != nil {
		t.Fatalf("SaveCorrection() error = %v", err)
	}
	if pair.ID != 7 {
		t.Errorf("pair.ID = %d, want 7", pair.ID)
	}
	if store.purgeCalls != 1 {
		t.Errorf("purge called %d times, want 1", store.purgeCalls)
	}
	if len(confirmed.added) != 1 || confirmed.added[0].ID != "confirmed_7" {
		t.Fatalf("confirmed docs = %+v, want one doc confirmed_7", confirmed.added)
	}
	if confirmed.rebuildCalls != 0 {
		t.Errorf("rebuild calls = %d, want none without a purge", confirmed.rebuildCalls)
	}
	if confirmed.added[0].Metadata["type"] != tracker.DocTypeConfirmed {
		t.Errorf("doc type = %q, want %q",
			confirmed.added[0].Metadata["type"], tracker.DocTypeConfirmed)
	}
}

func TestEngine_SaveCorrection_RebuildsAfterPurge(t *testing.T) {
	store := &mockStore{
		savedPair:   &tracker.ConfirmedPair{ID: 7, Question: "Q?", Answer: "A.", Confidence: 1},
		purgedCount: 2,
	}
	confirmed := &mockIndex{}
	engine := New(&mockFetcher{}, &mockGenerator{}, store, &mockIndex{}, confirmed,
		Config{ConfirmedSource: nopSource{}}, log.NewNop())

	if _, err := engine.SaveCorrection(context.Background(), "Q?", "A."); err != nil {
		t.Fatalf("SaveCorrection() error = %v", err)
	}
	if confirmed.rebuildCalls != 1 {
		t.Errorf("rebuild calls = %d, want 1 after purging invalid rows", confirmed.rebuildCalls)
	}
}

type nopSource struct{}

func (nopSource) Documents(ctx context.Context) ([]vectorindex.Document, error) { return nil, nil }

func TestEngine_RemoveConfirmed(t *testing.T) {
	store := &mockStore{deleteOK: true}
	engine, _, confirmed := testEngine(&mockFetcher{}, &mockGenerator{}, store)

	deleted, err := engine.RemoveConfirmed(context.Background(), 7)
	if err != nil {
		t.Fatalf("RemoveConfirmed() error = %v", err)
	}
	if !deleted {
		t.Fatal("RemoveConfirmed() = false, want true")
	}
	if len(confirmed.deletedIDs) != 1 || confirmed.deletedIDs[0] != "confirmed_7" {
		t.Errorf("deleted vectors = %v, want [confirmed_7]", confirmed.deletedIDs)
	}
}

func TestEngine_RemoveConfirmed_Missing(t *testing.T) {
	store := &mockStore{deleteOK: false}
	engine, _, confirmed := testEngine(&mockFetcher{}, &mockGenerator{}, store)

	deleted, err := engine.RemoveConfirmed(context.Background(), 99)
	if err != nil {
		t.Fatalf("RemoveConfirmed() error = %v", err)
	}
	if deleted {
		t.Error("RemoveConfirmed() = true for missing pair, want false")
	}
	if len(confirmed.deletedIDs) != 0 {
		t.Errorf("deleted vectors = %v, want none", confirmed.deletedIDs)
	}
}

// trackedStore returns per-page rows, unlike mockStore's single fixture.
type trackedStore struct {
	mockStore
	rows map[string]*tracker.PageTracking
}

func (s *trackedStore) GetPage(ctx context.Context, pageID string) (*tracker.PageTracking, error) {
	return s.rows[pageID], nil
}

// failOnceIndex rejects batches containing failID.
type failOnceIndex struct {
	mockIndex
	failID string
}

func (f *failOnceIndex) Add(ctx context.Context, docs []vectorindex.Document) error {
	for _, doc := range docs {
		if doc.ID == f.failID {
			return errors.New("embedding backend unavailable")
		}
	}
	return f.mockIndex.Add(ctx, docs)
}
