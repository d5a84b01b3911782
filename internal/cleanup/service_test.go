package cleanup

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/FormVault/intake-service/internal/messaging"
	"github.com/FormVault/intake-service/internal/telemetry"
	"github.com/FormVault/intake-service/internal/testutil"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// memStore is an in-memory store that mirrors the repository's semantics:
// strict created_at < cutoff selection, keyset paging by id, and an atomic
// purge that either applies every deletion or none.
type memStore struct {
	mu            sync.Mutex
	tokens        map[string]Token
	entities      map[string]bool
	relationships map[string]Relationship
	corpusItems   map[string]string // item id -> owning entity id

	failList  error
	failFind  map[string]error // product id -> error
	failPurge map[string]error // token id -> error

	purgedEntities []string
}

func newMemStore() *memStore {
	return &memStore{
		tokens:        make(map[string]Token),
		entities:      make(map[string]bool),
		relationships: make(map[string]Relationship),
		corpusItems:   make(map[string]string),
		failFind:      make(map[string]error),
		failPurge:     make(map[string]error),
	}
}

func (m *memStore) addToken(tok Token) {
	m.tokens[tok.ID] = tok
	if tok.HasEntity() {
		m.entities[tok.EntityID] = true
	}
}

func (m *memStore) CountExpiredTokens(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return 0, m.failList
	}
	count := 0
	for _, tok := range m.tokens {
		if tok.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListExpiredTokens(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	var page []Token
	for _, tok := range m.tokens {
		if tok.CreatedAt.Before(cutoff) && tok.ID > afterID {
			page = append(page, tok)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (m *memStore) FindRelationships(ctx context.Context, productID string, since time.Time) ([]Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFind[productID]; err != nil {
		return nil, err
	}
	var rels []Relationship
	for _, rel := range m.relationships {
		if rel.ProductID == productID && !rel.CreatedAt.Before(since) {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

func (m *memStore) PurgeOrphan(ctx context.Context, tok Token, relationshipID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Forced failure leaves every row untouched, like a rolled-back
	// transaction.
	if err := m.failPurge[tok.ID]; err != nil {
		return err
	}
	if relationshipID != "" {
		delete(m.relationships, relationshipID)
	}
	if tok.HasEntity() {
		for itemID, owner := range m.corpusItems {
			if owner == tok.EntityID {
				delete(m.corpusItems, itemID)
			}
		}
		delete(m.entities, tok.EntityID)
		m.purgedEntities = append(m.purgedEntities, tok.EntityID)
	}
	delete(m.tokens, tok.ID)
	return nil
}

func (m *memStore) DeleteToken(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenID)
	return nil
}

var _ StoreInterface = (*memStore)(nil)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 2
	cfg.BatchSize = 10
	return cfg
}

func daysAgo(n int) time.Time {
	return time.Now().UTC().Add(-time.Duration(n) * 24 * time.Hour)
}

// TestRun_EndToEnd covers the three canonical candidates: an old orphaned
// session gets the full cascade, a recent session is untouched, and an old
// session whose entity was submitted loses only its token.
func TestRun_EndToEnd(t *testing.T) {
	store := newMemStore()
	publisher := testutil.NewMockPublisher()

	// T1: 9 days old, orphaned, with corpus items and a cancelled
	// relationship from the same session.
	store.addToken(Token{ID: "t1", ProductID: "loan", EntityID: "e1", CreatedAt: daysAgo(9)})
	store.relationships["r1"] = Relationship{ID: "r1", ProductID: "loan", EntityID: "e1", Status: "cancelled", CreatedAt: daysAgo(9).Add(time.Hour)}
	store.corpusItems["c1"] = "e1"
	store.corpusItems["c2"] = "e1"

	// T2: 3 days old, inside the retention window.
	store.addToken(Token{ID: "t2", ProductID: "loan", EntityID: "e2", CreatedAt: daysAgo(3)})

	// T3: 9 days old, entity linked to a submitted relationship.
	store.addToken(Token{ID: "t3", ProductID: "insurance", EntityID: "e3", CreatedAt: daysAgo(9)})
	store.relationships["r3"] = Relationship{ID: "r3", ProductID: "insurance", EntityID: "e3", Status: "submitted", CreatedAt: daysAgo(8)}

	service := NewService(store, publisher, nil, testConfig())
	summary, err := service.Run(context.Background(), "run-1")

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if summary.CandidatesSeen != 2 {
		t.Errorf("Expected 2 candidates, got %d", summary.CandidatesSeen)
	}
	if summary.Deleted != 1 {
		t.Errorf("Expected 1 purged, got %d", summary.Deleted)
	}
	if summary.SkippedLive != 1 {
		t.Errorf("Expected 1 live skip, got %d", summary.SkippedLive)
	}
	if summary.Errors != 0 {
		t.Errorf("Expected 0 errors, got %d", summary.Errors)
	}

	// T1 cascade: token, relationship, entity, corpus items all gone.
	if _, ok := store.tokens["t1"]; ok {
		t.Error("Expected token t1 to be deleted")
	}
	if _, ok := store.relationships["r1"]; ok {
		t.Error("Expected relationship r1 to be deleted")
	}
	if store.entities["e1"] {
		t.Error("Expected entity e1 to be deleted")
	}
	if _, ok := store.corpusItems["c1"]; ok {
		t.Error("Expected corpus item c1 to be deleted")
	}
	if _, ok := store.corpusItems["c2"]; ok {
		t.Error("Expected corpus item c2 to be deleted")
	}

	// T2 untouched.
	if _, ok := store.tokens["t2"]; !ok {
		t.Error("Expected token t2 to be untouched")
	}
	if !store.entities["e2"] {
		t.Error("Expected entity e2 to be untouched")
	}

	// T3: token gone, everything else intact.
	if _, ok := store.tokens["t3"]; ok {
		t.Error("Expected token t3 to be deleted")
	}
	if !store.entities["e3"] {
		t.Error("Expected entity e3 to survive")
	}
	if _, ok := store.relationships["r3"]; !ok {
		t.Error("Expected relationship r3 to survive")
	}

	publisher.AssertEventCount(t, messaging.EventEntityPurged, 1)
	publisher.AssertEventCount(t, messaging.EventTokenExpired, 1)
	publisher.AssertEventCount(t, messaging.EventCleanupRunCompleted, 1)
}

// TestRun_SharedProductIsolation verifies another visitor's relationships on
// the same product neither shield an orphan from the purge nor get deleted
// by its cascade.
func TestRun_SharedProductIsolation(t *testing.T) {
	store := newMemStore()
	store.addToken(Token{ID: "t1", ProductID: "loan", EntityID: "e1", CreatedAt: daysAgo(9)})
	store.corpusItems["c1"] = "e1"
	store.entities["e-other"] = true
	store.relationships["r-live"] = Relationship{ID: "r-live", ProductID: "loan", EntityID: "e-other", Status: "submitted", CreatedAt: daysAgo(9).Add(time.Hour)}
	store.relationships["r-done"] = Relationship{ID: "r-done", ProductID: "loan", EntityID: "e-other", Status: "cancelled", CreatedAt: daysAgo(9).Add(time.Hour)}

	service := NewService(store, nil, nil, testConfig())
	summary, err := service.Run(context.Background(), "run-1")

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if summary.SkippedLive != 0 {
		t.Errorf("Expected no live skips from another entity's relationship, got %d", summary.SkippedLive)
	}
	if summary.Deleted != 1 {
		t.Errorf("Expected 1 purged, got %d", summary.Deleted)
	}
	if _, ok := store.tokens["t1"]; ok {
		t.Error("Expected token t1 to be deleted")
	}
	if store.entities["e1"] {
		t.Error("Expected entity e1 to be deleted")
	}
	if _, ok := store.corpusItems["c1"]; ok {
		t.Error("Expected corpus item c1 to be deleted")
	}
	if _, ok := store.relationships["r-live"]; !ok {
		t.Error("Expected the other entity's live relationship to survive")
	}
	if _, ok := store.relationships["r-done"]; !ok {
		t.Error("Expected the other entity's cancelled relationship to survive")
	}
	if !store.entities["e-other"] {
		t.Error("Expected the other entity to survive")
	}
}

// TestRun_Idempotent re-runs the job immediately after a successful run and
// expects a zero-deletion no-op that still completes.
func TestRun_Idempotent(t *testing.T) {
	store := newMemStore()
	store.addToken(Token{ID: "t1", ProductID: "loan", EntityID: "e1", CreatedAt: daysAgo(9)})

	service := NewService(store, nil, nil, testConfig())

	first, err := service.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if first.Deleted != 1 {
		t.Fatalf("Expected first run to purge 1, got %d", first.Deleted)
	}

	second, err := service.Run(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if second.CandidatesSeen != 0 || second.Deleted != 0 || second.Errors != 0 {
		t.Errorf("Expected second run to be a no-op, got %+v", second)
	}
}

// TestRun_TokenWithoutEntity verifies a token with no entity id is removed
// without attempting any entity or corpus-item deletion.
func TestRun_TokenWithoutEntity(t *testing.T) {
	store := newMemStore()
	store.addToken(Token{ID: "t1", ProductID: "loan", CreatedAt: daysAgo(9)})

	service := NewService(store, nil, nil, testConfig())
	summary, err := service.Run(context.Background(), "run-1")

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if summary.Deleted != 1 {
		t.Errorf("Expected 1 deletion, got %d", summary.Deleted)
	}
	if _, ok := store.tokens["t1"]; ok {
		t.Error("Expected token t1 to be deleted")
	}
	if len(store.purgedEntities) != 0 {
		t.Errorf("Expected no entity deletions, got %v", store.purgedEntities)
	}
}

// TestRun_PartialFailureIsolation forces one candidate's transaction to fail
// and expects the others to still be processed, with the run completing.
func TestRun_PartialFailureIsolation(t *testing.T) {
	store := newMemStore()
	store.addToken(Token{ID: "t1", ProductID: "loan", EntityID: "e1", CreatedAt: daysAgo(9)})
	store.addToken(Token{ID: "t2", ProductID: "loan", EntityID: "e2", CreatedAt: daysAgo(9)})
	store.addToken(Token{ID: "t3", ProductID: "loan", EntityID: "e3", CreatedAt: daysAgo(9)})
	store.failPurge["t2"] = errors.New("deadlock detected")

	service := NewService(store, nil, nil, testConfig())
	summary, err := service.Run(context.Background(), "run-1")

	if err != nil {
		t.Fatalf("Expected run to complete despite one failure, got: %v", err)
	}
	if summary.Deleted != 2 {
		t.Errorf("Expected 2 purged, got %d", summary.Deleted)
	}
	if summary.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", summary.Errors)
	}
	if _, ok := store.tokens["t2"]; !ok {
		t.Error("Expected failed candidate t2 to remain for the next run")
	}
}

// TestRun_AtomicCascade verifies a failed purge leaves every row of the
// candidate in place: no partial cascade is ever visible.
func TestRun_AtomicCascade(t *testing.T) {
	store := newMemStore()
	store.addToken(Token{ID: "t1", ProductID: "loan", EntityID: "e1", CreatedAt: daysAgo(9)})
	store.relationships["r1"] = Relationship{ID: "r1", ProductID: "loan", EntityID: "e1", Status: "cancelled", CreatedAt: daysAgo(9).Add(time.Minute)}
	store.corpusItems["c1"] = "e1"
	store.failPurge["t1"] = errors.New("constraint violation")

	service := NewService(store, nil, nil, testConfig())
	summary, err := service.Run(context.Background(), "run-1")

	if err != nil {
		t.Fatalf("Expected run to complete, got: %v", err)
	}
	if summary.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", summary.Errors)
	}
	if _, ok := store.tokens["t1"]; !ok {
		t.Error("Expected token t1 to remain after rollback")
	}
	if _, ok := store.relationships["r1"]; !ok {
		t.Error("Expected relationship r1 to remain after rollback")
	}
	if !store.entities["e1"] {
		t.Error("Expected entity e1 to remain after rollback")
	}
	if _, ok := store.corpusItems["c1"]; !ok {
		t.Error("Expected corpus item c1 to remain after rollback")
	}
}

// TestRun_ClassificationFailureDefersCandidate verifies a liveness lookup
// failure skips the candidate without aborting the run.
func TestRun_ClassificationFailureDefersCandidate(t *testing.T) {
	store := newMemStore()
	store.addToken(Token{ID: "t1", ProductID: "loan", EntityID: "e1", CreatedAt: daysAgo(9)})
	store.addToken(Token{ID: "t2", ProductID: "broken", EntityID: "e2", CreatedAt: daysAgo(9)})
	store.failFind["broken"] = errors.New("store timeout")

	service := NewService(store, nil, nil, testConfig())
	summary, err := service.Run(context.Background(), "run-1")

	if err != nil {
		t.Fatalf("Expected run to complete, got: %v", err)
	}
	if summary.Deleted != 1 {
		t.Errorf("Expected 1 purged, got %d", summary.Deleted)
	}
	if summary.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", summary.Errors)
	}
	if _, ok := store.tokens["t2"]; !ok {
		t.Error("Expected unclassifiable candidate t2 to remain for the next run")
	}
}

// TestRun_SelectionFailureIsFatal verifies a failure to list candidates
// aborts the run with a SelectionError.
func TestRun_SelectionFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.failList = errors.New("connection refused")

	service := NewService(store, nil, nil, testConfig())
	_, err := service.Run(context.Background(), "run-1")

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	var selErr *SelectionError
	if !errors.As(err, &selErr) {
		t.Errorf("Expected *SelectionError, got %T: %v", err, err)
	}
}

// TestRun_AllCandidatesFail verifies the fatal_if_all_candidates_fail flag.
func TestRun_AllCandidatesFail(t *testing.T) {
	store := newMemStore()
	store.addToken(Token{ID: "t1", ProductID: "loan", EntityID: "e1", CreatedAt: daysAgo(9)})
	store.addToken(Token{ID: "t2", ProductID: "loan", EntityID: "e2", CreatedAt: daysAgo(9)})
	store.failPurge["t1"] = errors.New("boom")
	store.failPurge["t2"] = errors.New("boom")

	cfg := testConfig()
	cfg.FatalIfAllCandidatesFail = true
	service := NewService(store, nil, nil, cfg)

	summary, err := service.Run(context.Background(), "run-1")
	if err == nil {
		t.Fatal("Expected error when every candidate failed, got nil")
	}
	if summary.Errors != 2 {
		t.Errorf("Expected 2 errors in summary, got %d", summary.Errors)
	}

	// Without the flag the same run completes with a full error tally.
	cfg.FatalIfAllCandidatesFail = false
	service = NewService(store, nil, nil, cfg)
	summary, err = service.Run(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("Expected run to complete without the flag, got: %v", err)
	}
	if summary.Errors != 2 {
		t.Errorf("Expected 2 errors in summary, got %d", summary.Errors)
	}
}

// TestRun_PagesThroughBacklog verifies a backlog larger than one page is
// fully drained in a single run.
func TestRun_PagesThroughBacklog(t *testing.T) {
	store := newMemStore()
	ids := []string{"a1", "b2", "c3", "d4", "e5", "f6", "g7"}
	for _, id := range ids {
		store.addToken(Token{ID: id, ProductID: "loan", CreatedAt: daysAgo(10)})
	}

	cfg := testConfig()
	cfg.BatchSize = 2
	service := NewService(store, nil, nil, cfg)

	summary, err := service.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if summary.CandidatesSeen != len(ids) {
		t.Errorf("Expected %d candidates, got %d", len(ids), summary.CandidatesSeen)
	}
	if len(store.tokens) != 0 {
		t.Errorf("Expected backlog to be drained, %d tokens remain", len(store.tokens))
	}
}

// TestRun_DryRun verifies dry-run mode tallies without deleting.
func TestRun_DryRun(t *testing.T) {
	store := newMemStore()
	store.addToken(Token{ID: "t1", ProductID: "loan", EntityID: "e1", CreatedAt: daysAgo(9)})

	cfg := testConfig()
	cfg.DryRun = true
	service := NewService(store, nil, nil, cfg)

	summary, err := service.Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if summary.Deleted != 1 {
		t.Errorf("Expected 1 would-be deletion in tally, got %d", summary.Deleted)
	}
	if _, ok := store.tokens["t1"]; !ok {
		t.Error("Expected dry run to leave token t1 in place")
	}
	if !store.entities["e1"] {
		t.Error("Expected dry run to leave entity e1 in place")
	}
}

// testMetrics builds cleanup metrics against an in-process reader so tests
// can inspect what a run recorded.
func testMetrics(t *testing.T) (*telemetry.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("cleanup-test")

	candidates, err := meter.Int64Counter("cleanup_candidates_total")
	if err != nil {
		t.Fatalf("Failed to build test instrument: %v", err)
	}
	purged, err := meter.Int64Counter("cleanup_entities_purged_total")
	if err != nil {
		t.Fatalf("Failed to build test instrument: %v", err)
	}
	expired, err := meter.Int64Counter("cleanup_tokens_expired_total")
	if err != nil {
		t.Fatalf("Failed to build test instrument: %v", err)
	}
	failures, err := meter.Int64Counter("cleanup_failures_total")
	if err != nil {
		t.Fatalf("Failed to build test instrument: %v", err)
	}
	duration, err := meter.Float64Histogram("cleanup_run_duration_milliseconds")
	if err != nil {
		t.Fatalf("Failed to build test instrument: %v", err)
	}

	return &telemetry.Metrics{
		CandidatesSeen: candidates,
		EntitiesPurged: purged,
		TokensExpired:  expired,
		FailuresTotal:  failures,
		RunDurationMs:  duration,
	}, reader
}

// TestRun_DryRunSkipsMetrics verifies a rehearsal run records nothing, so
// the purge counters only ever reflect real deletions.
func TestRun_DryRunSkipsMetrics(t *testing.T) {
	store := newMemStore()
	store.addToken(Token{ID: "t1", ProductID: "loan", EntityID: "e1", CreatedAt: daysAgo(9)})

	metrics, reader := testMetrics(t)
	cfg := testConfig()
	cfg.DryRun = true
	service := NewService(store, nil, metrics, cfg)

	if _, err := service.Run(context.Background(), "run-1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			t.Errorf("Expected no metrics from a dry run, got '%s'", m.Name)
		}
	}

	// A real run over the same backlog does record, so the instruments are
	// known to be wired.
	cfg.DryRun = false
	service = NewService(store, nil, metrics, cfg)
	if _, err := service.Run(context.Background(), "run-2"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	rm = metricdata.ResourceMetrics{}
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == "cleanup_entities_purged_total" {
				found = true
			}
		}
	}
	if !found {
		t.Error("Expected a real run to record the purge counter")
	}
}
