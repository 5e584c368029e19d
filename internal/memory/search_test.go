package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tidemark-oss/tidemark/internal/errors"
	"github.com/tidemark-oss/tidemark/internal/plan"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/testutil"
)

// topicEmbed maps inputs onto axis vectors so similarity is predictable:
// inputs about the same topic score 1, different topics score 0.
func topicEmbed(input, inputType string) ([]float64, int64) {
	switch {
	case strings.Contains(input, "dark"):
		return []float64{1, 0, 0}, 4
	case strings.Contains(input, "deploy"):
		return []float64{0, 1, 0}, 4
	default:
		return []float64{0, 0, 1}, 4
	}
}

func seedTideService(t *testing.T) (*Service, *testutil.Harness) {
	t.Helper()
	h := testutil.NewHarness(t)
	if _, err := h.Plans.SetTier(h.Org.ID, plan.TierTide); err != nil {
		t.Fatal(err)
	}
	return newService(h, testutil.GatewayServer(t, topicEmbed)), h
}

func TestService_SearchSemanticRanking(t *testing.T) {
	svc, h := seedTideService(t)
	ctx := context.Background()
	ac := h.AgentContext()

	for _, content := range []string{
		"user prefers dark mode in the editor",
		"deploy pipeline moved to blue-green",
		"lunch order was a sandwich",
	} {
		if _, err := svc.Store(ctx, ac, StoreInput{Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := svc.Search(ctx, ac, SearchInput{Query: "dark theme settings", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Semantic {
		t.Fatal("expected semantic ranking")
	}
	if len(res.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(res.Hits))
	}
	if !strings.Contains(res.Hits[0].Memory.Content, "dark") {
		t.Errorf("expected the dark-mode memory first, got %q", res.Hits[0].Memory.Content)
	}
	if res.Hits[0].Score <= res.Hits[1].Score {
		t.Errorf("expected descending scores, got %v then %v", res.Hits[0].Score, res.Hits[1].Score)
	}
	for _, hit := range res.Hits {
		if len(hit.Memory.Embedding) != 0 {
			t.Error("stored embeddings must not leave the service")
		}
	}
}

func TestService_SearchSubstringFallbackScore(t *testing.T) {
	svc, h := seedTideService(t)
	ctx := context.Background()
	ac := h.AgentContext()

	// One memory written without a vector, as if stored while the
	// gateway was down.
	plain := &store.Memory{
		ID:             ulid.Make().String(),
		OrganizationID: h.Org.ID,
		ProjectID:      h.Project.ID,
		AgentID:        h.Agent.ID,
		Content:        "dark chocolate is the best snack",
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Store.InsertMemory(plain); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store(ctx, ac, StoreInput{Content: "user prefers dark mode"}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Search(ctx, ac, SearchInput{Query: "dark interface"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(res.Hits))
	}
	// The embedded memory outranks the substring fallback.
	if res.Hits[0].Memory.ID == plain.ID {
		t.Error("expected vector match ranked above substring fallback")
	}
	if res.Hits[1].Score != substringScore {
		t.Errorf("expected fallback score %v, got %v", substringScore, res.Hits[1].Score)
	}
}

func TestService_SearchKeepsZeroScoreCandidates(t *testing.T) {
	svc, h := seedTideService(t)
	ctx := context.Background()
	ac := h.AgentContext()

	// A memory without a vector whose content does not contain the query
	// term. It scores zero but remains a candidate within the limit.
	plain := &store.Memory{
		ID:             ulid.Make().String(),
		OrganizationID: h.Org.ID,
		ProjectID:      h.Project.ID,
		AgentID:        h.Agent.ID,
		Content:        "sandwich order for lunch",
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Store.InsertMemory(plain); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store(ctx, ac, StoreInput{Content: "user prefers dark mode"}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Search(ctx, ac, SearchInput{Query: "dark", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(res.Hits))
	}
	if res.Hits[1].Memory.ID != plain.ID || res.Hits[1].Score != 0 {
		t.Errorf("expected the plain memory last at score 0, got %q at %v",
			res.Hits[1].Memory.Content, res.Hits[1].Score)
	}

	// Keyword mode still requires a substring match.
	kw, err := svc.Search(ctx, ac, SearchInput{Query: "dark", Mode: ModeKeyword})
	if err != nil {
		t.Fatal(err)
	}
	if len(kw.Hits) != 1 {
		t.Fatalf("expected 1 keyword hit, got %d", len(kw.Hits))
	}
}

func TestService_SearchKeywordMode(t *testing.T) {
	svc, h := seedTideService(t)
	ctx := context.Background()
	ac := h.AgentContext()

	if _, err := svc.Store(ctx, ac, StoreInput{Content: "older deploy note"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := svc.Store(ctx, ac, StoreInput{Content: "newer deploy note"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store(ctx, ac, StoreInput{Content: "unrelated"}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Search(ctx, ac, SearchInput{Query: "deploy", Mode: ModeKeyword})
	if err != nil {
		t.Fatal(err)
	}
	if res.Semantic {
		t.Error("keyword mode must not embed the query")
	}
	if res.Tokens != 0 {
		t.Errorf("keyword mode must not meter tokens, got %d", res.Tokens)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("expected 2 substring matches, got %d", len(res.Hits))
	}
	if res.Hits[0].Memory.Content != "newer deploy note" {
		t.Errorf("expected recency order, got %q first", res.Hits[0].Memory.Content)
	}
}

func TestService_SearchDegradesWhenGatewayDown(t *testing.T) {
	h := testutil.NewHarness(t)
	if _, err := h.Plans.SetTier(h.Org.ID, plan.TierTide); err != nil {
		t.Fatal(err)
	}
	svc := newService(h, testutil.BrokenGateway(t))
	ctx := context.Background()
	ac := h.AgentContext()

	if _, err := svc.Store(ctx, ac, StoreInput{Content: "dark mode preference"}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Search(ctx, ac, SearchInput{Query: "dark"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Semantic {
		t.Error("expected keyword fallback with a broken gateway")
	}
	if len(res.Hits) != 1 {
		t.Fatalf("expected 1 substring hit, got %d", len(res.Hits))
	}
}

func TestService_SearchFilters(t *testing.T) {
	svc, h := seedTideService(t)
	ctx := context.Background()
	ac := h.AgentContext()

	if _, err := svc.Store(ctx, ac, StoreInput{
		Content: "dark mode on", MemoryType: "facts", Tags: []string{"ui"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store(ctx, ac, StoreInput{
		Content: "dark launch planned", MemoryType: "events", Tags: []string{"release"},
	}); err != nil {
		t.Fatal(err)
	}

	byType, err := svc.Search(ctx, ac, SearchInput{Query: "dark", MemoryType: "facts"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType.Hits) != 1 || byType.Hits[0].Memory.MemoryType != "facts" {
		t.Errorf("expected only facts, got %d hits", len(byType.Hits))
	}

	byTag, err := svc.Search(ctx, ac, SearchInput{Query: "dark", Tags: []string{"release", "other"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTag.Hits) != 1 || byTag.Hits[0].Memory.Tags[0] != "release" {
		t.Errorf("expected tag-overlap filter, got %d hits", len(byTag.Hits))
	}
}

func TestService_SearchRetentionWindow(t *testing.T) {
	svc, h := seedTideService(t)
	ctx := context.Background()
	ac := h.AgentContext()
	ac.Project.MemoryRetention = store.Retention30Days

	old := &store.Memory{
		ID:             ulid.Make().String(),
		OrganizationID: h.Org.ID,
		ProjectID:      h.Project.ID,
		AgentID:        h.Agent.ID,
		Content:        "dark mode note from long ago",
		CreatedAt:      time.Now().UTC().Add(-31 * 24 * time.Hour),
	}
	if err := h.Store.InsertMemory(old); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store(ctx, ac, StoreInput{Content: "dark mode note from today"}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Search(ctx, ac, SearchInput{Query: "dark"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Memory.ID == old.ID {
		t.Error("expected the expired memory excluded from results")
	}
}

func TestService_SearchMetersQuota(t *testing.T) {
	svc, h := seedTideService(t)
	ctx := context.Background()
	ac := h.AgentContext()

	if _, err := svc.Search(ctx, ac, SearchInput{Query: "anything"}); err != nil {
		t.Fatal(err)
	}

	entry, err := h.Store.GetPlan(h.Org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.SearchesUsed != 1 {
		t.Errorf("expected 1 search metered, got %d", entry.SearchesUsed)
	}
	if entry.TokensUsed != 4 {
		t.Errorf("expected query tokens metered, got %d", entry.TokensUsed)
	}

	usage, err := h.Store.ListUsage(h.Org.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(usage) != 1 || usage[0].Kind != "embedding_search" || usage[0].Query != "anything" {
		t.Errorf("unexpected usage log: %+v", usage)
	}
}

func TestService_SearchQuotaExceeded(t *testing.T) {
	h := testutil.NewHarness(t)
	svc := newService(h, nil)
	ctx := context.Background()
	ac := h.AgentContext()

	// Exhaust the surface tier's search budget.
	if err := h.Plans.RecordUsage(h.Org.ID, 0, 500); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Search(ctx, ac, SearchInput{Query: "x"})
	if !errors.HasCode(err, errors.CodeQuotaExceeded) {
		t.Fatalf("expected QUOTA_EXCEEDED, got %v", err)
	}
}

func TestService_SearchLimitClamp(t *testing.T) {
	svc, h := seedTideService(t)
	ctx := context.Background()
	ac := h.AgentContext()

	for i := 0; i < 60; i++ {
		if _, err := svc.Store(ctx, ac, StoreInput{Content: "deploy record"}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := svc.Search(ctx, ac, SearchInput{Query: "deploy", Limit: 500})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 50 {
		t.Errorf("expected limit clamped to 50, got %d", len(res.Hits))
	}

	// An omitted or zero limit means "not specified" and takes the default.
	res, err = svc.Search(ctx, ac, SearchInput{Query: "deploy"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 10 {
		t.Errorf("expected default limit of 10, got %d", len(res.Hits))
	}
}
