package plan

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tidemark-oss/tidemark/internal/errors"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

func newTestService(t *testing.T) (*Service, *store.Store, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tidemark.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	org := &store.Organization{ID: uuid.New().String(), Name: "acme", CreatedAt: time.Now().UTC()}
	if err := s.CreateOrganization(org); err != nil {
		t.Fatal(err)
	}
	return NewService(s, nil, telemetry.NewMetrics(), nil), s, org.ID
}

func TestTierByName(t *testing.T) {
	tests := []struct {
		name       string
		wantOK     bool
		embeddings bool
	}{
		{TierSurface, true, false},
		{TierTide, true, true},
		{TierAbyss, true, true},
		{"enterprise", false, false},
	}
	for _, tt := range tests {
		tier, ok := TierByName(tt.name)
		if ok != tt.wantOK {
			t.Errorf("TierByName(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
		}
		if ok && tier.EmbeddingsEnabled != tt.embeddings {
			t.Errorf("tier %q embeddings = %v, want %v", tt.name, tier.EmbeddingsEnabled, tt.embeddings)
		}
	}
}

func TestService_GetOrCreateDefaultsToSurface(t *testing.T) {
	svc, _, orgID := newTestService(t)

	entry, err := svc.GetOrCreate(orgID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Tier != TierSurface {
		t.Errorf("expected default tier surface, got %q", entry.Tier)
	}
	if entry.TokensLimit != 50_000 || entry.SearchesLimit != 500 {
		t.Errorf("unexpected surface ceilings: %+v", entry)
	}

	// Second call must return the same entry, not reset it.
	if err := svc.RecordUsage(orgID, 100, 0); err != nil {
		t.Fatal(err)
	}
	again, err := svc.GetOrCreate(orgID)
	if err != nil {
		t.Fatal(err)
	}
	if again.TokensUsed != 100 {
		t.Errorf("expected counters preserved, got %d", again.TokensUsed)
	}
}

func TestService_RecordUsageQuota(t *testing.T) {
	svc, s, orgID := newTestService(t)

	if _, err := svc.SetTier(orgID, TierSurface); err != nil {
		t.Fatal(err)
	}

	// Fill the token ceiling exactly.
	if err := svc.RecordUsage(orgID, 50_000, 0); err != nil {
		t.Fatal(err)
	}

	err := svc.RecordUsage(orgID, 1, 0)
	if !errors.HasCode(err, errors.CodeQuotaExceeded) {
		t.Fatalf("expected QUOTA_EXCEEDED, got %v", err)
	}

	// Rejection must not have moved either counter.
	entry, err2 := s.GetPlan(orgID)
	if err2 != nil {
		t.Fatal(err2)
	}
	if entry.TokensUsed != 50_000 || entry.SearchesUsed != 0 {
		t.Errorf("expected counters unchanged after rejection, got %+v", entry)
	}

	// Searches alone are still available.
	if err := svc.RecordUsage(orgID, 0, 1); err != nil {
		t.Fatal(err)
	}
}

func TestService_RecordUsageZeroIsNoop(t *testing.T) {
	svc, s, orgID := newTestService(t)

	if err := svc.RecordUsage(orgID, 0, 0); err != nil {
		t.Fatal(err)
	}
	// No ledger row should have been created either.
	entry, err := s.GetPlan(orgID)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Error("expected no ledger entry for zero usage")
	}
}

func TestService_SetTierPreservesCounters(t *testing.T) {
	svc, _, orgID := newTestService(t)

	if err := svc.RecordUsage(orgID, 1000, 5); err != nil {
		t.Fatal(err)
	}

	entry, err := svc.SetTier(orgID, TierTide)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Tier != TierTide || entry.TokensLimit != 1_000_000 {
		t.Errorf("expected tide ceilings, got %+v", entry)
	}
	if entry.TokensUsed != 1000 || entry.SearchesUsed != 5 {
		t.Errorf("expected counters preserved, got %+v", entry)
	}
}

func TestService_AuthorizeProjectCreateCeiling(t *testing.T) {
	svc, s, orgID := newTestService(t)

	// The surface tier allows two projects.
	for i := 0; i < 2; i++ {
		if err := svc.AuthorizeProjectCreate(orgID); err != nil {
			t.Fatalf("project %d: %v", i, err)
		}
		p := &store.Project{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
			Name:           "project",
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.CreateProject(p); err != nil {
			t.Fatal(err)
		}
	}

	err := svc.AuthorizeProjectCreate(orgID)
	if !errors.HasCode(err, errors.CodeLimitExceeded) {
		t.Fatalf("expected LIMIT_EXCEEDED at the project ceiling, got %v", err)
	}

	// A larger tier lifts the ceiling.
	if _, err := svc.SetTier(orgID, TierTide); err != nil {
		t.Fatal(err)
	}
	if err := svc.AuthorizeProjectCreate(orgID); err != nil {
		t.Errorf("expected tide tier to allow a third project, got %v", err)
	}
}

func TestService_SetTierUnknown(t *testing.T) {
	svc, _, orgID := newTestService(t)

	_, err := svc.SetTier(orgID, "enterprise")
	if !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestService_EmbeddingsEnabled(t *testing.T) {
	svc, _, orgID := newTestService(t)

	entry, err := svc.GetOrCreate(orgID)
	if err != nil {
		t.Fatal(err)
	}
	if svc.EmbeddingsEnabled(entry) {
		t.Error("surface tier must not allow embeddings")
	}

	entry, err = svc.SetTier(orgID, TierTide)
	if err != nil {
		t.Fatal(err)
	}
	if !svc.EmbeddingsEnabled(entry) {
		t.Error("tide tier must allow embeddings")
	}

	if svc.EmbeddingsEnabled(nil) {
		t.Error("nil entry must behave as default tier")
	}
}
