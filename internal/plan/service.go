package plan

import (
	"strings"
	"time"

	"github.com/tidemark-oss/tidemark/internal/errors"
	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

// Service enforces plan ceilings against the ledger.
type Service struct {
	store   *store.Store
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	bus     *event.Bus
}

// NewService creates a plan service. Metrics and bus may be nil.
func NewService(s *store.Store, logger *telemetry.Logger, metrics *telemetry.Metrics, bus *event.Bus) *Service {
	return &Service{store: s, logger: logger, metrics: metrics, bus: bus}
}

// GetOrCreate returns the organization's ledger entry, creating one on the
// default tier when absent. Safe under concurrent first calls.
func (s *Service) GetOrCreate(orgID string) (*store.PlanLedgerEntry, error) {
	def := DefaultTier()
	err := s.store.EnsurePlan(&store.PlanLedgerEntry{
		OrganizationID:        orgID,
		Tier:                  def.Name,
		ProjectsLimit:         def.ProjectsLimit,
		AgentsPerProjectLimit: def.AgentsPerProjectLimit,
		TokensLimit:           def.TokensLimit,
		SearchesLimit:         def.SearchesLimit,
		UpdatedAt:             time.Now().UTC(),
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to ensure plan ledger", err)
	}

	entry, err := s.store.GetPlan(orgID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to read plan ledger", err)
	}
	if entry == nil {
		return nil, errors.Newf(errors.CodeStorage, "plan ledger missing for organization %s", orgID)
	}
	return entry, nil
}

// RecordUsage atomically adds tokens and searches to the running counters.
// When either resulting total would exceed its ceiling, nothing is applied
// and the caller gets QUOTA_EXCEEDED.
func (s *Service) RecordUsage(orgID string, tokens, searches int64) error {
	if tokens == 0 && searches == 0 {
		return nil
	}

	if _, err := s.GetOrCreate(orgID); err != nil {
		return err
	}

	applied, err := s.store.ApplyUsage(orgID, tokens, searches)
	if err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to apply usage", err)
	}
	if !applied {
		if s.metrics != nil {
			s.metrics.IncQuotaRejections()
		}
		s.bus.Emit(event.NewEvent(event.QuotaExceeded, map[string]interface{}{
			"organization_id": orgID,
			"tokens":          tokens,
			"searches":        searches,
		}))
		return errors.Newf(errors.CodeQuotaExceeded,
			"plan quota exceeded for organization %s", orgID).
			WithSuggestion("Upgrade the plan tier or wait for the next billing cycle")
	}
	return nil
}

// SetTier replaces the organization's tier and ceilings. Usage counters are
// preserved, so a downgrade can leave an organization over its new ceiling
// until the counters reset. Setting the current tier again is a no-op.
func (s *Service) SetTier(orgID, tierName string) (*store.PlanLedgerEntry, error) {
	tier, ok := TierByName(tierName)
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown plan tier %q", tierName).
			WithSuggestion("Valid tiers: " + strings.Join(TierNames(), ", "))
	}

	if _, err := s.GetOrCreate(orgID); err != nil {
		return nil, err
	}

	if err := s.store.ReplaceTier(orgID, tier.Name, tier.ProjectsLimit,
		tier.AgentsPerProjectLimit, tier.TokensLimit, tier.SearchesLimit); err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to replace plan tier", err)
	}

	entry, err := s.store.GetPlan(orgID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to read plan ledger", err)
	}

	s.bus.Emit(event.NewEvent(event.PlanChanged, map[string]interface{}{
		"organization_id": orgID,
		"tier":            tier.Name,
	}))
	if s.logger != nil {
		s.logger.Info("Plan tier changed", "organization_id", orgID, "tier", tier.Name)
	}
	return entry, nil
}

// AuthorizeProjectCreate checks the organization's project ceiling before a
// new project is provisioned.
func (s *Service) AuthorizeProjectCreate(orgID string) error {
	entry, err := s.GetOrCreate(orgID)
	if err != nil {
		return err
	}
	count, err := s.store.CountProjects(orgID)
	if err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to count projects", err)
	}
	if count >= entry.ProjectsLimit {
		return errors.Newf(errors.CodeLimitExceeded,
			"organization %s is at its project limit (%d)", orgID, entry.ProjectsLimit).
			WithSuggestion("Upgrade the plan tier to add more projects")
	}
	return nil
}

// EmbeddingsEnabled reports whether the entry's tier allows embedding calls.
// Unknown tiers behave as the default tier.
func (s *Service) EmbeddingsEnabled(entry *store.PlanLedgerEntry) bool {
	if entry == nil {
		return DefaultTier().EmbeddingsEnabled
	}
	tier, ok := TierByName(entry.Tier)
	if !ok {
		return DefaultTier().EmbeddingsEnabled
	}
	return tier.EmbeddingsEnabled
}

// LogUsage appends an audit row for a metered operation. Best effort from
// the caller's point of view; failures are surfaced but callers may choose
// to continue.
func (s *Service) LogUsage(entry *store.UsageLogEntry) error {
	if err := s.store.InsertUsageLog(entry); err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to log usage", err)
	}
	return nil
}
