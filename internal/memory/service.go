package memory

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tidemark-oss/tidemark/internal/embedding"
	"github.com/tidemark-oss/tidemark/internal/errors"
	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/keystore"
	"github.com/tidemark-oss/tidemark/internal/plan"
	"github.com/tidemark-oss/tidemark/internal/session"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

// Usage log kinds.
const (
	usageKindStore  = "embedding_store"
	usageKindSearch = "embedding_search"
)

// Service implements the memory write, retrieval, and profile operations.
type Service struct {
	store     *store.Store
	plans     *plan.Service
	gateway   *embedding.Gateway
	sessions  *session.Tracker
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	bus       *event.Bus
	scanLimit int
}

// NewService creates a memory service. Gateway, metrics, and bus may be
// nil. scanLimit bounds the retrieval working set and is clamped to
// [100, 20000].
func NewService(s *store.Store, plans *plan.Service, gateway *embedding.Gateway,
	sessions *session.Tracker, logger *telemetry.Logger, metrics *telemetry.Metrics,
	bus *event.Bus, scanLimit int) *Service {
	if scanLimit <= 0 {
		scanLimit = 2000
	}
	if scanLimit < 100 {
		scanLimit = 100
	}
	if scanLimit > 20000 {
		scanLimit = 20000
	}
	return &Service{
		store: s, plans: plans, gateway: gateway, sessions: sessions,
		logger: logger, metrics: metrics, bus: bus, scanLimit: scanLimit,
	}
}

// StoreInput describes one memory write.
type StoreInput struct {
	Content     string                 `json:"content"`
	Tags        []string               `json:"tags,omitempty"`
	MemoryType  string                 `json:"memoryType,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	SessionID   string                 `json:"sessionId,omitempty"`
	SessionName string                 `json:"sessionName,omitempty"`
	Model       string                 `json:"model,omitempty"`
}

// StoreResult reports a completed write.
type StoreResult struct {
	MemoryID  string `json:"memory_id"`
	SessionID string `json:"session_id,omitempty"`
	Embedded  bool   `json:"embedded"`
	Tokens    int64  `json:"tokens"`
}

// Store persists one memory.
//
// The embedding call is best effort: a failing gateway degrades the write
// to keyword-only retrieval instead of failing it. Quota, by contrast, is
// a hard gate: when the embedding's token cost would cross the ceiling the
// memory is not stored.
func (s *Service) Store(ctx context.Context, ac *keystore.AgentContext, in StoreInput) (*StoreResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, errors.New(errors.CodeInvalidInput, "content is required")
	}

	if err := checkMemoryType(ac.Project, in.MemoryType); err != nil {
		return nil, err
	}

	entry, err := s.plans.GetOrCreate(ac.Organization.ID)
	if err != nil {
		return nil, err
	}

	var (
		vector []float64
		tokens int64
	)
	if s.gateway.Enabled() && s.plans.EmbeddingsEnabled(entry) {
		res, err := s.gateway.EmbedPassage(ctx, content)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("Embedding unavailable, storing without vector",
					"agent_id", ac.Agent.ID, "error", err)
			}
		} else {
			vector = res.Vector
			tokens = res.Tokens
		}
	}

	if tokens > 0 {
		if err := s.plans.RecordUsage(ac.Organization.ID, tokens, 0); err != nil {
			return nil, err
		}
	}

	sessionID := ""
	if ac.Project.SessionLoggingEnabled {
		sessionID, err = s.sessions.EnsureSession(ac.Agent, in.SessionID, in.SessionName, in.Model)
		if err != nil {
			return nil, err
		}
	}

	m := &store.Memory{
		ID:             ulid.Make().String(),
		OrganizationID: ac.Organization.ID,
		ProjectID:      ac.Project.ID,
		AgentID:        ac.Agent.ID,
		Content:        content,
		Tags:           normalizeTags(in.Tags),
		MemoryType:     in.MemoryType,
		Metadata:       in.Metadata,
		SessionID:      sessionID,
		Embedding:      vector,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertMemory(m); err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to store memory", err)
	}

	if sessionID != "" {
		if err := s.sessions.RecordEvent(sessionID, session.EventInput{
			Kind:         "memory_write",
			Model:        in.Model,
			PromptTokens: tokens,
		}); err != nil && s.logger != nil {
			s.logger.Warn("Failed to record session event", "session_id", sessionID, "error", err)
		}
	}

	if err := s.plans.LogUsage(&store.UsageLogEntry{
		ID:             ulid.Make().String(),
		OrganizationID: ac.Organization.ID,
		AgentID:        ac.Agent.ID,
		Kind:           usageKindStore,
		Tokens:         tokens,
		MemoryID:       m.ID,
		CreatedAt:      m.CreatedAt,
	}); err != nil && s.logger != nil {
		s.logger.Warn("Failed to write usage log", "memory_id", m.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.IncMemoriesStored()
	}
	s.bus.Emit(event.NewEvent(event.MemoryStored, map[string]interface{}{
		"memory_id":  m.ID,
		"agent_id":   ac.Agent.ID,
		"project_id": ac.Project.ID,
		"embedded":   len(vector) > 0,
	}))

	return &StoreResult{
		MemoryID:  m.ID,
		SessionID: sessionID,
		Embedded:  len(vector) > 0,
		Tokens:    tokens,
	}, nil
}

// Forget deletes the given memories, scoped to the calling agent. Unknown
// ids are skipped; the count reflects rows actually removed.
func (s *Service) Forget(ac *keystore.AgentContext, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, errors.New(errors.CodeInvalidInput, "at least one memory id is required")
	}

	n, err := s.store.DeleteMemoriesByIDs(ac.Project.ID, ac.Agent.ID, ids)
	if err != nil {
		return 0, errors.Wrap(errors.CodeStorage, "failed to delete memories", err)
	}

	if n > 0 {
		if s.metrics != nil {
			s.metrics.IncMemoriesDeleted(n)
		}
		s.bus.Emit(event.NewEvent(event.MemoryDeleted, map[string]interface{}{
			"agent_id":   ac.Agent.ID,
			"project_id": ac.Project.ID,
			"count":      n,
		}))
	}
	return n, nil
}

// Profile is the agent's self-view: counts, plan usage, and optionally
// the most recent snapshot memory.
type Profile struct {
	Agent        *store.Agent           `json:"agent"`
	MemoryCount  int64                  `json:"memory_count"`
	SessionCount int64                  `json:"session_count"`
	Current      *store.Memory          `json:"current,omitempty"`
	Plan         *store.PlanLedgerEntry `json:"plan"`
}

// GetProfile assembles the calling agent's profile. When the project has
// snapshot memories enabled, Current is the newest memory tagged
// "current"; otherwise it is simply the newest memory.
func (s *Service) GetProfile(ac *keystore.AgentContext) (*Profile, error) {
	memories, err := s.store.CountMemoriesByAgent(ac.Agent.ID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to count memories", err)
	}
	sessions, err := s.store.CountSessionsByAgent(ac.Agent.ID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to count sessions", err)
	}
	entry, err := s.plans.GetOrCreate(ac.Organization.ID)
	if err != nil {
		return nil, err
	}

	tag := ""
	if ac.Project.MemoryCurrentEnabled {
		tag = "current"
	}
	current, err := s.store.LatestMemory(ac.Project.ID, ac.Agent.ID, tag)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to load current memory", err)
	}

	return &Profile{
		Agent:        ac.Agent,
		MemoryCount:  memories,
		SessionCount: sessions,
		Current:      current,
		Plan:         entry,
	}, nil
}

func wrapStorage(msg string, err error) error {
	return errors.Wrap(errors.CodeStorage, msg, err)
}

func checkMemoryType(p *store.Project, memoryType string) error {
	if len(p.MemoryTypes) == 0 {
		return nil
	}
	if memoryType == "" {
		return errors.Newf(errors.CodeInvalidMemoryType,
			"project %s requires a memory type", p.ID).
			WithSuggestion("Allowed types: " + strings.Join(p.MemoryTypes, ", "))
	}
	for _, t := range p.MemoryTypes {
		if t == memoryType {
			return nil
		}
	}
	return errors.Newf(errors.CodeInvalidMemoryType,
		"memory type %q is not allowed in project %s", memoryType, p.ID).
		WithSuggestion("Allowed types: " + strings.Join(p.MemoryTypes, ", "))
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
