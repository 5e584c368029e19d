package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tidemark-oss/tidemark/internal/embedding"
	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/keystore"
	"github.com/tidemark-oss/tidemark/internal/store"
)

// Search modes.
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
)

// substringScore ranks a plain text match below any meaningful vector
// similarity while still surfacing it.
const substringScore = 0.1

// SearchInput describes one retrieval call.
type SearchInput struct {
	Query      string   `json:"query"`
	MemoryType string   `json:"memoryType,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Mode       string   `json:"mode,omitempty"` // semantic (default) or keyword
}

// SearchHit is one ranked result. The stored embedding never leaves the
// service.
type SearchHit struct {
	Memory *store.Memory `json:"memory"`
	Score  float64       `json:"score"`
}

// SearchResult reports the hits and whether vector ranking was used.
type SearchResult struct {
	Hits     []SearchHit `json:"hits"`
	Semantic bool        `json:"semantic"`
	Tokens   int64       `json:"tokens"`
}

// Search ranks the project's recent memories against a query.
//
// The working set is bounded: only the newest scanLimit memories inside
// the project's retention window are considered. Semantic mode embeds the
// query and ranks by cosine similarity; memories without a vector fall
// back to substring scoring and otherwise stay as zero-score candidates.
// When the gateway is down the whole call degrades to keyword mode rather
// than failing. Each call meters one
// search plus the query's embedding tokens before any results are
// returned.
func (s *Service) Search(ctx context.Context, ac *keystore.AgentContext, in SearchInput) (*SearchResult, error) {
	start := time.Now()

	query := strings.TrimSpace(in.Query)
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	entry, err := s.plans.GetOrCreate(ac.Organization.ID)
	if err != nil {
		return nil, err
	}

	var (
		queryVec []float64
		tokens   int64
	)
	if in.Mode != ModeKeyword && query != "" && s.gateway.Enabled() && s.plans.EmbeddingsEnabled(entry) {
		res, err := s.gateway.EmbedQuery(ctx, query)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("Embedding unavailable, falling back to keyword search",
					"agent_id", ac.Agent.ID, "error", err)
			}
		} else {
			queryVec = res.Vector
			tokens = res.Tokens
		}
	}

	if err := s.plans.RecordUsage(ac.Organization.ID, tokens, 1); err != nil {
		return nil, err
	}

	memories, err := s.store.RecentMemories(ac.Project.ID, s.scanLimit)
	if err != nil {
		return nil, wrapStorage("failed to scan memories", err)
	}

	var cutoff time.Time
	if days := store.RetentionDays(ac.Project.MemoryRetention); days > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -days)
	}

	lowered := strings.ToLower(query)
	var hits []SearchHit
	for _, m := range memories {
		if !cutoff.IsZero() && m.CreatedAt.Before(cutoff) {
			continue
		}
		if in.MemoryType != "" && m.MemoryType != in.MemoryType {
			continue
		}
		if len(in.Tags) > 0 && !tagsOverlap(m.Tags, in.Tags) {
			continue
		}

		if query == "" {
			hits = append(hits, SearchHit{Memory: m, Score: 0})
			continue
		}

		if queryVec != nil {
			// Every candidate stays in the ranking: embedded memories by
			// cosine, the rest by substring or at score zero.
			score := 0.0
			if len(m.Embedding) > 0 {
				score = embedding.Cosine(queryVec, m.Embedding)
			} else if strings.Contains(strings.ToLower(m.Content), lowered) {
				score = substringScore
			}
			hits = append(hits, SearchHit{Memory: m, Score: score})
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), lowered) {
			hits = append(hits, SearchHit{Memory: m, Score: substringScore})
		}
	}

	// Higher score first; ties break toward newer memories.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Memory.CreatedAt.After(hits[j].Memory.CreatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	if err := s.plans.LogUsage(&store.UsageLogEntry{
		ID:             ulid.Make().String(),
		OrganizationID: ac.Organization.ID,
		AgentID:        ac.Agent.ID,
		Kind:           usageKindSearch,
		Tokens:         tokens,
		Searches:       1,
		Query:          query,
		CreatedAt:      time.Now().UTC(),
	}); err != nil && s.logger != nil {
		s.logger.Warn("Failed to write usage log", "agent_id", ac.Agent.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.IncSearchesServed()
		s.metrics.RecordSearchLatency(time.Since(start))
	}
	s.bus.Emit(event.NewEvent(event.MemorySearched, map[string]interface{}{
		"agent_id":   ac.Agent.ID,
		"project_id": ac.Project.ID,
		"hits":       len(hits),
		"semantic":   queryVec != nil,
	}))

	return &SearchResult{Hits: hits, Semantic: queryVec != nil, Tokens: tokens}, nil
}

func tagsOverlap(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
