package store

import "time"

// Agent lifecycle statuses.
const (
	AgentStatusPending   = "pending"
	AgentStatusConnected = "connected"
)

// Named retention policies and their maximum memory age in days.
// RetentionForever keeps memories indefinitely.
const (
	RetentionForever = "forever"
	RetentionOneYear = "1y"
	RetentionSixMo   = "6m"
	Retention90Days  = "90d"
	Retention30Days  = "30d"
)

// RetentionDays maps a policy name to its age limit in days.
// A zero value means no limit. Unknown policies behave as forever.
func RetentionDays(policy string) int {
	switch policy {
	case RetentionOneYear:
		return 365
	case RetentionSixMo:
		return 180
	case Retention90Days:
		return 90
	case Retention30Days:
		return 30
	default:
		return 0
	}
}

// ValidRetention reports whether policy is a known retention policy name.
func ValidRetention(policy string) bool {
	switch policy {
	case RetentionForever, RetentionOneYear, RetentionSixMo, Retention90Days, Retention30Days:
		return true
	}
	return false
}

// Organization is the billing and quota scope.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Project owns the configuration consumed by the memory engine.
type Project struct {
	ID                    string    `json:"id"`
	OrganizationID        string    `json:"organization_id"`
	Name                  string    `json:"name"`
	MemoryTypes           []string  `json:"memory_types"`     // allow-list; empty = unrestricted
	MemoryRetention       string    `json:"memory_retention"` // one of the Retention* constants
	SessionLoggingEnabled bool      `json:"session_logging_enabled"`
	MemoryCurrentEnabled  bool      `json:"memory_current_enabled"`
	CreatedAt             time.Time `json:"created_at"`
}

// Agent is an external AI client scoped to one project.
type Agent struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	ProjectID      string     `json:"project_id"`
	OwnerID        string     `json:"owner_id"`
	Status         string     `json:"status"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AgentKey is one credential pair for an agent. The plaintext secret is
// never stored; only the one-way hash.
type AgentKey struct {
	ID         string     `json:"id"` // key id, presented by callers
	AgentID    string     `json:"agent_id"`
	SecretHash string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the key has not been revoked.
func (k *AgentKey) Active() bool { return k.RevokedAt == nil }

// Memory is the central persisted record. Immutable once written except
// for deletion.
type Memory struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	ProjectID      string                 `json:"project_id"`
	AgentID        string                 `json:"agent_id"`
	Content        string                 `json:"content"`
	Tags           []string               `json:"tags"`
	MemoryType     string                 `json:"memory_type,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	SessionID      string                 `json:"session_id,omitempty"`
	Embedding      []float64              `json:"-"` // never serialized to callers
	CreatedAt      time.Time              `json:"created_at"`
}

// Session groups memories and events for one agent conversation.
type Session struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"name"`
	Model          string    `json:"model,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// SessionEvent is an append-only log entry for a session.
type SessionEvent struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Kind             string    `json:"kind"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	Content          string    `json:"content,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// PlanLedgerEntry holds the per-organization plan tier, ceilings, and
// running usage counters. Counters never decrease.
type PlanLedgerEntry struct {
	OrganizationID        string    `json:"organization_id"`
	Tier                  string    `json:"tier"`
	ProjectsLimit         int64     `json:"projects_limit"`
	AgentsPerProjectLimit int64     `json:"agents_per_project_limit"`
	TokensLimit           int64     `json:"tokens_limit"`
	SearchesLimit         int64     `json:"searches_limit"`
	TokensUsed            int64     `json:"tokens_used"`
	SearchesUsed          int64     `json:"searches_used"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// UsageLogEntry is an immutable audit row per metered operation.
type UsageLogEntry struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	AgentID        string                 `json:"agent_id,omitempty"`
	Kind           string                 `json:"kind"`
	Tokens         int64                  `json:"tokens"`
	Searches       int64                  `json:"searches"`
	MemoryID       string                 `json:"memory_id,omitempty"`
	Query          string                 `json:"query,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// MemoryFilter selects memories for dashboard-style listing.
type MemoryFilter struct {
	ProjectID  string
	AgentID    string
	MemoryType string
	Query      string // case-insensitive content substring
	Cursor     string // exclusive upper bound on id (ULIDs sort by time)
	Limit      int
}
