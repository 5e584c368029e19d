package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetPlan returns the organization's ledger entry, or nil if absent.
func (s *Store) GetPlan(orgID string) (*PlanLedgerEntry, error) {
	var e PlanLedgerEntry
	err := s.db.QueryRow(`
		SELECT organization_id, tier, projects_limit, agents_per_project_limit,
			tokens_limit, searches_limit, tokens_used, searches_used, updated_at
		FROM plan_ledger WHERE organization_id = ?
	`, orgID).Scan(&e.OrganizationID, &e.Tier, &e.ProjectsLimit, &e.AgentsPerProjectLimit,
		&e.TokensLimit, &e.SearchesLimit, &e.TokensUsed, &e.SearchesUsed, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EnsurePlan inserts the entry if the organization has none yet. The
// UNIQUE primary key makes concurrent calls safe: the losing insert is a
// no-op, never a duplicate row.
func (s *Store) EnsurePlan(e *PlanLedgerEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO plan_ledger (organization_id, tier, projects_limit,
			agents_per_project_limit, tokens_limit, searches_limit,
			tokens_used, searches_used, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT(organization_id) DO NOTHING
	`, e.OrganizationID, e.Tier, e.ProjectsLimit, e.AgentsPerProjectLimit,
		e.TokensLimit, e.SearchesLimit, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ensure plan: %w", err)
	}
	return nil
}

// ApplyUsage atomically adds tokens/searches to the running counters. The
// guard in the WHERE clause makes the check-and-increment a single
// serialized read-modify-write: when either resulting total would exceed
// its ceiling the update matches zero rows and nothing is applied.
func (s *Store) ApplyUsage(orgID string, tokens, searches int64) (applied bool, err error) {
	res, err := s.db.Exec(`
		UPDATE plan_ledger
		SET tokens_used = tokens_used + ?,
			searches_used = searches_used + ?,
			updated_at = ?
		WHERE organization_id = ?
			AND tokens_used + ? <= tokens_limit
			AND searches_used + ? <= searches_limit
	`, tokens, searches, time.Now().UTC(), orgID, tokens, searches)
	if err != nil {
		return false, fmt.Errorf("apply usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReplaceTier swaps the tier and ceilings while preserving counters.
func (s *Store) ReplaceTier(orgID, tier string, projectsLimit, agentsPerProjectLimit, tokensLimit, searchesLimit int64) error {
	_, err := s.db.Exec(`
		UPDATE plan_ledger
		SET tier = ?, projects_limit = ?, agents_per_project_limit = ?,
			tokens_limit = ?, searches_limit = ?, updated_at = ?
		WHERE organization_id = ?
	`, tier, projectsLimit, agentsPerProjectLimit, tokensLimit, searchesLimit,
		time.Now().UTC(), orgID)
	if err != nil {
		return fmt.Errorf("replace tier: %w", err)
	}
	return nil
}

// InsertUsageLog appends one audit row for a metered operation.
func (s *Store) InsertUsageLog(u *UsageLogEntry) error {
	var metadata sql.NullString
	if len(u.Metadata) > 0 {
		raw, err := marshalJSON(u.Metadata)
		if err != nil {
			return err
		}
		metadata = nullString(raw)
	}
	_, err := s.db.Exec(`
		INSERT INTO usage_log (id, organization_id, agent_id, kind, tokens, searches,
			memory_id, query, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.OrganizationID, nullString(u.AgentID), u.Kind, u.Tokens, u.Searches,
		nullString(u.MemoryID), nullString(u.Query), metadata, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// ListUsage returns recent usage rows for an organization, newest first.
func (s *Store) ListUsage(orgID string, limit int) ([]*UsageLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, organization_id, agent_id, kind, tokens, searches,
			memory_id, query, metadata, created_at
		FROM usage_log
		WHERE organization_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*UsageLogEntry
	for rows.Next() {
		var (
			u        UsageLogEntry
			agentID  sql.NullString
			memoryID sql.NullString
			query    sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.OrganizationID, &agentID, &u.Kind, &u.Tokens, &u.Searches,
			&memoryID, &query, &metadata, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.AgentID = agentID.String
		u.MemoryID = memoryID.String
		u.Query = query.String
		u.Metadata = unmarshalMap(metadata)
		entries = append(entries, &u)
	}
	return entries, rows.Err()
}
