package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateAgent inserts an agent in the pending state.
func (s *Store) CreateAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, organization_id, project_id, owner_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.OrganizationID, a.ProjectID, a.OwnerID, a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetAgent returns the agent, or nil if absent.
func (s *Store) GetAgent(id string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRow(`
		SELECT id, organization_id, project_id, owner_id, status, last_seen_at, created_at
		FROM agents WHERE id = ?
	`, id))
}

// FindAgentByOwner returns the owner's agent in a project, or nil.
func (s *Store) FindAgentByOwner(projectID, ownerID string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRow(`
		SELECT id, organization_id, project_id, owner_id, status, last_seen_at, created_at
		FROM agents WHERE project_id = ? AND owner_id = ?
		ORDER BY created_at ASC LIMIT 1
	`, projectID, ownerID))
}

func (s *Store) scanAgent(row *sql.Row) (*Agent, error) {
	var (
		a        Agent
		lastSeen sql.NullTime
	)
	err := row.Scan(&a.ID, &a.OrganizationID, &a.ProjectID, &a.OwnerID, &a.Status, &lastSeen, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		a.LastSeenAt = &t
	}
	return &a, nil
}

// CountAgentsInProject returns the number of agents in a project.
func (s *Store) CountAgentsInProject(projectID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM agents WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}

// TouchAgentConnected marks the agent connected and updates its last-seen
// timestamp. Called as a side effect of every successful verification.
func (s *Store) TouchAgentConnected(id string, seenAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE agents SET status = ?, last_seen_at = ? WHERE id = ?
	`, AgentStatusConnected, seenAt, id)
	return err
}

// GetKey returns the key by id, revoked or not, or nil if absent.
func (s *Store) GetKey(keyID string) (*AgentKey, error) {
	var (
		k       AgentKey
		revoked sql.NullTime
	)
	err := s.db.QueryRow(`
		SELECT id, agent_id, secret_hash, created_at, revoked_at
		FROM agent_keys WHERE id = ?
	`, keyID).Scan(&k.ID, &k.AgentID, &k.SecretHash, &k.CreatedAt, &revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if revoked.Valid {
		t := revoked.Time
		k.RevokedAt = &t
	}
	return &k, nil
}

// ActiveKeyForAgent returns the agent's non-revoked key, or nil.
func (s *Store) ActiveKeyForAgent(agentID string) (*AgentKey, error) {
	var (
		k       AgentKey
		revoked sql.NullTime
	)
	err := s.db.QueryRow(`
		SELECT id, agent_id, secret_hash, created_at, revoked_at
		FROM agent_keys WHERE agent_id = ? AND revoked_at IS NULL
		ORDER BY created_at DESC LIMIT 1
	`, agentID).Scan(&k.ID, &k.AgentID, &k.SecretHash, &k.CreatedAt, &revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// RotateKey revokes every active key for the agent and inserts the new
// key in a single transaction, so no observer sees two active keys or a
// rotation window with none.
func (s *Store) RotateKey(agentID string, newKey *AgentKey) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE agent_keys SET revoked_at = ? WHERE agent_id = ? AND revoked_at IS NULL
	`, time.Now().UTC(), agentID); err != nil {
		return fmt.Errorf("revoke keys: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO agent_keys (id, agent_id, secret_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, newKey.ID, agentID, newKey.SecretHash, newKey.CreatedAt); err != nil {
		return fmt.Errorf("insert key: %w", err)
	}

	return tx.Commit()
}

// CountActiveKeys returns the number of non-revoked keys for an agent.
func (s *Store) CountActiveKeys(agentID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM agent_keys WHERE agent_id = ? AND revoked_at IS NULL
	`, agentID).Scan(&n)
	return n, err
}
