package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertMemory persists one memory record.
func (s *Store) InsertMemory(m *Memory) error {
	tags, err := marshalJSON(m.Tags)
	if err != nil {
		return err
	}

	var metadata sql.NullString
	if len(m.Metadata) > 0 {
		raw, err := marshalJSON(m.Metadata)
		if err != nil {
			return err
		}
		metadata = nullString(raw)
	}

	var embedding sql.NullString
	if len(m.Embedding) > 0 {
		raw, err := marshalJSON(m.Embedding)
		if err != nil {
			return err
		}
		embedding = nullString(raw)
	}

	_, err = s.db.Exec(`
		INSERT INTO memories (id, organization_id, project_id, agent_id, content, tags,
			memory_type, metadata, session_id, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.OrganizationID, m.ProjectID, m.AgentID, m.Content, tags,
		nullString(m.MemoryType), metadata, nullString(m.SessionID), embedding, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

const memoryColumns = `id, organization_id, project_id, agent_id, content, tags,
	memory_type, metadata, session_id, embedding, created_at`

func scanMemory(rows *sql.Rows) (*Memory, error) {
	var (
		m          Memory
		tags       string
		memoryType sql.NullString
		metadata   sql.NullString
		sessionID  sql.NullString
		embedding  sql.NullString
	)
	if err := rows.Scan(&m.ID, &m.OrganizationID, &m.ProjectID, &m.AgentID, &m.Content, &tags,
		&memoryType, &metadata, &sessionID, &embedding, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Tags = unmarshalStrings(tags)
	m.MemoryType = memoryType.String
	m.Metadata = unmarshalMap(metadata)
	m.SessionID = sessionID.String
	m.Embedding = unmarshalFloats(embedding)
	return &m, nil
}

// RecentMemories returns up to limit memories for the project, newest
// first. This is the retrieval engine's bounded working set.
func (s *Store) RecentMemories(projectID string, limit int) ([]*Memory, error) {
	rows, err := s.db.Query(`
		SELECT `+memoryColumns+`
		FROM memories
		WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// DeleteMemoriesByIDs deletes the given memories, scoped to one agent and
// project so a caller can never delete outside its own scope. Returns the
// number of rows actually deleted.
func (s *Store) DeleteMemoriesByIDs(projectID, agentID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, projectID, agentID)

	res, err := s.db.Exec(`
		DELETE FROM memories
		WHERE id IN (`+placeholders+`) AND project_id = ? AND agent_id = ?
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredBatch deletes up to limit memories in the project older
// than cutoff. Bounded so a single sweep run never holds a long
// transaction; leftover rows are caught by the next run.
func (s *Store) DeleteExpiredBatch(projectID string, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM memories WHERE id IN (
			SELECT id FROM memories
			WHERE project_id = ? AND created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, projectID, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired batch: %w", err)
	}
	return res.RowsAffected()
}

// CountMemoriesByAgent returns the number of memories owned by an agent.
func (s *Store) CountMemoriesByAgent(agentID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE agent_id = ?`, agentID).Scan(&n)
	return n, err
}

// LatestMemory returns the most recent memory for the agent, optionally
// restricted to memories carrying the given tag. Returns nil when none
// match.
func (s *Store) LatestMemory(projectID, agentID, tag string) (*Memory, error) {
	rows, err := s.db.Query(`
		SELECT `+memoryColumns+`
		FROM memories
		WHERE project_id = ? AND agent_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 50
	`, projectID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if tag == "" {
			return m, nil
		}
		for _, t := range m.Tags {
			if t == tag {
				return m, nil
			}
		}
	}
	return nil, rows.Err()
}

// ListMemories returns memories matching the dashboard filter, newest
// first, using the id as an exclusive cursor (ULIDs order by time).
func (s *Store) ListMemories(f MemoryFilter) ([]*Memory, error) {
	where := []string{"project_id = ?"}
	args := []interface{}{f.ProjectID}

	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.MemoryType != "" {
		where = append(where, "memory_type = ?")
		args = append(args, f.MemoryType)
	}
	if f.Query != "" {
		where = append(where, "content LIKE ?")
		args = append(args, "%"+f.Query+"%")
	}
	if f.Cursor != "" {
		where = append(where, "id < ?")
		args = append(args, f.Cursor)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.Query(`
		SELECT `+memoryColumns+`
		FROM memories
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY id DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
