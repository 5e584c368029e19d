package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateSession inserts a session.
func (s *Store) CreateSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, agent_id, project_id, name, model, started_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.AgentID, sess.ProjectID, sess.Name, nullString(sess.Model),
		sess.StartedAt, sess.LastActivityAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns the session, or nil if absent.
func (s *Store) GetSession(id string) (*Session, error) {
	var (
		sess  Session
		model sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT id, agent_id, project_id, name, model, started_at, last_activity_at
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.AgentID, &sess.ProjectID, &sess.Name, &model,
		&sess.StartedAt, &sess.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.Model = model.String
	return &sess, nil
}

// TouchSession updates the session's activity timestamp and, when model
// is non-empty, its model identifier.
func (s *Store) TouchSession(id, model string, at time.Time) error {
	if model != "" {
		_, err := s.db.Exec(`
			UPDATE sessions SET last_activity_at = ?, model = ? WHERE id = ?
		`, at, model, id)
		return err
	}
	_, err := s.db.Exec(`
		UPDATE sessions SET last_activity_at = ? WHERE id = ?
	`, at, id)
	return err
}

// InsertSessionEvent appends one event to the session log.
func (s *Store) InsertSessionEvent(ev *SessionEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO session_events (id, session_id, kind, model, prompt_tokens,
			completion_tokens, total_tokens, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.SessionID, ev.Kind, nullString(ev.Model), ev.PromptTokens,
		ev.CompletionTokens, ev.TotalTokens, nullString(ev.Content), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// ListSessionEvents returns the session's events, oldest first.
func (s *Store) ListSessionEvents(sessionID string, limit int) ([]*SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, kind, model, prompt_tokens, completion_tokens,
			total_tokens, content, created_at
		FROM session_events
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*SessionEvent
	for rows.Next() {
		var (
			ev      SessionEvent
			model   sql.NullString
			content sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &model, &ev.PromptTokens,
			&ev.CompletionTokens, &ev.TotalTokens, &content, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Model = model.String
		ev.Content = content.String
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// CountSessionsByAgent returns the number of sessions for an agent.
func (s *Store) CountSessionsByAgent(agentID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE agent_id = ?`, agentID).Scan(&n)
	return n, err
}
