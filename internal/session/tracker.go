package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/tidemark-oss/tidemark/internal/errors"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

// Tracker groups memories and usage events into agent sessions.
type Tracker struct {
	store  *store.Store
	logger *telemetry.Logger
}

// NewTracker creates a session tracker.
func NewTracker(s *store.Store, logger *telemetry.Logger) *Tracker {
	return &Tracker{store: s, logger: logger}
}

// EnsureSession resolves the session a write belongs to.
//
// A known session id is touched and returned. An unknown id with a name
// falls through to creation; a bare unknown id yields no session rather
// than an error, so a stale client id never blocks a write. With neither
// id nor name the write is untracked and "" is returned.
func (t *Tracker) EnsureSession(agent *store.Agent, sessionID, name, model string) (string, error) {
	now := time.Now().UTC()

	if sessionID != "" {
		sess, err := t.store.GetSession(sessionID)
		if err != nil {
			return "", errors.Wrap(errors.CodeStorage, "failed to load session", err)
		}
		if sess != nil && sess.AgentID == agent.ID {
			if err := t.store.TouchSession(sessionID, model, now); err != nil {
				return "", errors.Wrap(errors.CodeStorage, "failed to touch session", err)
			}
			return sessionID, nil
		}
	}

	if name == "" {
		return "", nil
	}

	sess := &store.Session{
		ID:             uuid.New().String(),
		AgentID:        agent.ID,
		ProjectID:      agent.ProjectID,
		Name:           name,
		Model:          model,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := t.store.CreateSession(sess); err != nil {
		return "", errors.Wrap(errors.CodeStorage, "failed to create session", err)
	}
	if t.logger != nil {
		t.logger.Debug("Session started", "session_id", sess.ID, "agent_id", agent.ID)
	}
	return sess.ID, nil
}

// EventInput describes one event to append to a session log.
type EventInput struct {
	Kind             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64 // defaults to prompt + completion when zero
	Content          string
}

// RecordEvent appends an event to the session log and advances the
// session's activity timestamp.
func (t *Tracker) RecordEvent(sessionID string, in EventInput) error {
	if sessionID == "" {
		return nil
	}

	total := in.TotalTokens
	if total == 0 {
		total = in.PromptTokens + in.CompletionTokens
	}

	ev := &store.SessionEvent{
		ID:               ulid.Make().String(),
		SessionID:        sessionID,
		Kind:             in.Kind,
		Model:            in.Model,
		PromptTokens:     in.PromptTokens,
		CompletionTokens: in.CompletionTokens,
		TotalTokens:      total,
		Content:          in.Content,
		CreatedAt:        time.Now().UTC(),
	}
	if err := t.store.InsertSessionEvent(ev); err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to record session event", err)
	}
	if err := t.store.TouchSession(sessionID, in.Model, ev.CreatedAt); err != nil {
		return errors.Wrap(errors.CodeStorage, "failed to touch session", err)
	}
	return nil
}
