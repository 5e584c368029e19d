package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/tidemark-oss/tidemark/internal/errors"
	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/plan"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

// secretBytes is the entropy of a generated key secret.
const secretBytes = 32

// Keystore issues and verifies agent key pairs. Secrets are hashed on
// write and never persisted in plaintext.
type Keystore struct {
	store   *store.Store
	plans   *plan.Service
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	bus     *event.Bus
}

// New creates a keystore. Metrics and bus may be nil.
func New(s *store.Store, plans *plan.Service, logger *telemetry.Logger, metrics *telemetry.Metrics, bus *event.Bus) *Keystore {
	return &Keystore{store: s, plans: plans, logger: logger, metrics: metrics, bus: bus}
}

// Credentials is the result of an issue call. Secret is populated only
// when a new key was minted; it is shown exactly once.
type Credentials struct {
	AgentID string `json:"agent_id"`
	KeyID   string `json:"key_id"`
	Secret  string `json:"secret,omitempty"`
}

// AgentContext is the resolved identity of a verified caller.
type AgentContext struct {
	Agent        *store.Agent
	Project      *store.Project
	Organization *store.Organization
}

// Issue mints credentials for the owner's agent in a project.
//
// When the owner has no agent yet, one is created subject to the plan's
// agents-per-project ceiling. When an active key already exists and rotate
// is false, the existing key id is returned without a secret. With rotate
// set, every active key is revoked and a fresh pair is minted atomically.
func (k *Keystore) Issue(projectID, ownerID string, rotate bool) (*Credentials, error) {
	if projectID == "" || ownerID == "" {
		return nil, errors.New(errors.CodeInvalidInput, "projectId and ownerId are required")
	}

	project, err := k.store.GetProject(projectID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to load project", err)
	}
	if project == nil {
		return nil, errors.Newf(errors.CodeNotFound, "project %s not found", projectID)
	}

	agent, err := k.store.FindAgentByOwner(projectID, ownerID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to look up agent", err)
	}

	if agent == nil {
		entry, err := k.plans.GetOrCreate(project.OrganizationID)
		if err != nil {
			return nil, err
		}
		count, err := k.store.CountAgentsInProject(projectID)
		if err != nil {
			return nil, errors.Wrap(errors.CodeStorage, "failed to count agents", err)
		}
		if count >= entry.AgentsPerProjectLimit {
			return nil, errors.Newf(errors.CodeLimitExceeded,
				"project %s is at its agent limit (%d)", projectID, entry.AgentsPerProjectLimit).
				WithSuggestion("Upgrade the plan tier to register more agents")
		}

		agent = &store.Agent{
			ID:             uuid.New().String(),
			OrganizationID: project.OrganizationID,
			ProjectID:      projectID,
			OwnerID:        ownerID,
			Status:         store.AgentStatusPending,
			CreatedAt:      time.Now().UTC(),
		}
		if err := k.store.CreateAgent(agent); err != nil {
			return nil, errors.Wrap(errors.CodeStorage, "failed to create agent", err)
		}
	}

	active, err := k.store.ActiveKeyForAgent(agent.ID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to look up active key", err)
	}

	if active != nil && !rotate {
		// Idempotent re-issue: the secret cannot be recovered, only the id.
		return &Credentials{AgentID: agent.ID, KeyID: active.ID}, nil
	}

	secret, hash, err := mintSecret()
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to generate secret", err)
	}

	key := &store.AgentKey{
		ID:         uuid.New().String(),
		AgentID:    agent.ID,
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	}
	if err := k.store.RotateKey(agent.ID, key); err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to store key", err)
	}

	evType := event.AgentKeyIssued
	if active != nil {
		evType = event.AgentKeyRotated
	}
	k.bus.Emit(event.NewEvent(evType, map[string]interface{}{
		"agent_id":   agent.ID,
		"project_id": projectID,
		"key_id":     key.ID,
	}))
	if k.logger != nil {
		k.logger.Info("Agent key issued",
			"agent_id", agent.ID, "key_id", key.ID, "rotated", active != nil)
	}

	return &Credentials{AgentID: agent.ID, KeyID: key.ID, Secret: secret}, nil
}

// Verify checks a key pair and resolves the caller's agent, project, and
// organization. Every failure mode returns the same UNAUTHORIZED error so
// callers cannot distinguish an unknown key from a bad secret.
func (k *Keystore) Verify(keyID, secret string) (*AgentContext, error) {
	key, err := k.store.GetKey(keyID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to look up key", err)
	}
	if key == nil || !key.Active() || !secretMatches(key.SecretHash, secret) {
		if k.metrics != nil {
			k.metrics.IncAuthFailures()
		}
		return nil, errors.New(errors.CodeUnauthorized, "invalid key").
			WithSuggestion("Check the key id and secret, or request a rotation")
	}

	agent, err := k.store.GetAgent(key.AgentID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to load agent", err)
	}
	if agent == nil {
		return nil, errors.New(errors.CodeUnauthorized, "invalid key")
	}

	project, err := k.store.GetProject(agent.ProjectID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to load project", err)
	}
	org, err := k.store.GetOrganization(agent.OrganizationID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorage, "failed to load organization", err)
	}
	if project == nil || org == nil {
		return nil, errors.New(errors.CodeUnauthorized, "invalid key")
	}

	now := time.Now().UTC()
	firstConnect := agent.Status != store.AgentStatusConnected
	if err := k.store.TouchAgentConnected(agent.ID, now); err != nil && k.logger != nil {
		k.logger.Warn("Failed to update agent last-seen", "agent_id", agent.ID, "error", err)
	}
	agent.Status = store.AgentStatusConnected
	agent.LastSeenAt = &now

	if firstConnect {
		k.bus.Emit(event.NewEvent(event.AgentConnected, map[string]interface{}{
			"agent_id":   agent.ID,
			"project_id": project.ID,
		}))
	}

	return &AgentContext{Agent: agent, Project: project, Organization: org}, nil
}

func mintSecret() (secret, hash string, err error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	secret = base64.RawURLEncoding.EncodeToString(raw)
	return secret, hashSecret(secret), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secretMatches(storedHash, secret string) bool {
	candidate := hashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(candidate)) == 1
}
