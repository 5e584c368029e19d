package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tidemark-oss/tidemark/internal/embedding"
	"github.com/tidemark-oss/tidemark/internal/event"
	"github.com/tidemark-oss/tidemark/internal/keystore"
	"github.com/tidemark-oss/tidemark/internal/plan"
	"github.com/tidemark-oss/tidemark/internal/session"
	"github.com/tidemark-oss/tidemark/internal/store"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

// Harness wires a full service stack over a temporary database.
type Harness struct {
	T       *testing.T
	Store   *store.Store
	Metrics *telemetry.Metrics
	Bus     *event.Bus
	Plans   *plan.Service
	Keys    *keystore.Keystore

	Org     *store.Organization
	Project *store.Project
	Agent   *store.Agent

	mu       sync.Mutex
	captured []event.Event
}

// NewHarness creates a harness with one seeded organization, project, and
// agent. The project logs sessions and has no retention or type limits.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "tidemark.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	h := &Harness{
		T:       t,
		Store:   s,
		Metrics: telemetry.NewMetrics(),
		Bus:     event.NewBus(nil),
	}
	h.Plans = plan.NewService(s, nil, h.Metrics, h.Bus)
	h.Keys = keystore.New(s, h.Plans, nil, h.Metrics, h.Bus)

	h.Bus.Register(event.NewFuncHook("test-capture", nil, true, func(ev event.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.captured = append(h.captured, ev)
		return nil
	}))

	h.Org = &store.Organization{ID: uuid.New().String(), Name: "acme", CreatedAt: time.Now().UTC()}
	if err := s.CreateOrganization(h.Org); err != nil {
		t.Fatal(err)
	}
	h.Project = &store.Project{
		ID:                    uuid.New().String(),
		OrganizationID:        h.Org.ID,
		Name:                  "assistant",
		MemoryRetention:       store.RetentionForever,
		SessionLoggingEnabled: true,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.CreateProject(h.Project); err != nil {
		t.Fatal(err)
	}
	h.Agent = &store.Agent{
		ID:             uuid.New().String(),
		OrganizationID: h.Org.ID,
		ProjectID:      h.Project.ID,
		OwnerID:        "owner-1",
		Status:         store.AgentStatusConnected,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.CreateAgent(h.Agent); err != nil {
		t.Fatal(err)
	}

	return h
}

// Tracker returns a session tracker over the harness store.
func (h *Harness) Tracker() *session.Tracker {
	return session.NewTracker(h.Store, nil)
}

// AgentContext returns the seeded agent's resolved identity.
func (h *Harness) AgentContext() *keystore.AgentContext {
	return &keystore.AgentContext{
		Agent:        h.Agent,
		Project:      h.Project,
		Organization: h.Org,
	}
}

// Events returns a copy of every event captured so far.
func (h *Harness) Events() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event.Event, len(h.captured))
	copy(out, h.captured)
	return out
}

// EventsOfType returns captured events of one type.
func (h *Harness) EventsOfType(t event.EventType) []event.Event {
	var out []event.Event
	for _, ev := range h.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// EmbedFunc computes a vector and token count for one embed request.
type EmbedFunc func(input, inputType string) ([]float64, int64)

// GatewayServer starts a mock embedding endpoint backed by fn and returns
// a gateway client pointed at it.
func GatewayServer(t *testing.T, fn EmbedFunc) *embedding.Gateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input     string `json:"input"`
			InputType string `json:"input_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vec, tokens := fn(req.Input, req.InputType)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": vec, "tokens": tokens},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return embedding.NewGateway(srv.URL, 5*time.Second, nil)
}

// BrokenGateway returns a gateway client pointed at an endpoint that
// always fails.
func BrokenGateway(t *testing.T) *embedding.Gateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return embedding.NewGateway(srv.URL, time.Second, nil)
}
