package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tidemark-oss/tidemark/internal/errors"
	"github.com/tidemark-oss/tidemark/internal/memory"
	"github.com/tidemark-oss/tidemark/internal/session"
	"github.com/tidemark-oss/tidemark/internal/store"
)

// --- Helpers ---

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, code, msg, suggestion string) {
	body := map[string]string{"error": msg, "code": code}
	if suggestion != "" {
		body["suggestion"] = suggestion
	}
	jsonResponse(w, status, body)
}

// writeError maps an error's code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.AsCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case errors.CodeInvalidInput, errors.CodeInvalidMemoryType:
		status = http.StatusBadRequest
	case errors.CodeLimitExceeded:
		status = http.StatusForbidden
	case errors.CodeQuotaExceeded:
		status = http.StatusTooManyRequests
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeUpstreamUnavailable:
		status = http.StatusServiceUnavailable
	}
	if code == "" {
		code = errors.CodeStorage
	}
	jsonError(w, status, code, err.Error(), errors.Suggestion(err))
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.cfg.Version,
		"name":    s.cfg.Name,
	})
}

// --- Agent surface ---

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ac := agentContext(r)
	s.logger.WithTrace(r.Context()).Info("Agent connected")
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"agentId":     ac.Agent.ID,
		"projectId":   ac.Project.ID,
		"status":      ac.Agent.Status,
		"lastSeenAt":  ac.Agent.LastSeenAt,
		"projectName": ac.Project.Name,
		"memoryTypes": ac.Project.MemoryTypes,
		"retention":   ac.Project.MemoryRetention,
	})
}

func (s *Server) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	ac := agentContext(r)
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"agentId": ac.Agent.ID,
	})
}

func (s *Server) handleMemoryStore(w http.ResponseWriter, r *http.Request) {
	var in memory.StoreInput
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "invalid JSON: "+err.Error(), "")
		return
	}

	res, err := s.memories.Store(r.Context(), agentContext(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, res)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	var in memory.SearchInput
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "invalid JSON: "+err.Error(), "")
		return
	}

	res, err := s.memories.Search(r.Context(), agentContext(r), in)
	if err != nil {
		writeError(w, err)
		return
	}

	hits := make([]map[string]interface{}, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, map[string]interface{}{
			"id":         h.Memory.ID,
			"content":    h.Memory.Content,
			"tags":       h.Memory.Tags,
			"memoryType": h.Memory.MemoryType,
			"metadata":   h.Memory.Metadata,
			"createdAt":  h.Memory.CreatedAt,
			"score":      h.Score,
		})
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"results":  hits,
		"semantic": res.Semantic,
	})
}

func (s *Server) handleMemoryForget(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "invalid JSON: "+err.Error(), "")
		return
	}

	n, err := s.memories.Forget(agentContext(r), in.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleMemoryProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.memories.GetProfile(agentContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, profile)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name  string `json:"name"`
		Model string `json:"model,omitempty"`
	}
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "invalid JSON: "+err.Error(), "")
		return
	}
	if in.Name == "" {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "session name is required", "")
		return
	}

	ac := agentContext(r)
	id, err := s.sessions.EnsureSession(ac.Agent, "", in.Name, in.Model)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]string{"sessionId": id})
}

func (s *Server) handleSessionRecord(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SessionID        string `json:"sessionId"`
		Kind             string `json:"kind"`
		Model            string `json:"model,omitempty"`
		PromptTokens     int64  `json:"promptTokens,omitempty"`
		CompletionTokens int64  `json:"completionTokens,omitempty"`
		TotalTokens      int64  `json:"totalTokens,omitempty"`
		Content          string `json:"content,omitempty"`
	}
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "invalid JSON: "+err.Error(), "")
		return
	}
	if in.SessionID == "" || in.Kind == "" {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "sessionId and kind are required", "")
		return
	}

	ac := agentContext(r)
	sess, err := s.store.GetSession(in.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil || sess.AgentID != ac.Agent.ID {
		jsonError(w, http.StatusNotFound, errors.CodeNotFound, "session not found", "")
		return
	}

	if err := s.sessions.RecordEvent(in.SessionID, session.EventInput{
		Kind:             in.Kind,
		Model:            in.Model,
		PromptTokens:     in.PromptTokens,
		CompletionTokens: in.CompletionTokens,
		TotalTokens:      in.TotalTokens,
		Content:          in.Content,
	}); err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]string{"sessionId": in.SessionID})
}

// --- Billing webhook collaborator ---

func (s *Server) handleBillingPlan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OrganizationID string `json:"organizationId"`
		Tier           string `json:"tier"`
	}
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "invalid JSON: "+err.Error(), "")
		return
	}
	if in.OrganizationID == "" || in.Tier == "" {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "organizationId and tier are required", "")
		return
	}

	entry, err := s.plans.SetTier(in.OrganizationID, in.Tier)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, entry)
}

// --- Dashboard collaborator ---

func (s *Server) handleDashboardMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("projectId")
	if projectID == "" {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "projectId is required", "")
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	memories, err := s.store.ListMemories(store.MemoryFilter{
		ProjectID:  projectID,
		AgentID:    q.Get("agentId"),
		MemoryType: q.Get("memoryType"),
		Query:      q.Get("q"),
		Cursor:     q.Get("cursor"),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	cursor := ""
	if len(memories) > 0 {
		cursor = memories[len(memories)-1].ID
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"cursor":   cursor,
	})
}

func (s *Server) handleDashboardDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()
	projectID := q.Get("projectId")
	agentID := q.Get("agentId")
	if projectID == "" || agentID == "" {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "projectId and agentId are required", "")
		return
	}

	n, err := s.store.DeleteMemoriesByIDs(projectID, agentID, []string{id})
	if err != nil {
		writeError(w, err)
		return
	}
	if n == 0 {
		jsonError(w, http.StatusNotFound, errors.CodeNotFound, "memory not found", "")
		return
	}
	if s.metrics != nil {
		s.metrics.IncMemoriesDeleted(n)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDashboardUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orgID := q.Get("organizationId")
	if orgID == "" {
		jsonError(w, http.StatusBadRequest, errors.CodeInvalidInput, "organizationId is required", "")
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := s.store.ListUsage(orgID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"usage": entries})
}
