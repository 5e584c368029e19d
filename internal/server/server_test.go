package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidemark-oss/tidemark/internal/config"
	"github.com/tidemark-oss/tidemark/internal/keystore"
	"github.com/tidemark-oss/tidemark/internal/memory"
	"github.com/tidemark-oss/tidemark/internal/plan"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
	"github.com/tidemark-oss/tidemark/internal/testutil"
)

func newTestServer(t *testing.T) (*httptest.Server, *testutil.Harness, *keystore.Credentials) {
	t.Helper()
	h := testutil.NewHarness(t)

	memories := memory.NewService(h.Store, h.Plans, nil, h.Tracker(), nil, h.Metrics, h.Bus, 2000)
	cfg := &config.Config{Name: "tidemark", Version: "test"}
	srv := New(cfg, h.Store, h.Keys, h.Plans, memories, h.Tracker(), h.Bus,
		telemetry.NewLogger(false), h.Metrics)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	creds, err := h.Keys.Issue(h.Project.ID, "http-owner", false)
	if err != nil {
		t.Fatal(err)
	}
	return ts, h, creds
}

func authedPost(t *testing.T, ts *httptest.Server, creds *keystore.Credentials, path string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Key-Id", creds.KeyID)
	req.Header.Set("Authorization", "Bearer "+creds.Secret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestServer_Health(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestServer_AuthRequired(t *testing.T) {
	ts, _, creds := newTestServer(t)

	// No credentials at all.
	resp, err := http.Post(ts.URL+"/memory/store", "application/json",
		bytes.NewReader([]byte(`{"content":"x"}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// Wrong secret.
	bad := &keystore.Credentials{KeyID: creds.KeyID, Secret: "wrong"}
	resp = authedPost(t, ts, bad, "/agents/connect", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad secret, got %d", resp.StatusCode)
	}
}

func TestServer_BodyCredentialFallback(t *testing.T) {
	ts, _, creds := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"keyId":   creds.KeyID,
		"secret":  creds.Secret,
		"content": "stored via body auth",
	})
	resp, err := http.Post(ts.URL+"/memory/store", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var out memory.StoreResult
	decodeBody(t, resp, &out)
	if out.MemoryID == "" {
		t.Error("expected a memory id")
	}
}

func TestServer_ConnectAndStoreAndSearch(t *testing.T) {
	ts, _, creds := newTestServer(t)

	resp := authedPost(t, ts, creds, "/agents/connect", map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: expected 200, got %d", resp.StatusCode)
	}
	var connect map[string]interface{}
	decodeBody(t, resp, &connect)
	if connect["status"] != "connected" {
		t.Errorf("expected connected agent, got %v", connect["status"])
	}

	resp = authedPost(t, ts, creds, "/memory/store", memory.StoreInput{
		Content: "user prefers dark mode",
		Tags:    []string{"preference"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("store: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = authedPost(t, ts, creds, "/memory/search", memory.SearchInput{Query: "dark"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", resp.StatusCode)
	}
	var search struct {
		Results []map[string]interface{} `json:"results"`
	}
	decodeBody(t, resp, &search)
	if len(search.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(search.Results))
	}
	if _, hasEmbedding := search.Results[0]["embedding"]; hasEmbedding {
		t.Error("embedding must never appear in responses")
	}
}

func TestServer_QuotaMapsTo429(t *testing.T) {
	ts, h, creds := newTestServer(t)

	if err := h.Plans.RecordUsage(h.Org.ID, 0, 500); err != nil {
		t.Fatal(err)
	}

	resp := authedPost(t, ts, creds, "/memory/search", memory.SearchInput{Query: "x"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["code"] != "QUOTA_EXCEEDED" {
		t.Errorf("expected QUOTA_EXCEEDED code, got %q", body["code"])
	}
}

func TestServer_Sessions(t *testing.T) {
	ts, _, creds := newTestServer(t)

	resp := authedPost(t, ts, creds, "/sessions/start", map[string]string{"name": "chat"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var started map[string]string
	decodeBody(t, resp, &started)
	if started["sessionId"] == "" {
		t.Fatal("expected a session id")
	}

	resp = authedPost(t, ts, creds, "/sessions/record", map[string]interface{}{
		"sessionId":    started["sessionId"],
		"kind":         "turn",
		"promptTokens": 10,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// Unknown session is a 404.
	resp = authedPost(t, ts, creds, "/sessions/record", map[string]interface{}{
		"sessionId": "nope", "kind": "turn",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// Missing name is a 400.
	resp = authedPost(t, ts, creds, "/sessions/start", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_BillingPlan(t *testing.T) {
	ts, h, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{
		"organizationId": h.Org.ID,
		"tier":           plan.TierTide,
	})
	resp, err := http.Post(ts.URL+"/billing/plan", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var entry map[string]interface{}
	decodeBody(t, resp, &entry)
	if entry["tier"] != plan.TierTide {
		t.Errorf("expected tide tier, got %v", entry["tier"])
	}

	// Unknown tier rejected.
	body, _ = json.Marshal(map[string]string{"organizationId": h.Org.ID, "tier": "platinum"})
	resp, err = http.Post(ts.URL+"/billing/plan", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tier, got %d", resp.StatusCode)
	}
}

func TestServer_Dashboard(t *testing.T) {
	ts, h, creds := newTestServer(t)

	resp := authedPost(t, ts, creds, "/memory/store", memory.StoreInput{Content: "note one"})
	var stored memory.StoreResult
	decodeBody(t, resp, &stored)

	resp, err := http.Get(ts.URL + "/dashboard/memories?projectId=" + h.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Memories []map[string]interface{} `json:"memories"`
	}
	decodeBody(t, resp, &list)
	if len(list.Memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(list.Memories))
	}

	req, _ := http.NewRequest(http.MethodDelete,
		ts.URL+"/dashboard/memories/"+stored.MemoryID+
			"?projectId="+h.Project.ID+"&agentId="+creds.AgentID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/dashboard/usage?organizationId=" + h.Org.ID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
