package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tidemark-oss/tidemark/internal/keystore"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

type contextKey int

const agentContextKey contextKey = iota

// withAuth verifies the caller's key pair and attaches the resolved
// AgentContext to the request context.
//
// Credentials come from the Authorization Bearer secret plus the X-Key-Id
// header, or, for clients that cannot set headers, from a {keyId, secret}
// pair in the JSON body. The body is restored after inspection so the
// handler can decode its own input.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID := r.Header.Get("X-Key-Id")
		secret := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if secret == r.Header.Get("Authorization") {
			secret = ""
		}

		if (keyID == "" || secret == "") && r.Body != nil {
			body, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				jsonError(w, http.StatusBadRequest, "INVALID_INPUT", "failed to read request body", "")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var creds struct {
				KeyID  string `json:"keyId"`
				Secret string `json:"secret"`
			}
			if json.Unmarshal(body, &creds) == nil {
				if keyID == "" {
					keyID = creds.KeyID
				}
				if secret == "" {
					secret = creds.Secret
				}
			}
		}

		ac, err := s.keys.Verify(keyID, secret)
		if err != nil {
			writeError(w, err)
			return
		}

		tc := telemetry.NewTraceContext().
			WithAgent(ac.Agent.ID, ac.Project.ID, ac.Organization.ID)
		ctx := telemetry.ContextWithTrace(r.Context(), tc)
		ctx = context.WithValue(ctx, agentContextKey, ac)

		next(w, r.WithContext(ctx))
	}
}

// agentContext returns the verified caller attached by withAuth.
func agentContext(r *http.Request) *keystore.AgentContext {
	ac, _ := r.Context().Value(agentContextKey).(*keystore.AgentContext)
	return ac
}
