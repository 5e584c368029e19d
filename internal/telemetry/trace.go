package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type traceKey struct{}

// TraceContext carries correlation IDs through a request.
type TraceContext struct {
	RequestID      string `json:"request_id"`
	AgentID        string `json:"agent_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// NewTraceContext creates a trace context with a fresh request ID.
func NewTraceContext() *TraceContext {
	return &TraceContext{RequestID: randomID()}
}

// WithAgent returns a copy with the agent scope set.
func (tc *TraceContext) WithAgent(agentID, projectID, orgID string) *TraceContext {
	child := *tc
	child.AgentID = agentID
	child.ProjectID = projectID
	child.OrganizationID = orgID
	return &child
}

// Fields returns key-value pairs suitable for structured logging.
func (tc *TraceContext) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"request_id": tc.RequestID,
	}
	if tc.AgentID != "" {
		fields["agent_id"] = tc.AgentID
	}
	if tc.ProjectID != "" {
		fields["project_id"] = tc.ProjectID
	}
	if tc.OrganizationID != "" {
		fields["organization_id"] = tc.OrganizationID
	}
	return fields
}

// ContextWithTrace stores a TraceContext in the context.
func ContextWithTrace(ctx context.Context, tc *TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, tc)
}

// TraceFromContext extracts a TraceContext from the context, or nil.
func TraceFromContext(ctx context.Context) *TraceContext {
	tc, _ := ctx.Value(traceKey{}).(*TraceContext)
	return tc
}

// WithTrace returns a logger enriched with trace fields from the context.
func (l *Logger) WithTrace(ctx context.Context) *Logger {
	tc := TraceFromContext(ctx)
	if tc == nil {
		return l
	}
	return l.WithFields(tc.Fields())
}

func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
