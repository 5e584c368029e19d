package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidemark-oss/tidemark/internal/errors"
	"github.com/tidemark-oss/tidemark/internal/telemetry"
)

// Input types understood by the gateway. Queries and passages may be
// embedded asymmetrically by the upstream model.
const (
	InputTypeQuery   = "query"
	InputTypePassage = "passage"
)

// Result is one embedding response: the vector and the token count the
// upstream charged for producing it.
type Result struct {
	Vector []float64
	Tokens int64
}

// Gateway is an HTTP client for an external embedding service. A nil
// Gateway is valid and reports itself as disabled, so callers in keyword
// mode need no special casing.
type Gateway struct {
	url     string
	client  *http.Client
	metrics *telemetry.Metrics
}

// NewGateway creates a gateway client. Returns nil when url is empty,
// which disables embeddings service-wide.
func NewGateway(url string, timeout time.Duration, metrics *telemetry.Metrics) *Gateway {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		url:     strings.TrimRight(url, "/"),
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
	}
}

// Enabled reports whether the gateway is configured.
func (g *Gateway) Enabled() bool { return g != nil }

type embedRequest struct {
	Input     string `json:"input"`
	InputType string `json:"input_type"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Tokens    int64     `json:"tokens"`
	} `json:"data"`
}

// Embed requests one embedding from the upstream. Every failure mode maps
// to UPSTREAM_UNAVAILABLE; the gateway never retries.
func (g *Gateway) Embed(ctx context.Context, input, inputType string) (*Result, error) {
	if g == nil {
		return nil, errors.New(errors.CodeUpstreamUnavailable, "embedding gateway is not configured")
	}
	if g.metrics != nil {
		g.metrics.IncEmbeddingRequests()
	}
	start := time.Now()

	body, err := json.Marshal(embedRequest{Input: input, InputType: inputType})
	if err != nil {
		return nil, g.fail("failed to encode embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, g.fail("failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, g.fail("embedding gateway unreachable", err)
	}
	defer resp.Body.Close()

	if g.metrics != nil {
		g.metrics.RecordGatewayLatency(time.Since(start))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, g.fail(fmt.Sprintf("embedding gateway returned %d", resp.StatusCode), nil)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, g.fail("failed to decode embed response", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, g.fail("embedding gateway returned an empty vector", nil)
	}

	return &Result{
		Vector: parsed.Data[0].Embedding,
		Tokens: parsed.Data[0].Tokens,
	}, nil
}

// EmbedQuery embeds a search query.
func (g *Gateway) EmbedQuery(ctx context.Context, input string) (*Result, error) {
	return g.Embed(ctx, input, InputTypeQuery)
}

// EmbedPassage embeds stored content.
func (g *Gateway) EmbedPassage(ctx context.Context, input string) (*Result, error) {
	return g.Embed(ctx, input, InputTypePassage)
}

func (g *Gateway) fail(msg string, err error) error {
	if g.metrics != nil {
		g.metrics.IncEmbeddingFailures()
	}
	if err != nil {
		return errors.Wrap(errors.CodeUpstreamUnavailable, msg, err)
	}
	return errors.New(errors.CodeUpstreamUnavailable, msg)
}
