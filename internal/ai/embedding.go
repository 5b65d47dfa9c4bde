package ai

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// EmbeddingClient calls an OpenAI-compatible /embeddings endpoint.
type EmbeddingClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    *rate.Limiter
}

// NewEmbeddingClient builds a client; requestsPerSecond <= 0 disables pacing.
func NewEmbeddingClient(baseURL, apiKey, model string, requestsPerSecond float64) *EmbeddingClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &EmbeddingClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (c *EmbeddingClient) Model() string {
	return c.model
}

// EmbedBatch returns one vector per input, in input order.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit wait failed: %w", err)
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	body := map[string]interface{}{
		"model": c.model,
		"input": texts,
	}
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/embeddings", c.apiKey, body, &parsed); err != nil {
		return nil, fmt.Errorf("embedding batch request failed: %w", err)
	}

	sort.SliceStable(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	result := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		result[i] = parsed.Data[i].Embedding
	}
	return result, nil
}
