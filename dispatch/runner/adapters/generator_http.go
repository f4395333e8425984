package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	ports "github.com/promptforge/dispatch/dispatch/runner/ports"
)

// GeneratorHTTP calls the external generation API over HTTP with
// transport-level retries. Every non-2xx or failed response is
// returned as an error; the runner turns it into that item's failed
// outcome.
type GeneratorHTTP struct {
	client   *retryablehttp.Client
	endpoint string
	apiKey   string
}

// GeneratorHTTPConfig configures the HTTP generation client.
type GeneratorHTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	RetryMax int
}

type generateRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

type generateResponse struct {
	Success bool            `json:"success"`
	Ref     string          `json:"ref,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewGeneratorHTTP creates a generation client.
func NewGeneratorHTTP(cfg GeneratorHTTPConfig) *GeneratorHTTP {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	return &GeneratorHTTP{
		client:   client,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
	}
}

// Generate posts one item's input to the API and returns the result
// reference or inline output.
func (g *GeneratorHTTP) Generate(ctx context.Context, input json.RawMessage, modelID string) (ports.GenerateResult, error) {
	body, err := json.Marshal(generateRequest{Model: modelID, Input: input})
	if err != nil {
		return ports.GenerateResult{}, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.GenerateResult{}, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return ports.GenerateResult{}, fmt.Errorf("generate call: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.GenerateResult{}, fmt.Errorf("read generate response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ports.GenerateResult{}, fmt.Errorf("generate call: status %d: %s", resp.StatusCode, truncate(payload, 256))
	}

	var parsed generateResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return ports.GenerateResult{}, fmt.Errorf("decode generate response: %w", err)
	}
	if !parsed.Success {
		return ports.GenerateResult{}, fmt.Errorf("generate rejected: %s", parsed.Error)
	}

	return ports.GenerateResult{Ref: parsed.Ref, Output: parsed.Data}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Ensure GeneratorHTTP implements the Generator interface.
var _ ports.Generator = (*GeneratorHTTP)(nil)
