package intervention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HelpGenerator produces contextual help text for an intervention. The
// real implementation lives in the external Contextual Help Generator
// service; callers must treat errors and timeouts as recoverable.
type HelpGenerator interface {
	Generate(ctx context.Context, req HelpRequest) (string, error)
}

// HTTPHelpGenerator calls the Contextual Help Generator over HTTP.
type HTTPHelpGenerator struct {
	url    string
	client *http.Client
}

// NewHTTPHelpGenerator creates a client for the help generator at url.
// The per-call deadline comes from the caller's context; timeout is a
// transport-level safety net.
func NewHTTPHelpGenerator(url string, timeout time.Duration) *HTTPHelpGenerator {
	return &HTTPHelpGenerator{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Generate posts the intervention context and returns the generated text.
func (g *HTTPHelpGenerator) Generate(ctx context.Context, req HelpRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal help request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build help request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("help generator call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("help generator returned status %d", resp.StatusCode)
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode help response: %w", err)
	}
	if out.Message == "" {
		return "", fmt.Errorf("help generator returned an empty message")
	}
	return out.Message, nil
}

// UnavailableHelpGenerator always fails, forcing the fallback message.
// Used when no generator endpoint is configured.
type UnavailableHelpGenerator struct{}

// Generate implements HelpGenerator.
func (UnavailableHelpGenerator) Generate(ctx context.Context, req HelpRequest) (string, error) {
	return "", fmt.Errorf("no help generator configured")
}
