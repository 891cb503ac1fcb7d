// Package clients talks to the external biometric verifier and e-KYC data
// service over HTTP JSON.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrNotConfigured is returned by clients built without a base URL.
var ErrNotConfigured = errors.New("collaborator not configured")

// StatusError carries a non-2xx response from a collaborator.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type jsonClient struct {
	baseURL    string
	httpClient *http.Client
}

func newJSONClient(baseURL string, timeout time.Duration, httpClient *http.Client) jsonClient {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return jsonClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c jsonClient) post(ctx context.Context, path string, in, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
