package clients

import (
	"context"
	"net/http"
	"time"
)

type BiometricResult struct {
	Success bool     `json:"success"`
	Score   *float64 `json:"score,omitempty"`
}

type BiometricClient struct {
	c jsonClient
}

func NewBiometricClient(baseURL string, timeout time.Duration, httpClient *http.Client) *BiometricClient {
	return &BiometricClient{c: newJSONClient(baseURL, timeout, httpClient)}
}

// Verify sends the captured sample for template matching.
func (b *BiometricClient) Verify(ctx context.Context, userID, sample, modality string) (BiometricResult, error) {
	var out BiometricResult
	err := b.c.post(ctx, "/v1/verify", map[string]string{
		"user_id":  userID,
		"sample":   sample,
		"modality": modality,
	}, &out)
	return out, err
}
