package clients

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type EKYCResponse struct {
	EncryptedPayload string `json:"encrypted_payload"`
}

type EKYCClient struct {
	c jsonClient
}

func NewEKYCClient(baseURL string, timeout time.Duration, httpClient *http.Client) *EKYCClient {
	return &EKYCClient{c: newJSONClient(baseURL, timeout, httpClient)}
}

// BuildResponse asks the e-KYC service for the encrypted identity payload
// released to partnerID under policyID.
func (e *EKYCClient) BuildResponse(ctx context.Context, userID, partnerID, policyID string) (EKYCResponse, error) {
	var out EKYCResponse
	err := e.c.post(ctx, "/v1/responses", map[string]string{
		"user_id":    userID,
		"partner_id": partnerID,
		"policy_id":  policyID,
	}, &out)
	if err == nil && out.EncryptedPayload == "" {
		return out, errors.New("ekyc response missing encrypted_payload")
	}
	return out, err
}
