// File: internal/auth/keyclient.go
package auth

import (
	"context"
	"fmt"

	"gopkg.in/resty.v1"

	"github.com/apipulse/ingest-service/internal/config"
	"github.com/apipulse/ingest-service/pkg/utils"
)

// HTTPKeyVerifier verifies API keys against the key-management service over
// HTTP. It is the only network collaborator on the ingest path, so its
// timeout is kept short and no retries are attempted here.
type HTTPKeyVerifier struct {
	client *resty.Client
}

type verifyRequest struct {
	Key string `json:"key"`
}

// NewHTTPKeyVerifier creates a verifier from auth configuration.
func NewHTTPKeyVerifier(cfg *config.AuthConfig) *HTTPKeyVerifier {
	client := resty.New().
		SetHostURL(cfg.KeyServiceURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json")

	if cfg.KeyServiceAuth != "" {
		client.SetAuthToken(cfg.KeyServiceAuth)
	}

	return &HTTPKeyVerifier{client: client}
}

// Verify calls the key-management verify endpoint. A non-2xx response is an
// error; "key not valid" is a successful response with Valid=false.
func (v *HTTPKeyVerifier) Verify(ctx context.Context, key string) (*KeyVerification, error) {
	var result KeyVerification

	resp, err := v.client.R().
		SetContext(ctx).
		SetBody(verifyRequest{Key: key}).
		SetResult(&result).
		Post("/v1/keys/verify")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeAuth, "Key service request failed", err.Error())
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, utils.NewAppError(utils.ErrCodeAuth,
			"Key service returned unexpected status",
			fmt.Sprintf("status=%d", resp.StatusCode()))
	}

	return &result, nil
}
