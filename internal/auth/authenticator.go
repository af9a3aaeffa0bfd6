// File: internal/auth/authenticator.go
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apipulse/ingest-service/internal/models"
	"github.com/apipulse/ingest-service/pkg/utils"
)

// APIKeyHeader is the dedicated SDK header carrying the ingest key.
const APIKeyHeader = "X-Api-Key"

// KeyVerification is the outcome reported by the key-management service.
type KeyVerification struct {
	Valid    bool                   `json:"valid"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// KeyVerifier performs the actual cryptographic/lookup verification of an
// API key against the key-management service.
type KeyVerifier interface {
	Verify(ctx context.Context, key string) (*KeyVerification, error)
}

// Authenticator resolves raw API keys into tenant ingest contexts.
type Authenticator struct {
	verifier KeyVerifier
	logger   *logrus.Logger
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(verifier KeyVerifier) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		logger:   utils.GetLogger(),
	}
}

// ExtractAPIKey pulls key material from the request: the dedicated header
// first, falling back to a Bearer authorization header. Returns "" when
// neither is present.
func ExtractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}

	return ""
}

// VerifyAPIKey validates the raw key and returns the tenant scope it is
// bound to, or nil when the key is missing, rejected, errored, or not scoped
// with both organizationId and env. Verifier failures are treated as
// rejections and never propagated.
func (a *Authenticator) VerifyAPIKey(ctx context.Context, rawKey string) *models.IngestContext {
	if rawKey == "" {
		return nil
	}

	result, err := a.verifier.Verify(ctx, rawKey)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"key_fingerprint": utils.KeyFingerprint(rawKey),
			"error":           err.Error(),
		}).Warn("API key verification failed")
		return nil
	}

	if result == nil || !result.Valid {
		return nil
	}

	orgID, ok := result.Metadata["organizationId"].(string)
	if !ok || orgID == "" {
		return nil
	}
	env, ok := result.Metadata["env"].(string)
	if !ok || env == "" {
		return nil
	}

	return &models.IngestContext{
		OrganizationID: orgID,
		Env:            env,
	}
}
