// File: internal/auth/authenticator_test.go
package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verifierFunc func(ctx context.Context, key string) (*KeyVerification, error)

func (f verifierFunc) Verify(ctx context.Context, key string) (*KeyVerification, error) {
	return f(ctx, key)
}

func TestExtractAPIKey(t *testing.T) {
	t.Run("dedicated header", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/ingest", nil)
		r.Header.Set(APIKeyHeader, "key-123")
		assert.Equal(t, "key-123", ExtractAPIKey(r))
	})

	t.Run("bearer authorization fallback", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/ingest", nil)
		r.Header.Set("Authorization", "Bearer key-456")
		assert.Equal(t, "key-456", ExtractAPIKey(r))
	})

	t.Run("dedicated header wins over authorization", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/ingest", nil)
		r.Header.Set(APIKeyHeader, "key-123")
		r.Header.Set("Authorization", "Bearer key-456")
		assert.Equal(t, "key-123", ExtractAPIKey(r))
	})

	t.Run("no key material", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/ingest", nil)
		assert.Empty(t, ExtractAPIKey(r))

		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Empty(t, ExtractAPIKey(r))
	})
}

func TestVerifyAPIKey(t *testing.T) {
	validVerifier := verifierFunc(func(ctx context.Context, key string) (*KeyVerification, error) {
		return &KeyVerification{
			Valid: true,
			Metadata: map[string]interface{}{
				"organizationId": "org-1",
				"env":            "production",
			},
		}, nil
	})

	t.Run("valid key yields tenant scope", func(t *testing.T) {
		a := NewAuthenticator(validVerifier)
		ingestCtx := a.VerifyAPIKey(context.Background(), "key-123")
		require.NotNil(t, ingestCtx)
		assert.Equal(t, "org-1", ingestCtx.OrganizationID)
		assert.Equal(t, "production", ingestCtx.Env)
	})

	t.Run("empty key short-circuits", func(t *testing.T) {
		called := false
		a := NewAuthenticator(verifierFunc(func(ctx context.Context, key string) (*KeyVerification, error) {
			called = true
			return nil, nil
		}))
		assert.Nil(t, a.VerifyAPIKey(context.Background(), ""))
		assert.False(t, called, "verifier must not be called for an empty key")
	})

	t.Run("rejected key", func(t *testing.T) {
		a := NewAuthenticator(verifierFunc(func(ctx context.Context, key string) (*KeyVerification, error) {
			return &KeyVerification{Valid: false}, nil
		}))
		assert.Nil(t, a.VerifyAPIKey(context.Background(), "key-123"))
	})

	t.Run("verifier error treated as rejection", func(t *testing.T) {
		a := NewAuthenticator(verifierFunc(func(ctx context.Context, key string) (*KeyVerification, error) {
			return nil, errors.New("key service down")
		}))
		assert.Nil(t, a.VerifyAPIKey(context.Background(), "key-123"))
	})

	t.Run("missing tenant metadata treated as rejection", func(t *testing.T) {
		cases := []map[string]interface{}{
			nil,
			{"organizationId": "org-1"},
			{"env": "production"},
			{"organizationId": "", "env": "production"},
			{"organizationId": 42, "env": "production"},
		}
		for _, metadata := range cases {
			a := NewAuthenticator(verifierFunc(func(ctx context.Context, key string) (*KeyVerification, error) {
				return &KeyVerification{Valid: true, Metadata: metadata}, nil
			}))
			assert.Nil(t, a.VerifyAPIKey(context.Background(), "key-123"))
		}
	})
}
