// ABOUTME: Tests for the bearer-token HTTP middleware.
// ABOUTME: Covers header extraction, rejection paths, and identity propagation.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedHandler(t *testing.T, sawSubject *string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		require.NotNil(t, id, "identity must be on the context")
		*sawSubject = id.Subject
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuth_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	token, err := verifier.Generate("operator", time.Hour)
	require.NoError(t, err)

	var subject string
	handler := RequireAuth(verifier)(protectedHandler(t, &subject))

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/x/stop", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "operator", subject)
}

func TestRequireAuth_Rejections(t *testing.T) {
	verifier := NewJWTVerifier([]byte("test-secret"))
	expired, err := verifier.Generate("operator", -time.Hour)
	require.NoError(t, err)
	otherSecret, err := NewJWTVerifier([]byte("different-secret")).Generate("operator", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong secret", "Bearer " + otherSecret},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			handler := RequireAuth(verifier)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/personas/oracle", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, called, "handler must not run")
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestPassthrough(t *testing.T) {
	called := false
	handler := Passthrough()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, FromContext(r.Context()), "no identity without auth")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, called)
}

func TestFromContext_Absent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, FromContext(req.Context()))
}
