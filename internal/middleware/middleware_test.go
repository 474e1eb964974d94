package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/artifact-sync/pkg/logger"
)

const secret = "test-secret"

func echoIdentity(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"actor": GetActor(r.Context()),
		"role":  GetRole(r.Context()),
	})
}

func TestAuth(t *testing.T) {
	h := Auth(secret)(http.HandlerFunc(echoIdentity))
	valid, err := IssueToken(secret, "ann@dig.org", "admin", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "ann@dig.org", "admin", -time.Minute)
	require.NoError(t, err)
	forged, err := IssueToken("other-secret", "ann@dig.org", "admin", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ann@dig.org"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer header", "Bearer " + valid, "", http.StatusOK},
		{"lowercase scheme", "bearer " + valid, "", http.StatusOK},
		{"query token", "", "access_token=" + valid, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"basic scheme", "Basic " + valid, "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, "", http.StatusUnauthorized},
		{"unsigned", "Bearer " + none, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me?"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.status == http.StatusOK {
				assert.Equal(t, "ann@dig.org", body["actor"])
				assert.Equal(t, "admin", body["role"])
			} else {
				assert.Equal(t, PublicRedirect, body["redirect"])
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := Auth(secret)(RequireRole("admin")(http.HandlerFunc(echoIdentity)))
	for role, status := range map[string]int{"admin": http.StatusOK, "user": http.StatusForbidden} {
		tok, err := IssueToken(secret, "ann@dig.org", role, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/artifacts", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, status, rec.Code, role)
	}
}

func TestLoggingKeepsStatusAndCorrelationID(t *testing.T) {
	h := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetCorrelationID(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("0190f3a2-7c1e-7b8a-9d4e-3f2a1b0c9d8e"))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID(strings.Repeat("a", maxIDLength+1)))
	assert.Error(t, ValidateID("a/b"))
	assert.Error(t, ValidateID("a?b"))
}

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent(""))
	assert.NoError(t, ValidateMessageContent("found a sherd"))
	assert.Error(t, ValidateMessageContent(strings.Repeat("x", maxContentLength+1)))
	assert.Error(t, ValidateMessageContent("\xff\xfe"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName(""))
	assert.Error(t, ValidateName(strings.Repeat("n", maxNameLength+1)))
}
