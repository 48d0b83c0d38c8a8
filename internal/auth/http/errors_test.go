package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/fintab/internal/auth/service"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
		code    string
	}{
		{"validation", service.ValidationError("Email is required"), http.StatusBadRequest, "Email is required", ""},
		{"authentication", service.AuthenticationError("Invalid credentials"), http.StatusUnauthorized, "Invalid credentials", ""},
		{"authorization", service.AuthorizationError("Forbidden"), http.StatusForbidden, "Forbidden", ""},
		{"conflict", service.ConflictError("Exists"), http.StatusConflict, "Exists", ""},
		{"not found", service.NotFoundError("User not found"), http.StatusNotFound, "User not found", ""},
		{"reason becomes code", &service.Error{Kind: service.KindAuthentication, Message: "Invalid MFA token", Reason: "INVALID_MFA"}, http.StatusUnauthorized, "Invalid MFA token", "INVALID_MFA"},
		{"wrapped", fmt.Errorf("login: %w", service.ConflictError("Exists")), http.StatusConflict, "Exists", ""},
		{"unclassified", errors.New("pq: connection refused at 10.0.0.3"), http.StatusInternalServerError, "Internal server error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			require.Equal(t, tt.status, rec.Code)
			var body httpx.ErrorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			require.False(t, body.Success)
			require.Equal(t, tt.message, body.Message)
			require.Equal(t, tt.code, body.Code)
		})
	}
}

func TestRequestMeta(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	req.Header.Set("User-Agent", "fintab-ios/2.1")

	meta := requestMeta(req)
	require.Equal(t, "198.51.100.4", meta.IPAddress)
	require.Equal(t, "fintab-ios/2.1", meta.UserAgent)
}
