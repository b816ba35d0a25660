package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/nuget-registry-server/internal/config"
)

func TestNewAuthMiddleware(t *testing.T) {
	t.Parallel()

	passwordFile := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(passwordFile, []byte("hunter2\n"), 0600))

	tests := []struct {
		name    string
		config  *config.AuthConfig
		wantErr string
		// credentials applied to a health check request that must be accepted
		accept func(r *http.Request)
	}{
		{
			name:   "nil config defaults to anonymous",
			config: nil,
			accept: func(*http.Request) {},
		},
		{
			name:   "anonymous mode",
			config: &config.AuthConfig{Mode: config.AuthModeAnonymous},
			accept: func(*http.Request) {},
		},
		{
			name: "basic mode",
			config: &config.AuthConfig{
				Mode:  config.AuthModeBasic,
				Users: []config.UserConfig{{Username: "admin", PasswordFile: passwordFile}},
			},
			accept: func(r *http.Request) { r.SetBasicAuth("admin", "hunter2") },
		},
		{
			name:    "basic mode without users",
			config:  &config.AuthConfig{Mode: config.AuthModeBasic},
			wantErr: "at least one user",
		},
		{
			name: "basic mode with unreadable password file",
			config: &config.AuthConfig{
				Mode:  config.AuthModeBasic,
				Users: []config.UserConfig{{Username: "admin", PasswordFile: "/nonexistent"}},
			},
			wantErr: "failed to read password file",
		},
		{
			name:   "apikey mode",
			config: &config.AuthConfig{Mode: config.AuthModeAPIKey, APIKeys: []string{"abc"}},
			accept: func(r *http.Request) { r.Header.Set(APIKeyHeader, "abc") },
		},
		{
			name:    "unsupported mode",
			config:  &config.AuthConfig{Mode: "oauth"},
			wantErr: "unsupported auth mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mw, err := NewAuthMiddleware(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, mw)

			req := httptest.NewRequest(http.MethodGet, "/team/api/v3/index.json", nil)
			tt.accept(req)
			rr := httptest.NewRecorder()
			mw(principalEcho()).ServeHTTP(rr, req)
			assert.Equal(t, http.StatusOK, rr.Code)
		})
	}
}

func TestAnonymousMiddleware(t *testing.T) {
	t.Parallel()

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Empty(t, PrincipalFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	anonymousMiddleware(handler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called)
}
