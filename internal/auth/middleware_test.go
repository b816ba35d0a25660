package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(PrincipalFromContext(r.Context())))
	})
}

func TestCredentialMiddleware_Basic(t *testing.T) {
	t.Parallel()

	m := &credentialMiddleware{
		verifier: &basicVerifier{users: map[string]string{"alice": "wonderland"}},
		mode:     "basic",
		realm:    "test-realm",
	}
	handler := m.Middleware(principalEcho())

	tests := []struct {
		name          string
		setup         func(r *http.Request)
		wantStatus    int
		wantPrincipal string
		wantError     string
	}{
		{
			name:          "valid credentials",
			setup:         func(r *http.Request) { r.SetBasicAuth("alice", "wonderland") },
			wantStatus:    http.StatusOK,
			wantPrincipal: "alice",
		},
		{
			name:       "missing credentials",
			setup:      func(*http.Request) {},
			wantStatus: http.StatusUnauthorized,
			wantError:  "missing credentials",
		},
		{
			name:       "wrong password",
			setup:      func(r *http.Request) { r.SetBasicAuth("alice", "looking-glass") },
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid credentials",
		},
		{
			name:       "unknown user",
			setup:      func(r *http.Request) { r.SetBasicAuth("bob", "wonderland") },
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid credentials",
		},
		{
			name:       "api key header is not enough",
			setup:      func(r *http.Request) { r.Header.Set(APIKeyHeader, "wonderland") },
			wantStatus: http.StatusUnauthorized,
			wantError:  "missing credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/team/api/v3/index.json", nil)
			tt.setup(req)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantPrincipal, rr.Body.String())
				return
			}

			assert.Equal(t, `Basic realm="test-realm", charset="UTF-8"`, rr.Header().Get("WWW-Authenticate"))
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestCredentialMiddleware_APIKey(t *testing.T) {
	t.Parallel()

	m := &credentialMiddleware{
		verifier: &apiKeyVerifier{keys: [][]byte{[]byte("key-one"), []byte("key-two")}},
		mode:     "apikey",
		realm:    "r",
	}
	handler := m.Middleware(principalEcho())

	tests := []struct {
		name          string
		setup         func(r *http.Request)
		wantStatus    int
		wantPrincipal string
	}{
		{
			name:          "header key",
			setup:         func(r *http.Request) { r.Header.Set(APIKeyHeader, "key-two") },
			wantStatus:    http.StatusOK,
			wantPrincipal: "apikey",
		},
		{
			name:          "key as basic password",
			setup:         func(r *http.Request) { r.SetBasicAuth("ci", "key-one") },
			wantStatus:    http.StatusOK,
			wantPrincipal: "ci",
		},
		{
			name:          "key as basic password without username",
			setup:         func(r *http.Request) { r.SetBasicAuth("", "key-one") },
			wantStatus:    http.StatusOK,
			wantPrincipal: "apikey",
		},
		{
			name:       "wrong header key",
			setup:      func(r *http.Request) { r.Header.Set(APIKeyHeader, "key-three") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "header takes precedence over basic",
			setup: func(r *http.Request) {
				r.Header.Set(APIKeyHeader, "nope")
				r.SetBasicAuth("ci", "key-one")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "prefix of a key",
			setup:      func(r *http.Request) { r.Header.Set(APIKeyHeader, "key") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no credentials",
			setup:      func(*http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty basic password",
			setup:      func(r *http.Request) { r.SetBasicAuth("ci", "") },
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPut, "/team/api/v3/PackagePublish/", nil)
			tt.setup(req)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantPrincipal, rr.Body.String())
			}
		})
	}
}

func TestSanitizeHeaderValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean value", "nuget-registry", "nuget-registry"},
		{"removes newline", "realm\ninjected: evil", "realminjected: evil"},
		{"removes carriage return", "realm\rinjected", "realminjected"},
		{"removes CRLF", "realm\r\nX-Injected: evil", "realmX-Injected: evil"},
		{"escapes quotes", `realm"with"quotes`, `realm\"with\"quotes`},
		{"handles multiple issues", "bad\r\n\"value\"", `bad\"value\"`},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := sanitizeHeaderValue(tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialMiddleware_SanitizesRealm(t *testing.T) {
	t.Parallel()

	m := &credentialMiddleware{
		verifier: &basicVerifier{users: map[string]string{}},
		realm:    "evil\r\nX-Injected: header",
	}
	rr := httptest.NewRecorder()
	m.Middleware(principalEcho()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, `Basic realm="evilX-Injected: header", charset="UTF-8"`, rr.Header().Get("WWW-Authenticate"))
	assert.Empty(t, rr.Header().Get("X-Injected"))
}

func TestWrapWithPublicPaths(t *testing.T) {
	t.Parallel()

	denyAll := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	handler := WrapWithPublicPaths(denyAll, []string{"/health", "/metrics"})(principalEcho())

	for path, want := range map[string]int{
		"/health":                   http.StatusOK,
		"/metrics":                  http.StatusOK,
		"/team/api/v3/index.json":   http.StatusUnauthorized,
		"/health/../team":           http.StatusUnauthorized,
		"/health/api/v3/index.json": http.StatusUnauthorized,
	} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rr.Code, path)
	}
}
