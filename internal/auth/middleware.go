// Package auth provides authentication middleware for the registry API server.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// APIKeyHeader carries the key NuGet clients send with push and delete
const APIKeyHeader = "X-NuGet-ApiKey"

var (
	// errMissingCredentials indicates the request carried nothing to check
	errMissingCredentials = errors.New("missing credentials")

	// errInvalidCredentials indicates the supplied credentials did not match
	errInvalidCredentials = errors.New("invalid credentials")
)

// verifier checks the credentials on a request and returns the authenticated principal.
type verifier interface {
	Verify(r *http.Request) (string, error)
}

type principalKey struct{}

// PrincipalFromContext returns the principal stored by the auth middleware,
// or "" when the request was not authenticated.
func PrincipalFromContext(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// credentialMiddleware rejects requests whose credentials the verifier refuses.
type credentialMiddleware struct {
	verifier verifier
	mode     string
	realm    string
}

// Middleware returns an HTTP middleware function that performs authentication.
func (m *credentialMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.verifier.Verify(r)
		if err != nil {
			slog.Warn("Authentication failed",
				"mode", m.mode,
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			m.writeError(w, err.Error())
			return
		}

		slog.Debug("Authentication successful",
			"mode", m.mode,
			"principal", principal,
			"path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
	})
}

// basicVerifier checks HTTP Basic credentials against a fixed user table.
type basicVerifier struct {
	users map[string]string
}

func (v *basicVerifier) Verify(r *http.Request) (string, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", errMissingCredentials
	}
	expected, known := v.users[username]
	if !known || subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
		return "", errInvalidCredentials
	}
	return username, nil
}

// apiKeyVerifier accepts any configured key, taken from the X-NuGet-ApiKey
// header or, failing that, from the password of Basic credentials.
type apiKeyVerifier struct {
	keys [][]byte
}

func (v *apiKeyVerifier) Verify(r *http.Request) (string, error) {
	key := r.Header.Get(APIKeyHeader)
	principal := "apikey"
	if key == "" {
		username, password, ok := r.BasicAuth()
		if !ok || password == "" {
			return "", errMissingCredentials
		}
		key = password
		if username != "" {
			principal = username
		}
	}

	match := 0
	for _, k := range v.keys {
		match |= subtle.ConstantTimeCompare([]byte(key), k)
	}
	if match != 1 {
		return "", errInvalidCredentials
	}
	return principal, nil
}

// sanitizeHeaderValue removes characters that could enable header injection attacks.
// This includes newlines, carriage returns, and unescaped quotes.
func sanitizeHeaderValue(s string) string {
	if !strings.ContainsAny(s, "\r\n\"") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	// Escape quotes for use in quoted-string (RFC 7230)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// writeError writes a JSON 401 response with a Basic challenge.
func (m *credentialMiddleware) writeError(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s", charset="UTF-8"`, sanitizeHeaderValue(m.realm)))
	w.WriteHeader(http.StatusUnauthorized)

	resp := struct {
		Error string `json:"error"`
	}{
		Error: description,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
