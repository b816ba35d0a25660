package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stacklok/nuget-registry-server/internal/config"
)

// NewAuthMiddleware creates authentication middleware based on config.
// Secrets are read once here; rotating a password file needs a restart.
func NewAuthMiddleware(cfg *config.AuthConfig) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		slog.Info("auth: anonymous mode (no auth config)")
		return anonymousMiddleware, nil
	}

	switch cfg.Mode {
	case config.AuthModeAnonymous, "":
		slog.Info("auth: anonymous mode")
		return anonymousMiddleware, nil
	case config.AuthModeBasic:
		return createBasicMiddleware(cfg)
	case config.AuthModeAPIKey:
		return createAPIKeyMiddleware(cfg)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

func createBasicMiddleware(cfg *config.AuthConfig) (func(http.Handler) http.Handler, error) {
	if len(cfg.Users) == 0 {
		return nil, fmt.Errorf("basic mode requires at least one user")
	}

	users := make(map[string]string, len(cfg.Users))
	for _, u := range cfg.Users {
		password, err := u.GetPassword()
		if err != nil {
			return nil, err
		}
		if password == "" {
			return nil, fmt.Errorf("empty password for user %s", u.Username)
		}
		users[u.Username] = password
	}

	m := &credentialMiddleware{
		verifier: &basicVerifier{users: users},
		mode:     string(config.AuthModeBasic),
		realm:    cfg.GetRealm(),
	}
	slog.Info("auth: basic mode", "users", len(users))
	return m.Middleware, nil
}

func createAPIKeyMiddleware(cfg *config.AuthConfig) (func(http.Handler) http.Handler, error) {
	keys, err := cfg.GetAPIKeys()
	if err != nil {
		return nil, err
	}

	v := &apiKeyVerifier{keys: make([][]byte, 0, len(keys))}
	for _, k := range keys {
		v.keys = append(v.keys, []byte(k))
	}

	m := &credentialMiddleware{
		verifier: v,
		mode:     string(config.AuthModeAPIKey),
		realm:    cfg.GetRealm(),
	}
	slog.Info("auth: API key mode", "keys", len(keys))
	return m.Middleware, nil
}

// anonymousMiddleware is a no-op middleware that passes requests through without authentication.
func anonymousMiddleware(next http.Handler) http.Handler {
	return next
}
