package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"bazaar/core/types"
)

// ScopeAdmin marks the arbiter/administrator authority on a token.
const ScopeAdmin = "admin"

type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const ContextKeyCaller contextKey = "gateway.caller"

// Authenticator verifies bearer tokens and resolves the caller address from
// the token subject.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Middleware authenticates the request and, when requiredScopes are given,
// enforces that the token carries each of them.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			caller, scopes, err := a.verify(tokenString)
			if err != nil {
				a.logger.Warn("token rejected", "err", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			for _, required := range requiredScopes {
				if !containsScope(scopes, required) {
					http.Error(w, "insufficient scope", http.StatusForbidden)
					return
				}
			}
			ctx := context.WithValue(r.Context(), ContextKeyCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) verify(tokenString string) ([20]byte, []string, error) {
	var caller [20]byte
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.cfg.ClockSkew),
	}
	if a.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, options...)
	if err != nil {
		return caller, nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return caller, nil, errors.New("unexpected claims type")
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return caller, nil, errors.New("token missing subject")
	}
	caller, err = types.ParseAddress(subject)
	if err != nil {
		return caller, nil, err
	}
	var scopes []string
	if raw, ok := claims[a.cfg.ScopeClaim].(string); ok {
		scopes = strings.Fields(raw)
	}
	return caller, scopes, nil
}

// CallerFromContext returns the authenticated caller address, if any.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).([20]byte)
	return caller, ok
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func containsScope(scopes []string, want string) bool {
	for _, scope := range scopes {
		if scope == want {
			return true
		}
	}
	return false
}
