package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

const principalKey contextKey = "principal"

// IdentityHeaders names the headers the upstream auth proxy sets for an
// authenticated applicant
type IdentityHeaders struct {
	Identity    string
	Username    string
	DisplayName string
	TrustLevel  string
}

// DefaultIdentityHeaders are used for any header left empty
var DefaultIdentityHeaders = IdentityHeaders{
	Identity:    "X-Identity",
	Username:    "X-Username",
	DisplayName: "X-Display-Name",
	TrustLevel:  "X-Trust-Level",
}

// Principal is the applicant as vouched for by the auth proxy
type Principal struct {
	Identity    string
	Username    string
	DisplayName string
	TrustLevel  int
}

// Identity copies the applicant set by the upstream auth proxy into the
// request context. Requests without an identity pass through unchanged. A
// missing or malformed trust level counts as 0.
func Identity(headers IdentityHeaders) func(http.Handler) http.Handler {
	headers = headers.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := strings.TrimSpace(r.Header.Get(headers.Identity))
			if identity == "" {
				next.ServeHTTP(w, r)
				return
			}

			p := Principal{
				Identity:    identity,
				Username:    strings.TrimSpace(r.Header.Get(headers.Username)),
				DisplayName: strings.TrimSpace(r.Header.Get(headers.DisplayName)),
			}
			if raw := strings.TrimSpace(r.Header.Get(headers.TrustLevel)); raw != "" {
				level, err := strconv.Atoi(raw)
				if err != nil || level < 0 {
					slog.Warn("Ignoring malformed trust level header",
						"identity", identity,
						"value", raw,
						"correlation_id", GetCorrelationID(r.Context()),
					)
					level = 0
				}
				p.TrustLevel = level
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func (h IdentityHeaders) withDefaults() IdentityHeaders {
	if h.Identity == "" {
		h.Identity = DefaultIdentityHeaders.Identity
	}
	if h.Username == "" {
		h.Username = DefaultIdentityHeaders.Username
	}
	if h.DisplayName == "" {
		h.DisplayName = DefaultIdentityHeaders.DisplayName
	}
	if h.TrustLevel == "" {
		h.TrustLevel = DefaultIdentityHeaders.TrustLevel
	}
	return h
}

// WithPrincipal returns ctx carrying p
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the authenticated applicant, if any
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// GetIdentity extracts the applicant identity from context
func GetIdentity(ctx context.Context) string {
	p, _ := GetPrincipal(ctx)
	return p.Identity
}

// AdminToken requires "Authorization: Bearer <token>". An empty token
// disables the check.
func AdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			slog.Warn("ADMIN_TOKEN is empty, admin endpoints are unauthenticated")
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				slog.Warn("Rejected admin request",
					"path", r.URL.Path,
					"correlation_id", GetCorrelationID(r.Context()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   http.StatusText(http.StatusUnauthorized),
					"message": "admin token required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
