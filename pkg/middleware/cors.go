package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds CORS configuration. AllowedOrigins is "*" or a comma
// separated list of exact origins.
type CORSConfig struct {
	AllowedOrigins   string
	AllowedMethods   string
	AllowedHeaders   string
	AllowCredentials bool
	MaxAge           int
}

// CORS adds CORS headers and answers preflight requests. With credentials
// enabled the request origin is echoed instead of "*", which browsers reject.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	anyOrigin := false
	allowed := make(map[string]struct{})
	for _, origin := range strings.Split(config.AllowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			anyOrigin = true
		default:
			allowed[origin] = struct{}{}
		}
	}
	maxAge := ""
	if config.MaxAge > 0 {
		maxAge = strconv.Itoa(config.MaxAge)
	}

	allowOrigin := func(origin string) string {
		if _, ok := allowed[origin]; ok && origin != "" {
			return origin
		}
		if !anyOrigin {
			return ""
		}
		if config.AllowCredentials && origin != "" {
			return origin
		}
		return "*"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := allowOrigin(r.Header.Get("Origin")); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", config.AllowedMethods)
				h.Set("Access-Control-Allow-Headers", config.AllowedHeaders)
				h.Set("Access-Control-Expose-Headers", CorrelationHeader)
				if config.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if maxAge != "" {
					h.Set("Access-Control-Max-Age", maxAge)
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
