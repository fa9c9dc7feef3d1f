package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery converts a handler panic into a 500 JSON error. http.ErrAbortHandler
// is re-raised so the server aborts the response as usual.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			slog.Error("Handler panicked",
				"panic", rec,
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
				"identity", GetIdentity(r.Context()),
				"correlation_id", GetCorrelationID(r.Context()),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(struct {
				Error   string `json:"error"`
				Code    string `json:"code"`
				Message string `json:"message"`
			}{
				Error:   http.StatusText(http.StatusInternalServerError),
				Code:    "INTERNAL",
				Message: "unexpected server error",
			})
		}()

		next.ServeHTTP(w, r)
	})
}
