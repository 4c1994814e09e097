package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/frahmantamala/approval-workflow/internal"
)

// RecoveryMiddleware provides panic recovery with detailed logging. The client only
// sees a generic INTERNAL_ERROR body.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						"error", err,
						"method", r.Method,
						"url", r.URL.String(),
						"stack", string(debug.Stack()))

					status, body := internal.NewInternalError("Internal server error", nil).ToHTTPResponse()
					writeJSON(w, status, body)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
