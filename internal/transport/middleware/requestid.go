package middleware

import (
	"net/http"

	"github.com/frahmantamala/approval-workflow/pkg/logger"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
)

const TraceIDHeader = "X-Trace-ID"

// RequestID propagates the caller's trace id, or mints one, and attaches it to the
// request logger. It runs after chi's RequestID so both ids end up in the logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "trace_id", traceID, "request_id", middleware.GetReqID(r.Context()))
		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
