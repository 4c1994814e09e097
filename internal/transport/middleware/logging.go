package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/approval-workflow/pkg/logger"
)

// maxLoggedBody caps how much of a request or response body ends up in the logs.
const maxLoggedBody = 4 << 10

// sensitiveFields are field names that should be filtered from logs
var sensitiveFields = []string{
	"password",
	"token",
	"authorization",
	"secret",
	"api_key",
	"cookie",
	"credential",
}

// LoggingMiddleware logs every request and response through the request-scoped logger,
// so the trace id added by RequestID shows up on both lines.
func LoggingMiddleware(fallback *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lg := requestLogger(r, fallback)

			logRequest(lg, r)

			ww := &responseWriter{
				ResponseWriter: w,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(ww, r)

			logResponse(lg, r, ww, time.Since(start))
		})
	}
}

func requestLogger(r *http.Request, fallback *slog.Logger) *slog.Logger {
	if lg, ok := logger.FromContext(r.Context()); ok {
		return lg
	}
	return fallback
}

// responseWriter wraps http.ResponseWriter to capture status and the head of the body
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
	body       *bytes.Buffer
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rw.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rw.body.Write(b[:room])
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func logRequest(lg *slog.Logger, r *http.Request) {
	var bodyBytes []byte
	if r.Body != nil && r.ContentLength != 0 {
		bodyBytes, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}
	if len(bodyBytes) > maxLoggedBody {
		bodyBytes = bodyBytes[:maxLoggedBody]
	}

	lg.Info("incoming request",
		"method", r.Method,
		"path", r.URL.Path,
		"query", r.URL.RawQuery,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"headers", filterSensitiveHeaders(r.Header),
		"body", filterSensitiveBody(bodyBytes),
	)
}

func logResponse(lg *slog.Logger, r *http.Request, rw *responseWriter, duration time.Duration) {
	statusCode := rw.statusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	lg.Log(r.Context(), level, "response",
		"method", r.Method,
		"path", r.URL.Path,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
		"response_size", rw.size,
		"body", filterSensitiveBody(rw.body.Bytes()),
	)
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

func filterSensitiveHeaders(headers http.Header) map[string]string {
	filtered := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) {
			filtered[name] = "[FILTERED]"
			continue
		}
		filtered[name] = strings.Join(values, ", ")
	}
	return filtered
}

// filterSensitiveBody masks sensitive fields of a JSON body. Non-JSON bodies are
// logged only when they contain none of the sensitive names.
func filterSensitiveBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		if isSensitive(string(body)) {
			return "[FILTERED - Contains sensitive data]"
		}
		return string(body)
	}

	filtered, err := json.Marshal(filterSensitiveJSON(data))
	if err != nil {
		return "[ERROR - Failed to marshal filtered JSON]"
	}
	return string(filtered)
}

func filterSensitiveJSON(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		filtered := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isSensitive(key) {
				filtered[key] = "[FILTERED]"
			} else {
				filtered[key] = filterSensitiveJSON(value)
			}
		}
		return filtered
	case []interface{}:
		filtered := make([]interface{}, len(v))
		for i, item := range v {
			filtered[i] = filterSensitiveJSON(item)
		}
		return filtered
	default:
		return v
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
