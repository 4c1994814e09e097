package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// OpenAPIValidator rejects requests that do not match api/openapi.yml before they reach
// a handler. Paths the document does not describe pass through untouched.
type OpenAPIValidator struct {
	router routers.Router
	logger *slog.Logger
}

func LoadOpenAPIValidator(specPath string, logger *slog.Logger) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load openapi document %s: %w", specPath, err)
	}
	return NewOpenAPIValidator(doc, logger)
}

func NewOpenAPIValidator(doc *openapi3.T, logger *slog.Logger) (*OpenAPIValidator, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build openapi router: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAPIValidator{router: router, logger: logger}, nil
}

func (v *OpenAPIValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				// bearer tokens are checked by the auth middleware
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			v.logger.Warn("request does not match api contract",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err)
			appErr := internal.NewValidationError("Request does not match the API contract", internal.ErrCodeRequestSchemaInvalid).
				WithDetails(map[string]string{"reason": err.Error()})
			status, body := appErr.ToHTTPResponse()
			writeJSON(w, status, body)
			return
		}

		next.ServeHTTP(w, r)
	})
}
