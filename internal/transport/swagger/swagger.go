package swagger

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"
)

// Handler serves Swagger UI for the contract published at /openapi.yml.
func Handler() http.Handler {
	return httpSwagger.Handler(
		httpSwagger.URL("/openapi.yml"),
		httpSwagger.DocExpansion("list"),
	)
}
