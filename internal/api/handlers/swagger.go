package handlers

import (
	"net/http"

	"github.com/mlhmz/dockermc-dashboard/api"
)

// ServeOpenAPISpec serves the embedded OpenAPI specification
func ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(api.OpenAPISpec)
}
