package handler

import (
	"net/http"

	"github.com/gatehousehq/gatehouse/internal/openapi"
)

// OpenAPIHandler serves the generated v1 API document.
type OpenAPIHandler struct{}

// NewOpenAPIHandler creates an OpenAPIHandler.
func NewOpenAPIHandler() *OpenAPIHandler {
	return &OpenAPIHandler{}
}

// ServeSpec returns the OpenAPI document for the public surface.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	baseURL := scheme + "://" + r.Host

	doc := openapi.GenerateSpec(baseURL, "1.0.0")
	writeJSON(w, http.StatusOK, doc)
}
