package handler

import (
	"encoding/json"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIHandler serves the OpenAPI 3.1 document of the keysmith API. The
// document is static for the life of the process and rendered once.
type OpenAPIHandler struct {
	body []byte
	err  error
}

// NewOpenAPIHandler creates a new OpenAPIHandler for doc.
func NewOpenAPIHandler(doc *openapi3.T) *OpenAPIHandler {
	body, err := json.MarshalIndent(doc, "", "  ")
	return &OpenAPIHandler{body: body, err: err}
}

// ServeSpec writes the document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	if h.err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render OpenAPI document")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.body)
}
