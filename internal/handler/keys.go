package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keysmith/internal/model"
	"github.com/faucetdb/keysmith/internal/server/middleware"
	"github.com/faucetdb/keysmith/internal/service"
)

// KeyHandler serves the owner-facing key management endpoints and the
// consumer-facing whoami endpoint.
type KeyHandler struct {
	issuer *service.IssuanceService
	logger *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(issuer *service.IssuanceService, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{issuer: issuer, logger: logger}
}

// keyNameRequest is the expected payload for Issue and Rename.
type keyNameRequest struct {
	Name string `json:"name"`
}

// ownerID returns the authenticated owner, or "" when the request carries
// no owner principal. The service turns "" into ErrUnauthorized.
func ownerID(r *http.Request) string {
	p := middleware.GetPrincipal(r.Context())
	if p == nil || p.Type != middleware.PrincipalOwner {
		return ""
	}
	return p.OwnerID
}

// Issue creates a key for the authenticated owner and returns the raw key
// exactly once.
// POST /api/v1/keys
func (h *KeyHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req keyNameRequest
	if err := readJSON(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}

	res, err := h.issuer.Issue(r.Context(), model.IssueRequest{
		OwnerID: ownerID(r),
		Name:    req.Name,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	// The raw key must not be cached anywhere between here and the caller.
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, model.IssueResponse{
		ID:        res.ID,
		Name:      res.Name,
		KeyPrefix: res.KeyPrefix,
		CreatedAt: res.CreatedAt,
		KeySecret: res.SecretOnce,
	})
}

// List returns the metadata of the authenticated owner's keys.
// GET /api/v1/keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	keys, err := h.issuer.List(r.Context(), model.ListRequest{OwnerID: ownerID(r)})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta: &model.ResponseMeta{
			Count:  len(keys),
			TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	})
}

// Rename changes the label of one of the owner's keys.
// PATCH /api/v1/keys/{id}
func (h *KeyHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req keyNameRequest
	if err := readJSON(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}

	meta, err := h.issuer.Rename(r.Context(), model.RenameRequest{
		OwnerID: ownerID(r),
		ID:      chi.URLParam(r, "id"),
		Name:    req.Name,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// Delete permanently removes one of the owner's keys. A key that does not
// exist and a key owned by someone else produce the same 404.
// DELETE /api/v1/keys/{id}
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.issuer.Delete(r.Context(), model.DeleteRequest{
		OwnerID: ownerID(r),
		ID:      chi.URLParam(r, "id"),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key deleted",
	})
}

// WhoAmI reports the identity resolved from the presented API key.
// GET /api/v1/whoami
func (h *KeyHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil || p.Type != middleware.PrincipalAPIKey {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, model.IdentityResponse{
		OwnerID: p.OwnerID,
		KeyID:   p.KeyID,
	})
}
