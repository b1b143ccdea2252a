package cart

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/concordpay-gateway/internal/common"
)

// Handler exposes cart session state to the host shop.
type Handler struct {
	Store Store
}

// Get returns the pending/cleared state of a session.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.Status(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		if errors.Is(err, ErrSessionRequired) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "session is required", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load cart state", nil)
		return
	}
	common.JSON(w, http.StatusOK, st)
}
