package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printshop-api/internal/common"
)

// Handler exposes orders to their owners.
type Handler struct {
	Store  Store
	Logger zerolog.Logger
}

// List returns the authenticated user's orders, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	page := common.ParsePage(r, 20)
	orders, total, err := h.Store.ListForUser(r.Context(), userID, page.PerPage, page.Offset())
	if err != nil {
		h.Logger.Error().Err(err).Msg("list orders failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.Paged(w, orders, page.WithTotal(total))
}

// Get returns a single order to the session or user that placed it.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	ord, err := h.Store.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("load order failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	if !visibleTo(ord, r) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	common.Data(w, http.StatusOK, ord)
}

func visibleTo(o *Order, r *http.Request) bool {
	if userID, ok := common.UserID(r.Context()); ok && o.UserID != nil && *o.UserID == userID {
		return true
	}
	sid, ok := common.SessionID(r.Context())
	return ok && o.SessionID == sid
}
