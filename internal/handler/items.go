package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"listingsync/internal/middleware"
	"listingsync/internal/model"
	"listingsync/internal/repository"
	"listingsync/pkg/apierror"
	"listingsync/pkg/response"

	"github.com/go-chi/chi/v5"
)

// ItemReader reads stored item records.
type ItemReader interface {
	GetItem(ctx context.Context, sku string, intent model.Intent) (*model.ItemRecord, error)
}

// ItemHandler serves current listings to downstream consumers.
type ItemHandler struct {
	items ItemReader
}

// NewItemHandler creates a new item handler.
func NewItemHandler(items ItemReader) *ItemHandler {
	return &ItemHandler{items: items}
}

// GetItem handles GET /api/v1/items/{sku}?intent=buy|sell
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	// chi matches on the raw path, so an escaped ';' arrives as %3B.
	sku, err := url.PathUnescape(chi.URLParam(r, "sku"))
	if err != nil {
		response.Error(w, apierror.BadRequest("invalid sku").WithRequestID(requestID))
		return
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		response.Error(w, apierror.BadRequest("sku is required").WithRequestID(requestID))
		return
	}

	intent := model.Intent(strings.ToLower(r.URL.Query().Get("intent")))
	if intent != "" && !intent.Valid() {
		response.Error(w, apierror.BadRequest("intent must be buy or sell").WithRequestID(requestID))
		return
	}

	rec, err := h.items.GetItem(r.Context(), sku, intent)
	if errors.Is(err, repository.ErrNotFound) {
		response.Error(w, apierror.NotFound("item not found").WithRequestID(requestID))
		return
	}
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("failed to read item").WithCause(err).WithRequestID(requestID))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	response.OK(w, rec)
}
