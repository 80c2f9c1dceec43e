// Package handler exposes the registry read API over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"trustdesk/internal/registry"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	"trustdesk/pkg/platform/httputil"
	"trustdesk/pkg/requestcontext"
)

// Service is the read side of the registry.
type Service interface {
	Whitelist(ctx context.Context, page int) (registry.Page[registry.WhitelistEntry], error)
	Scams(ctx context.Context, page int) (registry.Page[registry.ScamEntry], error)
	ScamHistory(ctx context.Context, handle string) ([]registry.ScamEntry, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public, read-only registry endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/registry/whitelist", h.HandleWhitelist)
	r.Get("/registry/scams", h.HandleScams)
	r.Get("/registry/scams/{handle}", h.HandleScamLookup)
}

func (h *Handler) HandleWhitelist(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.Whitelist(r.Context(), page)
	if err != nil {
		h.fail(r, w, "list whitelist failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleScams(w http.ResponseWriter, r *http.Request) {
	page, err := pageParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.Scams(r.Context(), page)
	if err != nil {
		h.fail(r, w, "list scams failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// ScamLookupResponse tells whether a handle is currently listed, with the
// full history of its entries.
type ScamLookupResponse struct {
	Handle  string               `json:"handle"`
	Active  bool                 `json:"active"`
	Entries []registry.ScamEntry `json:"entries"`
}

func (h *Handler) HandleScamLookup(w http.ResponseWriter, r *http.Request) {
	handle := id.NormalizeHandle(chi.URLParam(r, "handle"))
	if handle == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "handle is required"))
		return
	}
	entries, err := h.service.ScamHistory(r.Context(), handle)
	if err != nil {
		h.fail(r, w, "scam lookup failed", err)
		return
	}
	resp := ScamLookupResponse{Handle: handle, Entries: entries}
	if resp.Entries == nil {
		resp.Entries = []registry.ScamEntry{}
	}
	for _, e := range entries {
		if e.IsActive() {
			resp.Active = true
			break
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(r *http.Request, w http.ResponseWriter, msg string, err error) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func pageParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "page must be a positive integer")
	}
	return n, nil
}
