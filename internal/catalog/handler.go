package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/procura-erp/procura/internal/platform/httpx"
)

// Handler manages catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/drafts", h.handleCreateDraft)
	r.Post("/drafts/{id}/promote", h.handlePromoteDraft)
	r.Get("/suppliers/{id}", h.handleGetSupplier)
}

type draftRequest struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

type draftResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Unit       string `json:"unit,omitempty"`
	PromotedTo int64  `json:"promoted_to,omitempty"`
}

func (h *Handler) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	draft, err := h.service.CreateDraft(r.Context(), DraftInput{Name: req.Name, Unit: req.Unit})
	if err != nil {
		h.respondError(w, "create draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, draftResponse{ID: draft.ID, Name: draft.Name, Unit: draft.Unit})
}

type promoteRequest struct {
	SKU string `json:"sku"`
}

type productResponse struct {
	ID      int64  `json:"id"`
	SKU     string `json:"sku"`
	Name    string `json:"name"`
	Unit    string `json:"unit,omitempty"`
	DraftID int64  `json:"draft_id,omitempty"`
}

func (h *Handler) handlePromoteDraft(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req promoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	product, err := h.service.PromoteDraft(r.Context(), id, req.SKU)
	if err != nil {
		h.respondError(w, "promote draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, productResponse{ID: product.ID, SKU: product.SKU, Name: product.Name, Unit: product.Unit, DraftID: product.DraftID})
}

type supplierResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (h *Handler) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	supplier, err := h.service.GetSupplier(r.Context(), id)
	if err != nil {
		h.respondError(w, "get supplier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplierResponse{ID: supplier.ID, Name: supplier.Name, Email: supplier.Email})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrAlreadyPromoted):
		httpx.Problem(w, http.StatusConflict, "Already Promoted", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
