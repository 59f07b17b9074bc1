package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/procura-erp/procura/internal/platform/httpx"
	"github.com/procura-erp/procura/internal/shared"
)

// Handler manages inventory endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/on-hand", h.handleOnHand)
	r.Get("/ledger", h.handleLedger)
	r.Post("/reversals", h.handleReversal)
	r.Post("/adjustments", h.handleAdjustment)
}

type onHandResponse struct {
	ProductID int64   `json:"product_id"`
	Qty       float64 `json:"qty"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

type ledgerEntryResponse struct {
	ID         int64   `json:"id"`
	ProductID  int64   `json:"product_id"`
	SourceType string  `json:"source_type"`
	SourceID   int64   `json:"source_id,omitempty"`
	QtyChange  float64 `json:"qty_change"`
	Memo       string  `json:"memo,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	productID, _ := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if productID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id is required")
		return
	}
	balance, err := h.service.GetOnHand(r.Context(), productID)
	if err != nil {
		h.logger.Error("get on-hand", slog.Any("error", err), slog.Int64("product_id", productID))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	resp := onHandResponse{ProductID: balance.ProductID, Qty: balance.Qty}
	if !balance.UpdatedAt.IsZero() {
		resp.UpdatedAt = balance.UpdatedAt.UTC().Format(time.RFC3339)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	productID, _ := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if productID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	filter := LedgerFilter{
		ProductID:  productID,
		SourceType: SourceType(r.URL.Query().Get("source_type")),
		Limit:      limit,
		Offset:     offset,
	}
	entries, err := h.service.ListLedger(r.Context(), filter)
	if err != nil {
		h.logger.Error("list ledger", slog.Any("error", err), slog.Int64("product_id", productID))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:         e.ID,
			ProductID:  e.ProductID,
			SourceType: string(e.SourceType),
			SourceID:   e.SourceID,
			QtyChange:  e.QtyChange,
			Memo:       e.Memo,
			CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type reversalRequest struct {
	ProductID int64   `json:"product_id"`
	SourceID  int64   `json:"source_id"`
	Qty       float64 `json:"qty"`
	Memo      string  `json:"memo"`
	Ref       string  `json:"ref"`
}

func (h *Handler) handleReversal(w http.ResponseWriter, r *http.Request) {
	var req reversalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	balance, err := h.service.PostReversal(r.Context(), ReversalInput{
		ProductID: req.ProductID,
		SourceID:  req.SourceID,
		Qty:       req.Qty,
		Memo:      req.Memo,
		Ref:       req.Ref,
	})
	if err != nil {
		h.respondError(w, "post reversal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, onHandResponse{ProductID: balance.ProductID, Qty: balance.Qty})
}

type adjustmentRequest struct {
	ProductID int64   `json:"product_id"`
	Qty       float64 `json:"qty"`
	Memo      string  `json:"memo"`
	Ref       string  `json:"ref"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	balance, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		ProductID: req.ProductID,
		Qty:       req.Qty,
		Memo:      req.Memo,
		Ref:       req.Ref,
	})
	if err != nil {
		h.respondError(w, "post adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, onHandResponse{ProductID: balance.ProductID, Qty: balance.Qty})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNegativeStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Blocked", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
