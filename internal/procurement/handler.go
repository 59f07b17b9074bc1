package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/procura-erp/procura/internal/platform/httpx"
	"github.com/procura-erp/procura/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/purchase-orders", h.handleListPOs)
	r.Post("/purchase-orders", h.handleCreatePO)
	r.Get("/purchase-orders/{id}", h.handleGetPO)
	r.Post("/purchase-orders/{id}/status", h.handleUpdatePOStatus)
	r.Get("/purchase-orders/{id}/approvals", h.handleListPOApprovals)
	r.Post("/invoices", h.handleCreateInvoice)
	r.Post("/invoices/{id}/payments", h.handleRegisterPayment)
	r.Post("/invoices/{id}/status", h.handleUpdateInvoiceStatus)
	r.Post("/goods-receipts", h.handleCreateGRN)
	r.Post("/goods-receipts/{id}/post", h.handlePostGRN)
	r.Get("/match", h.handleMatch)
}

type listPOResponse struct {
	Data       []POListItemDTO `json:"data"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
}

func (h *Handler) handleListPOs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	supplierID, _ := strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	filters := ListFilters{
		Status:     q.Get("status"),
		SupplierID: supplierID,
		Search:     q.Get("search"),
		SortBy:     q.Get("sort_by"),
		SortDir:    q.Get("sort_dir"),
	}

	pg := shared.NewPagination(page, perPage, 0)
	items, total, err := h.service.ListPurchaseOrders(r.Context(), pg.PerPage, pg.Offset(), filters)
	if err != nil {
		h.respondError(w, "list purchase orders", err)
		return
	}
	data := make([]POListItemDTO, 0, len(items))
	for _, item := range items {
		data = append(data, toPOListItemDTO(item))
	}
	pg = shared.NewPagination(page, perPage, total)
	httpx.JSON(w, http.StatusOK, listPOResponse{
		Data:       data,
		Page:       pg.Page,
		PerPage:    pg.PerPage,
		Total:      pg.Total,
		TotalPages: pg.TotalPages,
	})
}

type poLineRequest struct {
	ProductID int64   `json:"product_id"`
	DraftID   int64   `json:"draft_id"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit"`
	Qty       float64 `json:"qty" validate:"gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type createPORequest struct {
	SupplierID int64           `json:"supplier_id" validate:"required"`
	OrderDate  string          `json:"order_date"`
	DueDate    string          `json:"due_date"`
	Tax        float64         `json:"tax" validate:"gte=0"`
	Notes      string          `json:"notes"`
	Lines      []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreatePO(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreatePOInput{
		SupplierID: req.SupplierID,
		OrderDate:  parseDate(req.OrderDate),
		DueDate:    parseDate(req.DueDate),
		Tax:        req.Tax,
		Notes:      req.Notes,
		ActorID:    actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, POLineInput{
			ProductID: line.ProductID,
			DraftID:   line.DraftID,
			Name:      line.Name,
			Unit:      line.Unit,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
		})
	}

	po, lines, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.respondError(w, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPurchaseOrderDTO(po, lines, ""))
}

func (h *Handler) handleGetPO(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	po, lines, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPurchaseOrderDTO(po, lines, ""))
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note"`
}

func (h *Handler) handleUpdatePOStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	po, err := h.service.UpdatePurchaseOrderStatus(r.Context(), id, POStatus(req.Status), actorID(r), req.Note)
	if err != nil {
		h.respondError(w, "update purchase order status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPurchaseOrderDTO(po, nil, ""))
}

type approvalDTO struct {
	ActorID int64  `json:"actor_id"`
	Action  string `json:"action"`
	Note    string `json:"note,omitempty"`
	At      string `json:"at"`
}

func (h *Handler) handleListPOApprovals(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	trail, err := h.service.ListApprovals(r.Context(), id)
	if err != nil {
		h.respondError(w, "list approvals", err)
		return
	}
	data := make([]approvalDTO, 0, len(trail))
	for _, entry := range trail {
		data = append(data, approvalDTO{
			ActorID: entry.ActorID,
			Action:  string(entry.Action),
			Note:    entry.Note,
			At:      entry.At.UTC().Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": data})
}

type invoiceLineRequest struct {
	ProductID int64   `json:"product_id"`
	DraftID   int64   `json:"draft_id"`
	POLineID  int64   `json:"po_line_id"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit"`
	Qty       float64 `json:"qty" validate:"gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type createInvoiceRequest struct {
	Number     string               `json:"number" validate:"required"`
	SupplierID int64                `json:"supplier_id" validate:"required"`
	POID       int64                `json:"po_id"`
	Date       string               `json:"date"`
	DueDate    string               `json:"due_date"`
	Lines      []invoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInvoiceInput{
		Number:     req.Number,
		SupplierID: req.SupplierID,
		POID:       req.POID,
		Date:       parseDate(req.Date),
		DueDate:    parseDate(req.DueDate),
		ActorID:    actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, InvoiceLineInput{
			ProductID: line.ProductID,
			DraftID:   line.DraftID,
			POLineID:  line.POLineID,
			Name:      line.Name,
			Unit:      line.Unit,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
		})
	}

	inv, lines, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.respondError(w, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceDTO(inv, lines))
}

type paymentRequest struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	PaidAt string  `json:"paid_at"`
}

func (h *Handler) handleRegisterPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.RegisterPayment(r.Context(), PaymentInput{
		InvoiceID: id,
		Amount:    req.Amount,
		PaidAt:    parseDate(req.PaidAt),
		ActorID:   actorID(r),
	})
	if err != nil {
		h.respondError(w, "register payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceDTO(inv, nil))
}

func (h *Handler) handleUpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.UpdateInvoiceStatus(r.Context(), id, InvoiceStatus(req.Status), actorID(r))
	if err != nil {
		h.respondError(w, "update invoice status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceDTO(inv, nil))
}

type grnLineRequest struct {
	ProductID     int64   `json:"product_id"`
	DraftID       int64   `json:"draft_id"`
	POLineID      int64   `json:"po_line_id"`
	InvoiceLineID int64   `json:"invoice_line_id"`
	Name          string  `json:"name"`
	Unit          string  `json:"unit"`
	ReceivedQty   float64 `json:"received_qty" validate:"gte=0"`
	UnitPrice     float64 `json:"unit_price" validate:"gte=0"`
}

type createGRNRequest struct {
	POID      int64            `json:"po_id" validate:"required"`
	InvoiceID int64            `json:"invoice_id"`
	Date      string           `json:"date"`
	Lines     []grnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateGRN(w http.ResponseWriter, r *http.Request) {
	var req createGRNRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateGRNInput{
		POID:      req.POID,
		InvoiceID: req.InvoiceID,
		Date:      parseDate(req.Date),
		ActorID:   actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, GRNLineInput{
			ProductID:     line.ProductID,
			DraftID:       line.DraftID,
			POLineID:      line.POLineID,
			InvoiceLineID: line.InvoiceLineID,
			Name:          line.Name,
			Unit:          line.Unit,
			ReceivedQty:   line.ReceivedQty,
			UnitPrice:     line.UnitPrice,
		})
	}

	grn, lines, err := h.service.CreateGoodsReceipt(r.Context(), input)
	if err != nil {
		h.respondError(w, "create goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGoodsReceiptDTO(grn, lines))
}

func (h *Handler) handlePostGRN(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.PostGoodsReceipt(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, "post goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	poID, _ := strconv.ParseInt(q.Get("po_id"), 10, 64)
	invoiceID, _ := strconv.ParseInt(q.Get("invoice_id"), 10, 64)
	grnID, _ := strconv.ParseInt(q.Get("grn_id"), 10, 64)

	rows, err := h.service.Match(r.Context(), poID, invoiceID, grnID)
	if err != nil {
		h.respondError(w, "three-way match", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMatchRowDTOs(rows))
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrPostingBlocked):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Posting Blocked", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// actorID reads the authenticated actor from the request header. Identity and
// authorization live at the gateway; the service only attributes actions.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
