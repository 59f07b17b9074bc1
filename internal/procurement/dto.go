package procurement

import "time"

const dateLayout = "2006-01-02"

// PurchaseOrderDTO is the flattened transfer shape for a purchase order.
type PurchaseOrderDTO struct {
	ID           int64       `json:"id"`
	Number       string      `json:"number"`
	SupplierID   int64       `json:"supplier_id"`
	SupplierName string      `json:"supplier_name,omitempty"`
	Status       string      `json:"status"`
	OrderDate    string      `json:"order_date"`
	DueDate      string      `json:"due_date,omitempty"`
	Subtotal     float64     `json:"subtotal"`
	Tax          float64     `json:"tax"`
	Total        float64     `json:"total"`
	Notes        string      `json:"notes,omitempty"`
	Lines        []POLineDTO `json:"lines,omitempty"`
}

// POLineDTO is the flattened transfer shape for an ordered line.
type POLineDTO struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id,omitempty"`
	DraftID   int64   `json:"draft_id,omitempty"`
	SKU       string  `json:"sku,omitempty"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	Qty       float64 `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

// POListItemDTO is one row of a purchase order listing.
type POListItemDTO struct {
	ID           int64   `json:"id"`
	Number       string  `json:"number"`
	SupplierID   int64   `json:"supplier_id"`
	SupplierName string  `json:"supplier_name,omitempty"`
	Status       string  `json:"status"`
	OrderDate    string  `json:"order_date"`
	DueDate      string  `json:"due_date,omitempty"`
	Total        float64 `json:"total"`
}

// InvoiceDTO is the flattened transfer shape for a supplier invoice.
type InvoiceDTO struct {
	ID               int64            `json:"id"`
	Number           string           `json:"number"`
	SupplierID       int64            `json:"supplier_id"`
	POID             int64            `json:"po_id,omitempty"`
	Date             string           `json:"date"`
	DueDate          string           `json:"due_date,omitempty"`
	Amount           float64          `json:"amount"`
	BalanceRemaining float64          `json:"balance_remaining"`
	Status           string           `json:"status"`
	Lines            []InvoiceLineDTO `json:"lines,omitempty"`
}

// InvoiceLineDTO is the flattened transfer shape for a billed line.
type InvoiceLineDTO struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id,omitempty"`
	DraftID   int64   `json:"draft_id,omitempty"`
	POLineID  int64   `json:"po_line_id,omitempty"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	Qty       float64 `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

// GoodsReceiptDTO is the flattened transfer shape for a goods receipt.
type GoodsReceiptDTO struct {
	ID        int64        `json:"id"`
	Number    string       `json:"number"`
	POID      int64        `json:"po_id"`
	InvoiceID int64        `json:"invoice_id,omitempty"`
	Date      string       `json:"date"`
	Status    string       `json:"status"`
	Lines     []GRNLineDTO `json:"lines,omitempty"`
}

// GRNLineDTO is the flattened transfer shape for a received line.
type GRNLineDTO struct {
	ID            int64   `json:"id"`
	ProductID     int64   `json:"product_id,omitempty"`
	DraftID       int64   `json:"draft_id,omitempty"`
	POLineID      int64   `json:"po_line_id,omitempty"`
	InvoiceLineID int64   `json:"invoice_line_id,omitempty"`
	Name          string  `json:"name"`
	Unit          string  `json:"unit,omitempty"`
	ReceivedQty   float64 `json:"received_qty"`
	UnitPrice     float64 `json:"unit_price,omitempty"`
}

// MatchRowDTO is one reconciliation row of the three-way match report.
type MatchRowDTO struct {
	Key      string   `json:"key"`
	SKU      string   `json:"sku,omitempty"`
	Name     string   `json:"name"`
	Unit     string   `json:"unit,omitempty"`
	POQty    float64  `json:"po_qty"`
	InvQty   float64  `json:"inv_qty"`
	GRQty    float64  `json:"gr_qty"`
	POPrice  float64  `json:"po_price"`
	InvPrice float64  `json:"inv_price"`
	LineOK   bool     `json:"line_ok"`
	Notes    []string `json:"notes,omitempty"`
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func toPurchaseOrderDTO(po PurchaseOrder, lines []POLine, supplierName string) PurchaseOrderDTO {
	dto := PurchaseOrderDTO{
		ID:           po.ID,
		Number:       po.Number,
		SupplierID:   po.SupplierID,
		SupplierName: supplierName,
		Status:       string(po.Status),
		OrderDate:    formatDate(po.OrderDate),
		DueDate:      formatDate(po.DueDate),
		Subtotal:     po.Subtotal,
		Tax:          po.Tax,
		Total:        po.Total,
		Notes:        po.Notes,
	}
	for _, line := range lines {
		dto.Lines = append(dto.Lines, POLineDTO{
			ID:        line.ID,
			ProductID: line.Product.ProductID,
			DraftID:   line.Product.DraftID,
			SKU:       line.SKU,
			Name:      line.Name,
			Unit:      line.Unit,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	return dto
}

func toPOListItemDTO(item POListItem) POListItemDTO {
	return POListItemDTO{
		ID:           item.ID,
		Number:       item.Number,
		SupplierID:   item.SupplierID,
		SupplierName: item.SupplierName,
		Status:       string(item.Status),
		OrderDate:    formatDate(item.OrderDate),
		DueDate:      formatDate(item.DueDate),
		Total:        item.Total,
	}
}

func toInvoiceDTO(inv Invoice, lines []InvoiceLine) InvoiceDTO {
	dto := InvoiceDTO{
		ID:               inv.ID,
		Number:           inv.Number,
		SupplierID:       inv.SupplierID,
		POID:             inv.POID,
		Date:             formatDate(inv.Date),
		DueDate:          formatDate(inv.DueDate),
		Amount:           inv.Amount,
		BalanceRemaining: inv.BalanceRemaining,
		Status:           string(inv.Status),
	}
	for _, line := range lines {
		dto.Lines = append(dto.Lines, InvoiceLineDTO{
			ID:        line.ID,
			ProductID: line.Product.ProductID,
			DraftID:   line.Product.DraftID,
			POLineID:  line.POLineID,
			Name:      line.Name,
			Unit:      line.Unit,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	return dto
}

func toGoodsReceiptDTO(grn GoodsReceipt, lines []GRNLine) GoodsReceiptDTO {
	dto := GoodsReceiptDTO{
		ID:        grn.ID,
		Number:    grn.Number,
		POID:      grn.POID,
		InvoiceID: grn.InvoiceID,
		Date:      formatDate(grn.Date),
		Status:    string(grn.Status),
	}
	for _, line := range lines {
		dto.Lines = append(dto.Lines, GRNLineDTO{
			ID:            line.ID,
			ProductID:     line.Product.ProductID,
			DraftID:       line.Product.DraftID,
			POLineID:      line.POLineID,
			InvoiceLineID: line.InvoiceLineID,
			Name:          line.Name,
			Unit:          line.Unit,
			ReceivedQty:   line.ReceivedQty,
			UnitPrice:     line.UnitPrice,
		})
	}
	return dto
}

func toMatchRowDTOs(rows []MatchRow) []MatchRowDTO {
	out := make([]MatchRowDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, MatchRowDTO{
			Key:      row.Key,
			SKU:      row.SKU,
			Name:     row.Name,
			Unit:     row.Unit,
			POQty:    row.POQty,
			InvQty:   row.InvQty,
			GRQty:    row.GRQty,
			POPrice:  row.POPrice,
			InvPrice: row.InvPrice,
			LineOK:   row.LineOK,
			Notes:    row.Notes,
		})
	}
	return out
}
