package procurement

import (
	"strings"

	"golang.org/x/text/cases"
)

// PriceTolerance is the absolute unit-price band within which a billed price
// still matches the ordered price.
const PriceTolerance = 0.01

// priceEpsilon absorbs float64 representation noise at the tolerance boundary.
const priceEpsilon = 1e-9

// MatchRow is one reconciliation line of the three-way match. Derived on
// demand, never persisted.
type MatchRow struct {
	Key      string
	SKU      string
	Name     string
	Unit     string
	POQty    float64
	InvQty   float64
	GRQty    float64
	POPrice  float64
	InvPrice float64
	LineOK   bool
	Notes    []string
}

var keyFolder = cases.Fold()

// NormalizeKey builds the join key shared by all three line types: the
// trimmed SKU when one exists, else the case-folded trimmed name. Invoice and
// receipt lines may reference a draft product promoted later, so the join is
// textual rather than a strict foreign key.
func NormalizeKey(sku, name string) string {
	if s := strings.TrimSpace(sku); s != "" {
		return keyFolder.String(s)
	}
	return keyFolder.String(strings.TrimSpace(name))
}

func unitsEqual(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return true
	}
	return keyFolder.String(a) == keyFolder.String(b)
}

// MatchDocuments reconciles ordered, billed, and received lines. Pure and
// read-only; callers treat the order as safe to pay only when every row
// reports LineOK.
func MatchDocuments(poLines []POLine, invLines []InvoiceLine, grnLines []GRNLine) []MatchRow {
	invByKey := make(map[string]InvoiceLine, len(invLines))
	for _, line := range invLines {
		key := NormalizeKey(line.SKU, line.Name)
		if _, ok := invByKey[key]; !ok {
			invByKey[key] = line
		}
	}
	grnByKey := make(map[string]GRNLine, len(grnLines))
	for _, line := range grnLines {
		key := NormalizeKey(line.SKU, line.Name)
		if _, ok := grnByKey[key]; !ok {
			grnByKey[key] = line
		}
	}

	rows := make([]MatchRow, 0, len(poLines))
	for _, line := range poLines {
		key := NormalizeKey(line.SKU, line.Name)
		row := MatchRow{
			Key:     key,
			SKU:     line.SKU,
			Name:    line.Name,
			Unit:    line.Unit,
			POQty:   line.Qty,
			POPrice: line.UnitPrice,
		}

		inv, hasInv := invByKey[key]
		rec, hasRec := grnByKey[key]

		unitMatch := true
		priceMatch := true
		qtyMatch := true
		if hasInv {
			row.InvQty = inv.Qty
			row.InvPrice = inv.UnitPrice
			unitMatch = unitsEqual(line.Unit, inv.Unit)
			diff := inv.UnitPrice - line.UnitPrice
			if diff < 0 {
				diff = -diff
			}
			priceMatch = diff <= PriceTolerance+priceEpsilon
			qtyMatch = inv.Qty == line.Qty
		}

		// Absence of a receipt is always a mismatch; the expected quantity is
		// the billed one when an invoice line exists, else the ordered one.
		receiptMatch := false
		if hasRec {
			row.GRQty = rec.ReceivedQty
			expected := line.Qty
			if hasInv {
				expected = inv.Qty
			}
			receiptMatch = rec.ReceivedQty == expected
		}

		var notes []string
		if !unitMatch {
			notes = append(notes, "Unit")
		}
		if !priceMatch {
			notes = append(notes, "Price")
		}
		if !qtyMatch {
			notes = append(notes, "Quantity")
		}
		if !receiptMatch {
			notes = append(notes, "Received Qty")
		}
		row.LineOK = len(notes) == 0
		row.Notes = notes
		rows = append(rows, row)
	}
	return rows
}
