// Package calculator prices a cart of line items. It is used both to preview a
// draft sale and, server side, to recompute every persisted sale.
package calculator

import (
	"github.com/shopspring/decimal"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/money"
)

type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	UnitCost  decimal.Decimal
}

type Cart struct {
	Lines    []Line
	Discount decimal.Decimal
	Paid     decimal.Decimal
}

type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total_amount"`
	Profit      decimal.Decimal `json:"profit"`
	Paid        decimal.Decimal `json:"paid_amount"`
	Change      decimal.Decimal `json:"change"`
	Outstanding decimal.Decimal `json:"outstanding"`
	IsFullyPaid bool            `json:"is_fully_paid"`
	ItemCount   int             `json:"item_count"`
}

func Validate(cart Cart) error {
	if len(cart.Lines) == 0 {
		return domain.Invalid("cart has no items")
	}
	for _, line := range cart.Lines {
		if line.ProductID == "" {
			return domain.Invalid("line item has no product")
		}
		if line.Quantity < 1 {
			return domain.Invalid("quantity for %s must be at least 1", line.ProductID)
		}
		if line.UnitPrice.IsNegative() || line.UnitCost.IsNegative() {
			return domain.Invalid("prices for %s must not be negative", line.ProductID)
		}
	}
	if cart.Discount.IsNegative() {
		return domain.Invalid("discount must not be negative")
	}
	if cart.Paid.IsNegative() {
		return domain.Invalid("paid amount must not be negative")
	}
	return nil
}

func Compute(cart Cart) (Totals, error) {
	if err := Validate(cart); err != nil {
		return Totals{}, err
	}

	subtotal := Subtotal(cart.Lines)
	total := Total(subtotal, cart.Discount)
	paid := money.Round(cart.Paid)

	items := 0
	for _, line := range cart.Lines {
		items += line.Quantity
	}

	return Totals{
		Subtotal:    money.Round(subtotal),
		Discount:    money.Round(cart.Discount),
		Total:       total,
		Profit:      Profit(cart.Lines, cart.Discount),
		Paid:        paid,
		Change:      money.NonNegative(paid.Sub(total)),
		Outstanding: money.NonNegative(total.Sub(paid)),
		IsFullyPaid: IsFullyPaid(paid, total),
		ItemCount:   items,
	}, nil
}

func Subtotal(lines []Line) decimal.Decimal {
	subtotal := money.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(money.Mul(line.UnitPrice, line.Quantity))
	}
	return subtotal
}

// Total never goes below zero: a discount larger than the subtotal zeroes it.
func Total(subtotal, discount decimal.Decimal) decimal.Decimal {
	return money.Round(money.NonNegative(subtotal.Sub(discount)))
}

func Profit(lines []Line, discount decimal.Decimal) decimal.Decimal {
	margin := money.Zero
	for _, line := range lines {
		margin = margin.Add(money.Mul(line.UnitPrice.Sub(line.UnitCost), line.Quantity))
	}
	return money.Round(money.NonNegative(margin.Sub(discount)))
}

func IsFullyPaid(paid, total decimal.Decimal) bool {
	return paid.GreaterThanOrEqual(total)
}

// Merge folds repeated product lines into one. Lines for the same product must
// agree on price; a mismatch is rejected rather than averaged.
func Merge(lines []Line) ([]Line, error) {
	merged := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		pos, ok := index[line.ProductID]
		if !ok {
			index[line.ProductID] = len(merged)
			merged = append(merged, line)
			continue
		}
		if !merged[pos].UnitPrice.Equal(line.UnitPrice) {
			return nil, domain.Invalid("product %s appears with different unit prices", line.ProductID)
		}
		merged[pos].Quantity += line.Quantity
	}
	return merged, nil
}

// FromSaleItems converts persisted items back into calculator lines.
func FromSaleItems(items []domain.SaleItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, Line{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			UnitCost:  item.UnitCost,
		})
	}
	return lines
}

func ToSaleItems(lines []Line) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.SaleItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			UnitCost:  line.UnitCost,
		})
	}
	return items
}
