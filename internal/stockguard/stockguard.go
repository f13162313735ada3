// Package stockguard keeps cart quantities within on-hand stock and computes
// the all-or-nothing stock adjustments for confirmed and cancelled sales.
package stockguard

import (
	"sort"

	"github.com/shopspring/decimal"

	"tokocabang/backend/internal/calculator"
	"tokocabang/backend/internal/domain"
)

// Draft is an unconfirmed cart. Nothing in it touches product stock.
type Draft struct {
	lines []calculator.Line
	names map[string]string
}

func NewDraft() *Draft {
	return &Draft{names: make(map[string]string)}
}

// Set puts the line for product at qty. A qty above on-hand stock is rejected
// and the previous quantity is kept. A qty of zero or less removes the line.
func (d *Draft) Set(product domain.Product, qty int) error {
	if qty <= 0 {
		d.Remove(product.ID)
		return nil
	}
	if !product.Active() {
		return domain.Invalid("product %s is not active", product.Name)
	}
	if qty > product.Quantity {
		return &domain.StockError{Shortages: []domain.StockShortage{{
			ProductID: product.ID,
			Name:      product.Name,
			Requested: qty,
			Available: product.Quantity,
		}}}
	}

	d.names[product.ID] = product.Name
	if pos := d.index(product.ID); pos >= 0 {
		d.lines[pos].Quantity = qty
		return nil
	}
	d.lines = append(d.lines, calculator.Line{
		ProductID: product.ID,
		Quantity:  qty,
		UnitPrice: product.SalePrice,
		UnitCost:  product.PurchasePrice,
	})
	return nil
}

// Add increases the line for product by delta through the same check as Set.
func (d *Draft) Add(product domain.Product, delta int) error {
	return d.Set(product, d.Quantity(product.ID)+delta)
}

// SetPrice overrides the unit price of an existing line.
func (d *Draft) SetPrice(productID string, price decimal.Decimal) error {
	if price.IsNegative() {
		return domain.Invalid("unit price must not be negative")
	}
	pos := d.index(productID)
	if pos < 0 {
		return domain.ErrNotFound
	}
	d.lines[pos].UnitPrice = price
	return nil
}

func (d *Draft) Remove(productID string) {
	pos := d.index(productID)
	if pos < 0 {
		return
	}
	d.lines = append(d.lines[:pos], d.lines[pos+1:]...)
	delete(d.names, productID)
}

func (d *Draft) Quantity(productID string) int {
	if pos := d.index(productID); pos >= 0 {
		return d.lines[pos].Quantity
	}
	return 0
}

func (d *Draft) Lines() []calculator.Line {
	out := make([]calculator.Line, len(d.lines))
	copy(out, d.lines)
	return out
}

func (d *Draft) Len() int {
	return len(d.lines)
}

func (d *Draft) index(productID string) int {
	for i, line := range d.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// Demand sums requested quantities per product.
func Demand(items []domain.SaleItem) map[string]int {
	demand := make(map[string]int, len(items))
	for _, item := range items {
		demand[item.ProductID] += item.Quantity
	}
	return demand
}

// Check reports every product whose on-hand quantity cannot cover the request.
func Check(items []domain.SaleItem, products map[string]domain.Product) error {
	var shortages []domain.StockShortage
	for productID, qty := range Demand(items) {
		product, ok := products[productID]
		available := 0
		if ok {
			available = product.Quantity
		}
		if qty > available {
			shortages = append(shortages, domain.StockShortage{
				ProductID: productID,
				Name:      product.Name,
				Requested: qty,
				Available: available,
			})
		}
	}
	if len(shortages) == 0 {
		return nil
	}
	sort.Slice(shortages, func(i, j int) bool {
		return shortages[i].ProductID < shortages[j].ProductID
	})
	return &domain.StockError{Shortages: shortages}
}

// Reserve returns the on-hand quantities after selling items. Either every
// product has enough stock and all new quantities are returned, or an error is
// returned and nothing is adjusted.
func Reserve(items []domain.SaleItem, products map[string]domain.Product) (map[string]int, error) {
	if err := Check(items, products); err != nil {
		return nil, err
	}
	next := make(map[string]int, len(products))
	for productID, qty := range Demand(items) {
		next[productID] = products[productID].Quantity - qty
	}
	return next, nil
}

// Release returns the on-hand quantities after putting items back.
func Release(items []domain.SaleItem, products map[string]domain.Product) map[string]int {
	next := make(map[string]int, len(products))
	for productID, qty := range Demand(items) {
		next[productID] = products[productID].Quantity + qty
	}
	return next
}

// ProductIDs lists the distinct products referenced by items in a stable order,
// which is also the row-lock order used by the stores.
func ProductIDs(items []domain.SaleItem) []string {
	demand := Demand(items)
	ids := make([]string, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
