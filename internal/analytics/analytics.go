// Package analytics folds sales, dues and payments into dashboard rollups.
// Every function here is pure: the caller supplies the records and "now".
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tokocabang/backend/internal/domain"
	"tokocabang/backend/internal/ledger"
	"tokocabang/backend/internal/money"
)

type Range string

const (
	RangeAll       Range = "all"
	RangeLast30    Range = "last30"
	RangeThisMonth Range = "thisMonth"
)

// TrendMonths is the length of the trailing monthly payment window.
const TrendMonths = 6

func ParseRange(raw string) (Range, error) {
	switch Range(strings.TrimSpace(raw)) {
	case "", RangeAll:
		return RangeAll, nil
	case RangeLast30:
		return RangeLast30, nil
	case RangeThisMonth:
		return RangeThisMonth, nil
	}
	return "", domain.Invalid("unknown range %q", raw)
}

// Cutoff returns the inclusive lower bound of r. ok is false for RangeAll.
func (r Range) Cutoff(now time.Time) (cutoff time.Time, ok bool) {
	now = now.UTC()
	switch r {
	case RangeLast30:
		return now.AddDate(0, 0, -30), true
	case RangeThisMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func (r Range) Contains(at time.Time, now time.Time) bool {
	cutoff, ok := r.Cutoff(now)
	if !ok {
		return true
	}
	return !at.UTC().Before(cutoff)
}

type Input struct {
	Customers []domain.Customer
	Sales     []domain.Sale
	Dues      []domain.Due
	Payments  []domain.Payment
	Range     Range
	Now       time.Time
}

type CustomerSummary struct {
	CustomerID               string          `json:"customer_id"`
	Name                     string          `json:"name"`
	SaleCount                int             `json:"sale_count"`
	TotalDueAmount           decimal.Decimal `json:"total_due_amount"`
	TotalPaidAmount          decimal.Decimal `json:"total_paid_amount"`
	TotalRemainingDuesAmount decimal.Decimal `json:"total_remaining_dues_amount"`
	NetBalance               decimal.Decimal `json:"net_balance"`
	CollectionRate           decimal.Decimal `json:"collection_rate"`
	LatestSaleDate           *time.Time      `json:"latest_sale_date,omitempty"`
}

type SalesTotals struct {
	Count              int             `json:"count"`
	FullyPaidCount     int             `json:"fully_paid_count"`
	PartiallyPaidCount int             `json:"partially_paid_count"`
	CancelledCount     int             `json:"cancelled_count"`
	Amount             decimal.Decimal `json:"amount"`
	Paid               decimal.Decimal `json:"paid"`
	Discount           decimal.Decimal `json:"discount"`
	Profit             decimal.Decimal `json:"profit"`
	Outstanding        decimal.Decimal `json:"outstanding"`
	ProfitMargin       decimal.Decimal `json:"profit_margin"`
	CollectionRate     decimal.Decimal `json:"collection_rate"`
	AverageSale        decimal.Decimal `json:"average_sale"`
}

type MixEntry struct {
	Key    string          `json:"key"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type TrendPoint struct {
	Month  string          `json:"month"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type DueTotals struct {
	Count         int             `json:"count"`
	Total         decimal.Decimal `json:"total"`
	Paid          decimal.Decimal `json:"paid"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	OverdueAmount decimal.Decimal `json:"overdue_amount"`
	ByStatus      map[string]int  `json:"by_status"`
}

type Dashboard struct {
	Range            Range             `json:"range"`
	GeneratedAt      time.Time         `json:"generated_at"`
	Customers        []CustomerSummary `json:"customers"`
	Sales            SalesTotals       `json:"sales"`
	OwnerTypeMix     []MixEntry        `json:"owner_type_mix"`
	PaymentMethodMix []MixEntry        `json:"payment_method_mix"`
	MonthlyTrend     []TrendPoint      `json:"monthly_trend"`
	Dues             DueTotals         `json:"dues"`
}

func Build(in Input) Dashboard {
	now := in.Now.UTC()
	if in.Range == "" {
		in.Range = RangeAll
	}

	payments := make([]domain.Payment, 0, len(in.Payments))
	for _, p := range in.Payments {
		if in.Range.Contains(p.PaymentDate, now) {
			payments = append(payments, p)
		}
	}

	return Dashboard{
		Range:            in.Range,
		GeneratedAt:      now,
		Customers:        CustomerSummaries(in.Customers, in.Sales, in.Dues),
		Sales:            SummarizeSales(in.Sales, in.Range, now),
		OwnerTypeMix:     OwnerTypeMix(payments, in.Dues),
		PaymentMethodMix: PaymentMethodMix(payments),
		MonthlyTrend:     MonthlyTrend(in.Payments, now),
		Dues:             SummarizeDues(in.Dues, now),
	}
}

// CustomerSummaries reports every customer, including those without sales.
// Balances are cumulative so the time range does not apply here.
func CustomerSummaries(customers []domain.Customer, sales []domain.Sale, dues []domain.Due) []CustomerSummary {
	index := make(map[string]int, len(customers))
	out := make([]CustomerSummary, len(customers))
	for i, c := range customers {
		index[c.ID] = i
		out[i] = CustomerSummary{
			CustomerID:               c.ID,
			Name:                     c.Name,
			TotalDueAmount:           money.Zero,
			TotalPaidAmount:          money.Zero,
			TotalRemainingDuesAmount: money.Zero,
			NetBalance:               money.Zero,
			CollectionRate:           money.Zero,
		}
	}

	for _, s := range sales {
		i, ok := index[s.CustomerID]
		if !ok || s.Status == domain.SaleStatusCancelled {
			continue
		}
		sum := &out[i]
		sum.SaleCount++
		sum.TotalDueAmount = sum.TotalDueAmount.Add(s.TotalAmount)
		sum.TotalPaidAmount = sum.TotalPaidAmount.Add(s.PaidAmount)
		if sum.LatestSaleDate == nil || s.SaleDate.After(*sum.LatestSaleDate) {
			at := s.SaleDate.UTC()
			sum.LatestSaleDate = &at
		}
	}

	for _, d := range dues {
		if d.DueType != domain.DueTypeCustomer || d.Status == domain.DueStatusPaid || d.Status == domain.DueStatusCancelled {
			continue
		}
		i, ok := index[d.OwnerID]
		if !ok {
			continue
		}
		out[i].TotalRemainingDuesAmount = out[i].TotalRemainingDuesAmount.Add(d.RemainingAmount)
	}

	for i := range out {
		out[i].NetBalance = out[i].TotalDueAmount.Sub(out[i].TotalPaidAmount)
		out[i].CollectionRate = money.Ratio(out[i].TotalPaidAmount, out[i].TotalDueAmount)
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Name != out[b].Name {
			return out[a].Name < out[b].Name
		}
		return out[a].CustomerID < out[b].CustomerID
	})
	return out
}

func SummarizeSales(sales []domain.Sale, r Range, now time.Time) SalesTotals {
	t := SalesTotals{
		Amount:         money.Zero,
		Paid:           money.Zero,
		Discount:       money.Zero,
		Profit:         money.Zero,
		Outstanding:    money.Zero,
		ProfitMargin:   money.Zero,
		CollectionRate: money.Zero,
		AverageSale:    money.Zero,
	}
	for _, s := range sales {
		if !r.Contains(s.SaleDate, now) {
			continue
		}
		if s.Status == domain.SaleStatusCancelled {
			t.CancelledCount++
			continue
		}
		t.Count++
		if s.IsFullyPaid {
			t.FullyPaidCount++
		} else {
			t.PartiallyPaidCount++
		}
		t.Amount = t.Amount.Add(s.TotalAmount)
		t.Paid = t.Paid.Add(s.PaidAmount)
		t.Discount = t.Discount.Add(s.Discount)
		t.Profit = t.Profit.Add(s.Profit)
	}
	t.Outstanding = money.NonNegative(t.Amount.Sub(t.Paid))
	t.ProfitMargin = money.Ratio(t.Profit, t.Amount)
	t.CollectionRate = money.Ratio(t.Paid, t.Amount)
	t.AverageSale = money.Round(money.Ratio(t.Amount, decimal.NewFromInt(int64(t.Count))))
	return t
}

// OwnerTypeMix groups payments by the owner type of their due. Every owner
// type is present even when it has no payments. Payments whose due is not
// in dues are skipped.
func OwnerTypeMix(payments []domain.Payment, dues []domain.Due) []MixEntry {
	dueTypes := make(map[string]string, len(dues))
	for _, d := range dues {
		dueTypes[d.ID] = d.DueType
	}

	mix := make(map[string]*MixEntry, len(domain.DueTypes))
	out := make([]MixEntry, len(domain.DueTypes))
	for i, dt := range domain.DueTypes {
		out[i] = MixEntry{Key: dt, Amount: money.Zero}
		mix[dt] = &out[i]
	}
	for _, p := range payments {
		entry, ok := mix[dueTypes[p.DueID]]
		if !ok {
			continue
		}
		entry.Count++
		entry.Amount = entry.Amount.Add(p.Amount)
	}
	return out
}

// PaymentMethodMix lists the known methods first, then any other method seen.
func PaymentMethodMix(payments []domain.Payment) []MixEntry {
	known := []string{domain.PaymentMethodCash, domain.PaymentMethodTransfer, domain.PaymentMethodCard, domain.PaymentMethodQRIS}
	index := make(map[string]int, len(known))
	out := make([]MixEntry, 0, len(known)+2)
	for _, m := range known {
		index[m] = len(out)
		out = append(out, MixEntry{Key: m, Amount: money.Zero})
	}

	extra := make([]MixEntry, 0)
	extraIndex := make(map[string]int)
	for _, p := range payments {
		method := strings.ToLower(strings.TrimSpace(p.PaymentMethod))
		if method == "" {
			method = domain.PaymentMethodCash
		}
		if i, ok := index[method]; ok {
			out[i].Count++
			out[i].Amount = out[i].Amount.Add(p.Amount)
			continue
		}
		i, ok := extraIndex[method]
		if !ok {
			i = len(extra)
			extraIndex[method] = i
			extra = append(extra, MixEntry{Key: method, Amount: money.Zero})
		}
		extra[i].Count++
		extra[i].Amount = extra[i].Amount.Add(p.Amount)
	}
	sort.Slice(extra, func(a, b int) bool { return extra[a].Key < extra[b].Key })
	return append(out, extra...)
}

// MonthlyTrend sums payments into TrendMonths ascending YYYY-MM buckets that
// end at now's month. Empty months are reported with zero amounts.
func MonthlyTrend(payments []domain.Payment, now time.Time) []TrendPoint {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(TrendMonths - 1), 0)

	out := make([]TrendPoint, TrendMonths)
	index := make(map[string]int, TrendMonths)
	for i := 0; i < TrendMonths; i++ {
		key := MonthKey(first.AddDate(0, i, 0))
		out[i] = TrendPoint{Month: key, Amount: money.Zero}
		index[key] = i
	}
	for _, p := range payments {
		i, ok := index[MonthKey(p.PaymentDate)]
		if !ok {
			continue
		}
		out[i].Count++
		out[i].Amount = out[i].Amount.Add(p.Amount)
	}
	return out
}

func MonthKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// SummarizeDues derives overdue status at now before counting, so a stored
// pending due past its date is reported as overdue.
func SummarizeDues(dues []domain.Due, now time.Time) DueTotals {
	t := DueTotals{
		Total:         money.Zero,
		Paid:          money.Zero,
		Outstanding:   money.Zero,
		OverdueAmount: money.Zero,
		ByStatus:      make(map[string]int, len(domain.DueStatuses)),
	}
	for _, s := range domain.DueStatuses {
		t.ByStatus[s] = 0
	}
	for _, d := range dues {
		d = ledger.Derive(d, now)
		t.Count++
		t.ByStatus[d.Status]++
		if d.Status == domain.DueStatusCancelled {
			continue
		}
		t.Total = t.Total.Add(d.TotalAmount)
		t.Paid = t.Paid.Add(d.PaidAmount)
		t.Outstanding = t.Outstanding.Add(d.RemainingAmount)
		if d.Status == domain.DueStatusOverdue {
			t.OverdueAmount = t.OverdueAmount.Add(d.RemainingAmount)
		}
	}
	return t
}
