package analytics

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokocabang/backend/internal/domain"
)

var now = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCustomerWithoutSalesIsListedWithZeros(t *testing.T) {
	customers := []domain.Customer{{ID: "cus-a", Name: "Ani"}, {ID: "cus-b", Name: "Budi"}}
	sales := []domain.Sale{
		{ID: "s1", CustomerID: "cus-b", TotalAmount: d(500), PaidAmount: d(200), SaleDate: now.AddDate(0, 0, -3)},
	}

	got := CustomerSummaries(customers, sales, nil)
	require.Len(t, got, 2)

	ani := got[0]
	assert.Equal(t, "cus-a", ani.CustomerID)
	assert.Equal(t, 0, ani.SaleCount)
	assert.True(t, ani.NetBalance.IsZero())
	assert.True(t, ani.CollectionRate.IsZero())
	assert.Nil(t, ani.LatestSaleDate)

	budi := got[1]
	assert.True(t, budi.NetBalance.Equal(d(300)))
	assert.True(t, budi.CollectionRate.Equal(decimal.RequireFromString("0.4")))
}

func TestCustomerSummaryUsesSaleDatesAndSkipsCancelled(t *testing.T) {
	customers := []domain.Customer{{ID: "cus-a", Name: "Ani"}}
	latest := now.AddDate(0, 0, -1)
	sales := []domain.Sale{
		{ID: "s1", CustomerID: "cus-a", TotalAmount: d(100), PaidAmount: d(100), SaleDate: now.AddDate(0, -2, 0)},
		{ID: "s2", CustomerID: "cus-a", TotalAmount: d(80), PaidAmount: d(30), SaleDate: latest},
		{ID: "s3", CustomerID: "cus-a", TotalAmount: d(999), Status: domain.SaleStatusCancelled, SaleDate: now},
	}
	dues := []domain.Due{
		{ID: "d1", DueType: domain.DueTypeCustomer, OwnerID: "cus-a", RemainingAmount: d(50), Status: domain.DueStatusPartial},
		{ID: "d2", DueType: domain.DueTypeCustomer, OwnerID: "cus-a", RemainingAmount: d(0), Status: domain.DueStatusPaid},
		{ID: "d3", DueType: domain.DueTypeCustomer, OwnerID: "cus-a", RemainingAmount: d(70), Status: domain.DueStatusCancelled},
		{ID: "d4", DueType: domain.DueTypeSupplier, OwnerID: "cus-a", RemainingAmount: d(40), Status: domain.DueStatusPending},
	}

	got := CustomerSummaries(customers, sales, dues)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].SaleCount)
	assert.True(t, got[0].TotalDueAmount.Equal(d(180)))
	assert.True(t, got[0].TotalRemainingDuesAmount.Equal(d(50)))
	require.NotNil(t, got[0].LatestSaleDate)
	assert.True(t, got[0].LatestSaleDate.Equal(latest))
}

func TestSummarizeSalesFiltersByRange(t *testing.T) {
	sales := []domain.Sale{
		{ID: "old", TotalAmount: d(1000), PaidAmount: d(1000), Profit: d(100), IsFullyPaid: true, SaleDate: now.AddDate(0, -3, 0)},
		{ID: "s1", TotalAmount: d(200), PaidAmount: d(200), Profit: d(50), Discount: d(10), IsFullyPaid: true, SaleDate: now.AddDate(0, 0, -2)},
		{ID: "s2", TotalAmount: d(300), PaidAmount: d(100), Profit: d(50), SaleDate: now.AddDate(0, 0, -20)},
		{ID: "s3", TotalAmount: d(50), Status: domain.SaleStatusCancelled, SaleDate: now},
	}

	got := SummarizeSales(sales, RangeLast30, now)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, 1, got.FullyPaidCount)
	assert.Equal(t, 1, got.PartiallyPaidCount)
	assert.Equal(t, 1, got.CancelledCount)
	assert.True(t, got.Amount.Equal(d(500)))
	assert.True(t, got.Outstanding.Equal(d(200)))
	assert.True(t, got.ProfitMargin.Equal(decimal.RequireFromString("0.2")))
	assert.True(t, got.AverageSale.Equal(d(250)))

	thisMonth := SummarizeSales(sales, RangeThisMonth, now)
	assert.Equal(t, 1, thisMonth.Count)
}

func TestSummarizeSalesEmptyHasNoDivisionErrors(t *testing.T) {
	got := SummarizeSales(nil, RangeAll, now)
	assert.Equal(t, 0, got.Count)
	assert.True(t, got.ProfitMargin.IsZero())
	assert.True(t, got.CollectionRate.IsZero())
	assert.True(t, got.AverageSale.IsZero())
}

func TestMonthlyTrendKeepsEmptyBuckets(t *testing.T) {
	payments := []domain.Payment{
		{ID: "p1", Amount: d(100), PaymentDate: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)},
		{ID: "p2", Amount: d(40), PaymentDate: time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)},
		{ID: "p3", Amount: d(70), PaymentDate: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)},
	}

	got := MonthlyTrend(payments, now)
	require.Len(t, got, TrendMonths)

	keys := make([]string, 0, len(got))
	for _, p := range got {
		keys = append(keys, p.Month)
	}
	assert.Equal(t, []string{"2026-01", "2026-02", "2026-03", "2026-04", "2026-05", "2026-06"}, keys)
	assert.True(t, got[1].Amount.IsZero())
	assert.Equal(t, 0, got[1].Count)
	assert.True(t, got[2].Amount.Equal(d(40)))
	assert.True(t, got[5].Amount.Equal(d(100)))
}

func TestOwnerTypeMixAlwaysHasEveryType(t *testing.T) {
	dues := []domain.Due{{ID: "d1", DueType: domain.DueTypeSupplier}}
	payments := []domain.Payment{
		{ID: "p1", DueID: "d1", Amount: d(10)},
		{ID: "p2", DueID: "d1", Amount: d(15)},
		{ID: "p3", DueID: "missing", Amount: d(99)},
	}

	got := OwnerTypeMix(payments, dues)
	require.Len(t, got, 3)
	assert.Equal(t, domain.DueTypeCustomer, got[0].Key)
	assert.Equal(t, 0, got[0].Count)
	assert.Equal(t, domain.DueTypeSupplier, got[1].Key)
	assert.Equal(t, 2, got[1].Count)
	assert.True(t, got[1].Amount.Equal(d(25)))
}

func TestPaymentMethodMixAppendsUnknownMethods(t *testing.T) {
	payments := []domain.Payment{
		{Amount: d(10), PaymentMethod: "Transfer"},
		{Amount: d(5), PaymentMethod: ""},
		{Amount: d(7), PaymentMethod: "voucher"},
	}

	got := PaymentMethodMix(payments)
	require.Len(t, got, 5)
	assert.Equal(t, domain.PaymentMethodCash, got[0].Key)
	assert.Equal(t, 1, got[0].Count)
	assert.Equal(t, 1, got[1].Count)
	assert.Equal(t, "voucher", got[4].Key)
}

func TestSummarizeDuesDerivesOverdue(t *testing.T) {
	dues := []domain.Due{
		{ID: "d1", TotalAmount: d(100), PaidAmount: d(20), Status: domain.DueStatusPartial, DueDate: now.AddDate(0, 0, -1)},
		{ID: "d2", TotalAmount: d(50), PaidAmount: d(50), Status: domain.DueStatusPaid, DueDate: now.AddDate(0, 0, -1)},
		{ID: "d3", TotalAmount: d(70), Status: domain.DueStatusCancelled, DueDate: now.AddDate(0, 0, 5)},
		{ID: "d4", TotalAmount: d(30), Status: domain.DueStatusPending, DueDate: now.AddDate(0, 0, 5)},
	}

	got := SummarizeDues(dues, now)
	assert.Equal(t, 4, got.Count)
	assert.Equal(t, 1, got.ByStatus[domain.DueStatusOverdue])
	assert.Equal(t, 0, got.ByStatus[domain.DueStatusPartial])
	assert.Equal(t, 1, got.ByStatus[domain.DueStatusCancelled])
	assert.True(t, got.Outstanding.Equal(d(110)))
	assert.True(t, got.OverdueAmount.Equal(d(80)))
}

func TestBuildAppliesRangeToPaymentMixesOnly(t *testing.T) {
	dues := []domain.Due{{ID: "d1", DueType: domain.DueTypeCustomer, TotalAmount: d(100), DueDate: now.AddDate(0, 1, 0)}}
	payments := []domain.Payment{
		{ID: "p1", DueID: "d1", Amount: d(10), PaymentDate: now.AddDate(0, 0, -1)},
		{ID: "p2", DueID: "d1", Amount: d(20), PaymentDate: now.AddDate(0, -2, 0)},
	}

	got := Build(Input{Dues: dues, Payments: payments, Range: RangeThisMonth, Now: now})
	assert.Equal(t, 1, got.OwnerTypeMix[0].Count)
	assert.True(t, got.MonthlyTrend[3].Amount.Equal(d(20)))
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("")
	require.NoError(t, err)
	assert.Equal(t, RangeAll, r)

	_, err = ParseRange("lastYear")
	assert.ErrorIs(t, err, domain.ErrInvalidTransaction)
}

func TestWriteCSV(t *testing.T) {
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	dash := Dashboard{Customers: []CustomerSummary{
		{CustomerID: "cus-a", Name: "Ani, S.", SaleCount: 1, TotalDueAmount: d(100), TotalPaidAmount: d(40),
			TotalRemainingDuesAmount: d(60), NetBalance: d(60), CollectionRate: decimal.RequireFromString("0.4"), LatestSaleDate: &at},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, dash))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, customerCSVHeader, records[0])
	assert.Equal(t, []string{"cus-a", "Ani, S.", "1", "100.00", "40.00", "60.00", "60.00", "0.4000", "2026-06-01T08:00:00Z"}, records[1])
}
