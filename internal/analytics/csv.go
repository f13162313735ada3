package analytics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var customerCSVHeader = []string{
	"customer_id",
	"name",
	"sale_count",
	"total_due_amount",
	"total_paid_amount",
	"total_remaining_dues_amount",
	"net_balance",
	"collection_rate",
	"latest_sale_date",
}

// WriteCSV writes the customer summaries of d as CSV with a header row.
func WriteCSV(w io.Writer, d Dashboard) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(customerCSVHeader); err != nil {
		return err
	}
	for _, c := range d.Customers {
		latest := ""
		if c.LatestSaleDate != nil {
			latest = c.LatestSaleDate.UTC().Format(time.RFC3339)
		}
		record := []string{
			c.CustomerID,
			c.Name,
			strconv.Itoa(c.SaleCount),
			c.TotalDueAmount.StringFixed(2),
			c.TotalPaidAmount.StringFixed(2),
			c.TotalRemainingDuesAmount.StringFixed(2),
			c.NetBalance.StringFixed(2),
			c.CollectionRate.StringFixed(4),
			latest,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
