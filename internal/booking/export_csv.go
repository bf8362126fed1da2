package booking

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/MithilHassan/kbt-express/internal/shared"
)

var csvHeader = []string{
	"Booking Number", "Booking Date", "Shipper", "Origin City", "Origin Country",
	"Consignee", "Destination City", "Destination Country", "Pieces",
	"Billing Weight (KG)", "Dimensional Weight (KG)", "Gross Weight (KG)",
	"Payment Mode", "Amount", "Status",
}

// WriteCSV serialises bookings to CSV, dates rendered in loc.
func WriteCSV(w io.Writer, bookings []Booking, loc *time.Location) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	if err := writeCSVRows(writer, bookings, loc); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func writeCSVRows(writer *csv.Writer, bookings []Booking, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	for _, b := range bookings {
		if err := writer.Write([]string{
			b.BookingNumber,
			b.CreatedAt.In(loc).Format("02/01/2006"),
			b.Shipper.CompanyName,
			b.Shipper.City,
			b.Shipper.Country,
			b.Consignee.CompanyName,
			b.Consignee.City,
			b.Consignee.Country,
			strconv.Itoa(b.Pieces),
			formatWeight(b.BillingWeightKg + b.BillingWeightGm/1000),
			formatWeight(b.DimensionalWeight),
			formatWeight(b.GrossWeight),
			b.PaymentMode,
			strconv.FormatFloat(b.Amount, 'f', 2, 64),
			b.Status.String(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func formatWeight(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// Export streams every booking matching the filter as CSV, page by page.
func (s *Service) Export(ctx context.Context, f ListFilter, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	f.Page, f.PerPage = 1, shared.MaxPerPage
	for {
		items, total, err := s.repo.List(ctx, f)
		if err != nil {
			return err
		}
		if err := writeCSVRows(writer, items, s.location); err != nil {
			return err
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return err
		}
		if len(items) == 0 || f.Page*f.PerPage >= total {
			return nil
		}
		f.Page++
	}
}
