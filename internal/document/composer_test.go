package document

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MithilHassan/kbt-express/internal/booking"
	"github.com/MithilHassan/kbt-express/internal/status"
	"github.com/MithilHassan/kbt-express/internal/weight"
)

var testCompany = Company{
	Name:    "KBT Express",
	Address: "Plot # 34, HM Plaza, Sector # 03, Uttara, Dhaka-1230, Bangladesh",
	Email:   "support@kbtexpress.net",
}

func sampleBooking(paymentMode string) (booking.Booking, []booking.Package) {
	id := uuid.New()
	b := booking.Booking{
		ID:            id,
		BookingNumber: "101000123",
		Shipper: booking.Party{
			CompanyName: "Rahman Textiles", ContactPerson: "Karim Rahman", AddressLine: "House 12, Road 5",
			City: "Dhaka", Zip: "1230", State: "Dhaka", Country: "BD", Phone: "+8801700000000", Email: "karim@example.com",
		},
		Consignee: booking.Party{
			CompanyName: "Northwind GmbH", ContactPerson: "Anna Vogel", AddressLine: "Hafenstrasse 7",
			City: "Hamburg", Zip: "20457", State: "Hamburg", Country: "DE", Phone: "+49400000000", Email: "anna@example.com",
		},
		PaymentMode:     paymentMode,
		ProductValue:    1250,
		Pieces:          2,
		ItemType:        "SPX",
		ItemDescription: "Cotton shirts",
		Status:          status.Pending,
		CreatedAt:       time.Date(2025, 3, 9, 8, 30, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2025, 3, 9, 8, 30, 0, 0, time.UTC),
	}
	pkgs := []booking.Package{{BookingID: id, Position: 1, LengthCm: 50, WidthCm: 40, HeightCm: 30, Pieces: 2, BillingWeightKg: 10}}
	return b, pkgs
}

func field(t *testing.T, p Page, key string) string {
	t.Helper()
	f, ok := p.Field(key)
	require.True(t, ok, "field %s missing", key)
	return f.Value
}

func TestComposeSamplePackage(t *testing.T) {
	b, pkgs := sampleBooking("COD")
	model := NewComposer(testCompany, weight.PolicyAdditive, nil).Compose(b, pkgs, nil)

	require.Len(t, model.Pages(), 2)
	assert.Equal(t, KindWaybill, model.Pages()[0].Kind)
	assert.Equal(t, KindCommercialInvoice, model.Pages()[1].Kind)

	dim, err := strconv.ParseFloat(field(t, model.Waybill, "dimensional_weight"), 64)
	require.NoError(t, err)
	assert.Equal(t, 24.0, dim)
	assert.Equal(t, 24.0, model.Totals.DimensionalWeight)

	assert.Equal(t, "10.000", field(t, model.Waybill, "actual_weight"))
	assert.Equal(t, "24.000", field(t, model.Waybill, "chargeable_weight"))
	assert.Equal(t, "09/03/2025", field(t, model.Waybill, "booking_date"))
	assert.Equal(t, "101000123", field(t, model.Waybill, "reference_number"))
	assert.Equal(t, "EXPRESS", field(t, model.Waybill, "service_mode"))
	assert.Equal(t, "SPX", field(t, model.Waybill, "shipment_type"))

	assert.Equal(t, "101000123", model.TrackingID)
	assert.Equal(t, model.TrackingID, model.Waybill.Header.Barcode.Payload)
	assert.Equal(t, model.TrackingID, model.Invoice.Header.Barcode.Payload)
	assert.Equal(t, "KBT EXPRESS", model.Waybill.Header.Brand)
	assert.Equal(t, "Email: support@kbtexpress.net", model.Waybill.Footer)
}

func TestFreightBillToFollowsPaymentMode(t *testing.T) {
	composer := NewComposer(testCompany, weight.PolicyAdditive, nil)
	cases := map[string]string{
		"prepaid": BillToShipper,
		"Prepaid": BillToShipper,
		"COD":     BillToConsignee,
		"Credit":  BillToConsignee,
		"":        BillToConsignee,
	}
	for mode, expected := range cases {
		b, pkgs := sampleBooking(mode)
		model := composer.Compose(b, pkgs, nil)
		assert.Equal(t, expected, field(t, model.Waybill, "freight_bill_to"), mode)
		assert.Equal(t, BillToConsignee, field(t, model.Waybill, "duties_bill_to"), mode)
	}
}

func TestShipmentTerms(t *testing.T) {
	composer := NewComposer(testCompany, weight.PolicyAdditive, nil)

	b, pkgs := sampleBooking("prepaid")
	assert.Equal(t, TermsDAP, field(t, composer.Compose(b, pkgs, nil).Invoice, "shipment_terms"))

	b, pkgs = sampleBooking("COD")
	assert.Equal(t, TermsEXW, field(t, composer.Compose(b, pkgs, nil).Invoice, "shipment_terms"))
}

func TestDimensionTablePairsPackages(t *testing.T) {
	b, _ := sampleBooking("COD")
	pkgs := []booking.Package{
		{LengthCm: 50, WidthCm: 40, HeightCm: 30, Pieces: 2},
		{LengthCm: 20, WidthCm: 20, HeightCm: 20, Pieces: 1},
		{LengthCm: 12.5, WidthCm: 10, HeightCm: 8, Pieces: 3},
	}
	model := NewComposer(testCompany, weight.PolicyAdditive, nil).Compose(b, pkgs, nil)

	table, ok := model.Waybill.Table(DimensionTableKey)
	require.True(t, ok)
	assert.Equal(t, "Dimension in CM (Volume Ratio 5000)", table.Title)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"50", "40", "30", "2", "20", "20", "20", "1"}, table.Rows[0])
	assert.Equal(t, []string{"12.5", "10", "8", "3", "", "", "", ""}, table.Rows[1])
	assert.Equal(t, "VOLUMETRIC WEIGHT: 26.200", table.Footer)
}

func TestInvoiceLineItemAndTotal(t *testing.T) {
	b, pkgs := sampleBooking("prepaid")
	model := NewComposer(testCompany, weight.PolicyAdditive, nil).Compose(b, pkgs, nil)

	table, ok := model.Invoice.Table(LineItemTableKey)
	require.True(t, ok)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"Cotton shirts", "2", "625.00", "1,250.00"}, table.Rows[0])
	assert.Equal(t, "1,250.00", field(t, model.Invoice, "total_invoice_value"))
	assert.Equal(t, "CI-101000123", field(t, model.Invoice, "invoice_number"))
	assert.Equal(t, "50 x 40 x 30 cm (2 pcs)", field(t, model.Invoice, "outer_dimensions"))
}

func TestRegistrationPrintedOnlyWhenPresent(t *testing.T) {
	composer := NewComposer(testCompany, weight.PolicyAdditive, nil)

	b, pkgs := sampleBooking("COD")
	_, ok := composer.Compose(b, pkgs, nil).Invoice.Field("registration")
	assert.False(t, ok)

	b.Shipper.Registration = &booking.Registration{Type: "BIN", Number: "000123456-0101"}
	f, ok := composer.Compose(b, pkgs, nil).Invoice.Field("registration")
	require.True(t, ok)
	assert.Equal(t, "BIN", f.Label)
	assert.Equal(t, "000123456-0101", f.Value)
}

func TestStatusFromHistoryTail(t *testing.T) {
	b, pkgs := sampleBooking("COD")
	history := []status.Entry{
		{Status: status.Pending, Timestamp: b.CreatedAt},
		{Status: status.PickupArranged, Timestamp: b.CreatedAt.Add(2 * time.Hour)},
	}
	model := NewComposer(testCompany, weight.PolicyAdditive, nil).Compose(b, pkgs, history)
	assert.Equal(t, "Pickup Arranged", field(t, model.Waybill, "status"))
	assert.Equal(t, "09/03/2025 10:30", field(t, model.Waybill, "status_at"))
}

func TestComposeIsDeterministic(t *testing.T) {
	b, pkgs := sampleBooking("COD")
	composer := NewComposer(testCompany, weight.PolicyAdditive, nil)
	assert.Equal(t, composer.Compose(b, pkgs, nil), composer.Compose(b, pkgs, nil))
}
