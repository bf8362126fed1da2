package document

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/MithilHassan/kbt-express/internal/barcode"
	"github.com/MithilHassan/kbt-express/internal/booking"
	"github.com/MithilHassan/kbt-express/internal/status"
	"github.com/MithilHassan/kbt-express/internal/weight"
)

// Bill-to parties.
const (
	BillToShipper   = "SHIPPER"
	BillToConsignee = "CONSIGNEE"
)

// Shipment terms of the commercial invoice.
const (
	TermsDAP = "DAP"
	TermsEXW = "EXW"
)

// DimensionTableKey identifies the waybill dimension table.
const DimensionTableKey = "dimensions"

// LineItemTableKey identifies the invoice goods table.
const LineItemTableKey = "line_items"

const declaration = "non-negotiable consignment note subject to standard conditions of carriage shown on reverse side. " +
	"the carriage specifically limits its liability to USD100.00 per consignment for any cause"

const invoiceDeclaration = "I/We hereby certify that the information on this invoice is true and correct " +
	"and that the contents of this shipment are as stated above."

// Company is the carrier block printed on every page.
type Company struct {
	Name    string
	Address string
	Phone   string
	Email   string
}

// Model holds both pages generated for one booking.
type Model struct {
	BookingNumber string
	TrackingID    string
	Totals        weight.Totals
	Waybill       Page
	Invoice       Page
}

// Pages returns the pages in print order: waybill, then commercial invoice.
func (m Model) Pages() []Page {
	return []Page{m.Waybill, m.Invoice}
}

// Composer turns a booking into a Model.
type Composer struct {
	company  Company
	policy   weight.Policy
	location *time.Location
}

// NewComposer constructs a Composer. A nil location prints dates in UTC.
func NewComposer(company Company, policy weight.Policy, location *time.Location) *Composer {
	if location == nil {
		location = time.UTC
	}
	return &Composer{company: company, policy: policy, location: location}
}

// Compose builds both pages from already loaded data. History is expected
// oldest first; only its tail is printed.
func (c *Composer) Compose(b booking.Booking, packages []booking.Package, history []status.Entry) Model {
	totals := weight.Aggregate(booking.Measure(packages))
	f := newFormatter()
	tracking := barcode.Sanitize(b.BookingNumber)

	return Model{
		BookingNumber: b.BookingNumber,
		TrackingID:    tracking,
		Totals:        totals,
		Waybill:       c.waybill(f, b, packages, history, totals, tracking),
		Invoice:       c.invoice(f, b, packages, totals, tracking),
	}
}

// FreightBillTo returns SHIPPER for prepaid bookings and CONSIGNEE otherwise.
func FreightBillTo(b booking.Booking) string {
	if b.IsPrepaid() {
		return BillToShipper
	}
	return BillToConsignee
}

// ShipmentTerms derives the invoice terms from the payment mode.
func ShipmentTerms(b booking.Booking) string {
	if b.IsPrepaid() {
		return TermsDAP
	}
	return TermsEXW
}

func (c *Composer) header(f *formatter, title, tracking string) Header {
	return Header{
		Brand:   f.upper(c.company.Name),
		Tagline: c.company.Address,
		Title:   title,
		Barcode: BarcodeSlot{Payload: tracking},
	}
}

func (c *Composer) footer() string {
	var parts []string
	if c.company.Email != "" {
		parts = append(parts, "Email: "+c.company.Email)
	}
	if c.company.Phone != "" {
		parts = append(parts, "Phone: "+c.company.Phone)
	}
	return strings.Join(parts, "   ")
}

func (c *Composer) waybill(f *formatter, b booking.Booking, packages []booking.Package, history []status.Entry, totals weight.Totals, tracking string) Page {
	left := Column{Weight: 2, Sections: []Section{
		TextBlock{Title: f.upper(c.company.Name), Lines: []string{c.company.Address}},
		partyBlock(f, "Shipper Name and Address", b.Shipper, false),
		partyBlock(f, "Consignee Name and Address", b.Consignee, false),
		partyBlock(f, "Delivery Name and Address", b.Consignee, false),
	}}

	description := []string{b.ItemDescription}
	if b.Remarks != nil && *b.Remarks != "" {
		description = append(description, "Remarks: "+*b.Remarks)
	}
	middle := Column{Weight: 2, Sections: []Section{
		FieldGroup{Title: "Origin / Destination", Fields: []Field{
			{Key: "origin_country", Label: "Origin", Value: b.Shipper.Country, Emphasis: true},
			{Key: "destination_country", Label: "Destination", Value: b.Consignee.Country, Emphasis: true},
		}},
		FieldGroup{Title: "Consignment Details", Fields: []Field{
			{Key: "pieces", Label: "No. of Pieces", Value: strconv.Itoa(pieces(b, totals))},
			{Key: "actual_weight", Label: "A.Weight (KG)", Value: kg(totals.BillingWeight())},
			{Key: "dimensional_weight", Label: "Vol Weight (KG)", Value: kg(totals.DimensionalWeight)},
			{Key: "chargeable_weight", Label: "Chargeable Weight (KG)", Value: kg(totals.Chargeable(c.policy)), Emphasis: true},
			{Key: "customs_value", Label: "Value for Customs (USD)", Value: f.money(b.ProductValue)},
			{Key: "freight_bill_to", Label: "Freight Bill To", Value: FreightBillTo(b), Emphasis: true},
			{Key: "duties_bill_to", Label: "Duties & Taxes Bill To", Value: BillToConsignee, Emphasis: true},
		}},
		TextBlock{Title: "Description of Goods", Lines: description},
		dimensionTable(packages, totals),
		SignatureBlock{Caption: "Received in Good Condition By Consignee.", Lines: []string{"SIGNATURE", "DATE", "TIME"}},
	}}

	right := Column{Weight: 1, Sections: []Section{
		FieldGroup{Title: "Booking Date", Fields: []Field{
			{Key: "booking_date", Label: "Date", Value: c.date(b.CreatedAt), Emphasis: true},
		}},
		FieldGroup{Title: "Service Mode", Fields: []Field{
			{Key: "service_mode", Label: "Mode", Value: "EXPRESS", Emphasis: true},
		}},
		FieldGroup{Title: "Shipment Type", Fields: []Field{
			{Key: "shipment_type", Label: "Type", Value: b.ItemType, Emphasis: true},
		}},
		TextBlock{Title: "Shipper Declaration", Lines: []string{declaration}, Small: true},
		SignatureBlock{Lines: []string{"SHIPPER'S SIGNATURE", "DATE"}},
		FieldGroup{Title: "Reference Number", Fields: []Field{
			{Key: "reference_number", Label: "Ref", Value: b.Reference(), Emphasis: true},
		}},
		c.statusGroup(b, history),
	}}

	return Page{
		Kind:   KindWaybill,
		Header: c.header(f, "WAYBILL", tracking),
		Rows:   []Row{{Columns: []Column{left, middle, right}}},
		Footer: c.footer(),
	}
}

func (c *Composer) invoice(f *formatter, b booking.Booking, packages []booking.Package, totals weight.Totals, tracking string) Page {
	qty := pieces(b, totals)
	value := b.ProductValue
	if value <= 0 {
		value = b.Amount
	}
	unit := 0.0
	if qty > 0 {
		unit = value / float64(qty)
	}

	parties := Row{Columns: []Column{
		{Weight: 1, Sections: []Section{partyBlock(f, "Shipper / Exporter", b.Shipper, true)}},
		{Weight: 1, Sections: []Section{partyBlock(f, "Consignee / Importer", b.Consignee, true)}},
	}}

	meta := Row{Columns: []Column{
		{Weight: 1, Sections: []Section{FieldGroup{Title: "Invoice Details", Fields: []Field{
			{Key: "invoice_number", Label: "Invoice No.", Value: "CI-" + b.BookingNumber, Emphasis: true},
			{Key: "invoice_date", Label: "Invoice Date", Value: c.date(b.CreatedAt)},
			{Key: "waybill_number", Label: "Waybill No.", Value: b.BookingNumber},
			{Key: "reference_number", Label: "Reference", Value: b.Reference()},
			{Key: "payment_mode", Label: "Payment Mode", Value: b.PaymentMode},
		}}}},
		{Weight: 1, Sections: []Section{FieldGroup{Title: "Consignment", Fields: []Field{
			{Key: "pieces", Label: "No. of Pieces", Value: strconv.Itoa(qty)},
			{Key: "total_weight", Label: "Total Weight (KG)", Value: kg(totals.Chargeable(c.policy))},
			{Key: "outer_dimensions", Label: "Outer Dimensions", Value: outerDimensions(packages)},
			{Key: "shipment_terms", Label: "Shipment Terms", Value: ShipmentTerms(b), Emphasis: true},
			{Key: "origin_country", Label: "Country of Origin", Value: b.Shipper.Country},
			{Key: "destination_country", Label: "Destination", Value: b.Consignee.Country},
		}}}},
	}}

	goods := Row{Columns: []Column{{Weight: 1, Sections: []Section{
		Table{
			Key:    LineItemTableKey,
			Title:  "Description of Goods",
			Header: []string{"Description", "Quantity", "Unit Value (USD)", "Total Value (USD)"},
			Rows:   [][]string{{b.ItemDescription, strconv.Itoa(qty), f.money(unit), f.money(value)}},
		},
		FieldGroup{Title: "Invoice Total", Fields: []Field{
			{Key: "total_invoice_value", Label: "Total Invoice Value (USD)", Value: f.money(value), Emphasis: true},
		}},
	}}}}

	closing := Row{Columns: []Column{
		{Weight: 2, Sections: []Section{TextBlock{Title: "Declaration", Lines: []string{invoiceDeclaration}, Small: true}}},
		{Weight: 1, Sections: []Section{SignatureBlock{Caption: "Authorised Signature", Lines: []string{"NAME", "SIGNATURE", "DATE"}}}},
	}}

	return Page{
		Kind:   KindCommercialInvoice,
		Header: c.header(f, "COMMERCIAL INVOICE", tracking),
		Rows:   []Row{parties, meta, goods, closing},
		Footer: c.footer(),
	}
}

func (c *Composer) statusGroup(b booking.Booking, history []status.Entry) FieldGroup {
	current := b.Status
	at := b.UpdatedAt
	if n := len(history); n > 0 {
		current = history[n-1].Status
		at = history[n-1].Timestamp
	}
	fields := []Field{{Key: "status", Label: "Status", Value: current.String(), Emphasis: true}}
	if !at.IsZero() {
		fields = append(fields, Field{Key: "status_at", Label: "Updated", Value: at.In(c.location).Format("02/01/2006 15:04")})
	}
	return FieldGroup{Title: "Current Status", Fields: fields}
}

func (c *Composer) date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(c.location).Format("02/01/2006")
}

func partyBlock(f *formatter, title string, p booking.Party, withZip bool) PartyBlock {
	locality := strings.Trim(strings.Join([]string{p.City, p.State}, ", "), ", ")
	if withZip && p.Zip != "" {
		locality = strings.TrimSpace(locality + " " + p.Zip)
	}
	block := PartyBlock{
		Title:   title,
		Company: f.upper(p.CompanyName),
		Address: nonEmpty(p.AddressLine, locality, p.Country),
		Fields: []Field{
			{Key: "contact_person", Label: "Contact Person", Value: p.ContactPerson},
			{Key: "phone", Label: "Phone", Value: p.Phone},
		},
	}
	if !withZip {
		block.Fields = append(block.Fields, Field{Key: "zip", Label: "Zip", Value: p.Zip})
	}
	block.Fields = append(block.Fields, Field{Key: "email", Label: "Email", Value: p.Email})
	if p.Registration != nil && p.Registration.Number != "" {
		block.Fields = append(block.Fields, Field{
			Key:   "registration",
			Label: p.Registration.Type,
			Value: p.Registration.Number,
		})
	}
	return block
}

// dimensionTable pairs packages left and right; an odd last package leaves the
// right cells blank.
func dimensionTable(packages []booking.Package, totals weight.Totals) Table {
	t := Table{
		Key:    DimensionTableKey,
		Title:  "Dimension in CM (Volume Ratio 5000)",
		Header: []string{"L", "W", "H", "Pcs", "L", "W", "H", "Pcs"},
		Footer: "VOLUMETRIC WEIGHT: " + kg(totals.DimensionalWeight),
	}
	for i := 0; i < len(packages); i += 2 {
		row := make([]string, 0, 8)
		row = append(row, dimensionCells(packages[i])...)
		if i+1 < len(packages) {
			row = append(row, dimensionCells(packages[i+1])...)
		} else {
			row = append(row, "", "", "", "")
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func dimensionCells(p booking.Package) []string {
	return []string{num(p.LengthCm), num(p.WidthCm), num(p.HeightCm), num(p.Pieces)}
}

func outerDimensions(packages []booking.Package) string {
	parts := make([]string, 0, len(packages))
	for _, p := range packages {
		parts = append(parts, num(p.LengthCm)+" x "+num(p.WidthCm)+" x "+num(p.HeightCm)+" cm ("+num(p.Pieces)+" pcs)")
	}
	return strings.Join(parts, "; ")
}

func pieces(b booking.Booking, totals weight.Totals) int {
	if b.Pieces > 0 {
		return b.Pieces
	}
	return totals.Pieces
}

func kg(v float64) string {
	return strconv.FormatFloat(weight.Round3(v), 'f', 3, 64)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// formatter is created per Compose call; printers and casers are not safe for
// concurrent use.
type formatter struct {
	printer *message.Printer
	caser   cases.Caser
}

func newFormatter() *formatter {
	return &formatter{
		printer: message.NewPrinter(language.English),
		caser:   cases.Upper(language.English),
	}
}

func (f *formatter) money(v float64) string {
	return f.printer.Sprintf("%.2f", v)
}

func (f *formatter) upper(s string) string {
	return f.caser.String(s)
}
