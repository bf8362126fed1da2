// Package document builds the typed page model of a booking's waybill and
// commercial invoice. It performs no I/O and knows nothing about layout
// beyond the grouping of sections into rows and columns.
package document

// Kind identifies a page variant.
type Kind string

const (
	KindWaybill           Kind = "waybill"
	KindCommercialInvoice Kind = "commercial_invoice"
)

// Section is one typed node of a page.
type Section interface {
	section()
}

// Field is a labelled value. Key is stable and used for lookups.
type Field struct {
	Key      string
	Label    string
	Value    string
	Emphasis bool
}

// FieldGroup is a titled list of fields.
type FieldGroup struct {
	Title  string
	Fields []Field
}

// PartyBlock is an address block with contact fields.
type PartyBlock struct {
	Title   string
	Company string
	Address []string
	Fields  []Field
}

// Table is a grid with an optional footer line.
type Table struct {
	Key    string
	Title  string
	Header []string
	Rows   [][]string
	Footer string
}

// TextBlock is free text under a title.
type TextBlock struct {
	Title string
	Lines []string
	Small bool
}

// SignatureBlock renders a caption followed by blank signature lines.
type SignatureBlock struct {
	Caption string
	Lines   []string
}

// BarcodeSlot marks where the tracking symbol goes.
type BarcodeSlot struct {
	Payload string
}

func (FieldGroup) section()     {}
func (PartyBlock) section()     {}
func (Table) section()          {}
func (TextBlock) section()      {}
func (SignatureBlock) section() {}
func (BarcodeSlot) section()    {}

// Column stacks sections vertically. Weight is the relative width.
type Column struct {
	Weight   int
	Sections []Section
}

// Row places columns side by side.
type Row struct {
	Columns []Column
}

// Header is the top band of every page.
type Header struct {
	Brand   string
	Tagline string
	Title   string
	Barcode BarcodeSlot
}

// Page is one logical page.
type Page struct {
	Kind   Kind
	Header Header
	Rows   []Row
	Footer string
}

// Sections returns every section of the page in reading order.
func (p Page) Sections() []Section {
	var out []Section
	for _, row := range p.Rows {
		for _, col := range row.Columns {
			out = append(out, col.Sections...)
		}
	}
	return out
}

// Field finds a field by key across field groups and party blocks.
func (p Page) Field(key string) (Field, bool) {
	for _, s := range p.Sections() {
		var fields []Field
		switch v := s.(type) {
		case FieldGroup:
			fields = v.Fields
		case PartyBlock:
			fields = v.Fields
		}
		for _, f := range fields {
			if f.Key == key {
				return f, true
			}
		}
	}
	return Field{}, false
}

// Table finds a table by key.
func (p Page) Table(key string) (Table, bool) {
	for _, s := range p.Sections() {
		if t, ok := s.(Table); ok && t.Key == key {
			return t, true
		}
	}
	return Table{}, false
}
