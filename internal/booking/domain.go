package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/MithilHassan/kbt-express/internal/status"
	"github.com/MithilHassan/kbt-express/internal/weight"
)

// Registration is an optional tax or trade registration of a party.
type Registration struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

// Party is a shipper or consignee contact block.
type Party struct {
	CompanyName   string        `json:"company_name"`
	ContactPerson string        `json:"contact_person"`
	AddressLine   string        `json:"address_line"`
	City          string        `json:"city"`
	Zip           string        `json:"zip"`
	State         string        `json:"state"`
	Country       string        `json:"country"`
	Phone         string        `json:"phone"`
	Email         string        `json:"email"`
	Registration  *Registration `json:"registration,omitempty"`
}

// Booking is a courier shipment booking.
type Booking struct {
	ID                uuid.UUID     `json:"id"`
	BookingNumber     string        `json:"booking_number"`
	Shipper           Party         `json:"shipper"`
	Consignee         Party         `json:"consignee"`
	PaymentMode       string        `json:"payment_mode"`
	Amount            float64       `json:"amount"`
	ReferenceNumber   *string       `json:"reference_number,omitempty"`
	Pieces            int           `json:"pieces"`
	ProductValue      float64       `json:"product_value"`
	BillingWeightKg   float64       `json:"billing_weight_kg"`
	BillingWeightGm   float64       `json:"billing_weight_gm"`
	GrossWeight       float64       `json:"gross_weight"`
	DimensionalWeight float64       `json:"dimensional_weight"`
	ItemType          string        `json:"item_type"`
	ItemDescription   string        `json:"item_description"`
	Remarks           *string       `json:"remarks,omitempty"`
	Status            status.Status `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Packages          []Package     `json:"packages,omitempty"`
}

// Package is one package line of a booking.
type Package struct {
	ID                int64     `json:"id"`
	BookingID         uuid.UUID `json:"booking_id"`
	Position          int       `json:"position"`
	LengthCm          float64   `json:"length_cm"`
	WidthCm           float64   `json:"width_cm"`
	HeightCm          float64   `json:"height_cm"`
	Pieces            float64   `json:"pieces"`
	BillingWeightKg   float64   `json:"billing_weight_kg"`
	BillingWeightGm   float64   `json:"billing_weight_gm"`
	DimensionalWeight float64   `json:"dimensional_weight"`
	GrossWeight       float64   `json:"gross_weight"`
	Description       *string   `json:"description,omitempty"`
}

// Measurement returns the raw measurements of the package.
func (p Package) Measurement() weight.Package {
	return weight.Package{
		LengthCm:  p.LengthCm,
		WidthCm:   p.WidthCm,
		HeightCm:  p.HeightCm,
		Pieces:    p.Pieces,
		BillingKg: p.BillingWeightKg,
		BillingGm: p.BillingWeightGm,
	}
}

// Measure recomputes the derived weights of every package.
func Measure(packages []Package) []weight.Measured {
	out := make([]weight.Measured, 0, len(packages))
	for _, p := range packages {
		out = append(out, weight.Measure(p.Measurement()))
	}
	return out
}

// IsPrepaid reports whether freight is paid by the shipper.
func (b Booking) IsPrepaid() bool {
	return isPrepaid(b.PaymentMode)
}

// Reference returns the reference number, falling back to the booking number.
func (b Booking) Reference() string {
	if b.ReferenceNumber != nil && *b.ReferenceNumber != "" {
		return *b.ReferenceNumber
	}
	return b.BookingNumber
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// PartyInput is the intake form of a Party.
type PartyInput struct {
	CompanyName        string `json:"company_name" validate:"required,max=200"`
	ContactPerson      string `json:"contact_person" validate:"required,max=120"`
	AddressLine        string `json:"address_line" validate:"required,max=300"`
	City               string `json:"city" validate:"required,max=100"`
	Zip                string `json:"zip" validate:"required,max=20"`
	State              string `json:"state" validate:"required,max=100"`
	Country            string `json:"country" validate:"required,iso3166_1_alpha2"`
	Phone              string `json:"phone" validate:"required,max=40"`
	Email              string `json:"email" validate:"required,email"`
	RegistrationType   string `json:"registration_type" validate:"max=40"`
	RegistrationNumber string `json:"registration_number" validate:"max=60"`
}

// PackageInput is the intake form of a Package. Numeric fields are tolerant.
type PackageInput struct {
	LengthCm        weight.Number `json:"length_cm"`
	WidthCm         weight.Number `json:"width_cm"`
	HeightCm        weight.Number `json:"height_cm"`
	Pieces          weight.Number `json:"pieces"`
	BillingWeightKg weight.Number `json:"billing_weight_kg"`
	BillingWeightGm weight.Number `json:"billing_weight_gm"`
	Description     string        `json:"description" validate:"max=500"`
}

// BookingRequest is the intake payload for creating or editing a booking.
type BookingRequest struct {
	Shipper         PartyInput     `json:"shipper"`
	Consignee       PartyInput     `json:"consignee"`
	PaymentMode     string         `json:"payment_mode" validate:"required,max=40"`
	Amount          weight.Number  `json:"amount"`
	ReferenceNumber string         `json:"reference_number" validate:"max=80"`
	Pieces          weight.Number  `json:"pieces"`
	ProductValue    weight.Number  `json:"product_value"`
	ItemType        string         `json:"item_type" validate:"required,max=40"`
	ItemDescription string         `json:"item_description" validate:"required,max=1000"`
	Remarks         string         `json:"remarks" validate:"max=1000"`
	Packages        []PackageInput `json:"packages" validate:"required,min=1,max=100,dive"`
}

// StatusRequest moves one booking.
type StatusRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=1000"`
}

// BulkStatusRequest moves several bookings.
type BulkStatusRequest struct {
	BookingIDs []uuid.UUID `json:"booking_ids" validate:"required,min=1,max=500"`
	Status     string      `json:"status" validate:"required"`
	Notes      string      `json:"notes" validate:"max=1000"`
}

// ListFilter narrows booking listings and exports.
type ListFilter struct {
	Search  string
	Status  *status.Status
	Page    int
	PerPage int
}

// Stats are the dashboard counters.
type Stats struct {
	Total     int `json:"total"`
	Today     int `json:"today"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
}

// Tracking is the public view of a booking.
type Tracking struct {
	BookingNumber      string         `json:"booking_number"`
	Status             status.Status  `json:"status"`
	StatusDescription  string         `json:"status_description"`
	OriginCity         string         `json:"origin_city"`
	OriginCountry      string         `json:"origin_country"`
	DestinationCity    string         `json:"destination_city"`
	DestinationCountry string         `json:"destination_country"`
	Pieces             int            `json:"pieces"`
	GrossWeight        float64        `json:"gross_weight"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	History            []status.Entry `json:"history"`
}

// CreateResult is returned by Service.Create.
type CreateResult struct {
	Booking  *Booking `json:"booking"`
	Warnings []string `json:"warnings,omitempty"`
}
