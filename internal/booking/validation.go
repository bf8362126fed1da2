package booking

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MithilHassan/kbt-express/internal/platform/httpx"
	"github.com/MithilHassan/kbt-express/internal/status"
	"github.com/MithilHassan/kbt-express/internal/weight"
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field errors. It matches httpx.ErrValidation and,
// when relevant, ErrInvalidCountry and ErrEmptyPackages.
type ValidationError struct {
	Fields []FieldError
	causes []error
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the sentinel causes to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return append([]error{httpx.ErrValidation}, e.causes...)
}

// Validator checks intake payloads with struct tags.
type Validator struct {
	v *validator.Validate
}

// NewValidator constructs a Validator reporting JSON field names.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v}
}

// Struct validates s and converts failures into a *ValidationError.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		out.Fields = append(out.Fields, FieldError{Field: field, Message: message(fe)})
		switch {
		case fe.Tag() == "iso3166_1_alpha2":
			out.causes = append(out.causes, ErrInvalidCountry)
		case fe.Field() == "packages" && (fe.Tag() == "required" || fe.Tag() == "min"):
			out.causes = append(out.causes, ErrEmptyPackages)
		}
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "iso3166_1_alpha2":
		return "must be a known ISO 3166-1 alpha-2 country code"
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must contain at most " + fe.Param() + " items"
		}
		return "must be at most " + fe.Param() + " characters"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param() + " characters"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}

// ValidateBookingRequest normalises and validates an intake payload in place.
func (v *Validator) ValidateBookingRequest(req *BookingRequest) error {
	normaliseParty(&req.Shipper)
	normaliseParty(&req.Consignee)
	req.PaymentMode = strings.TrimSpace(req.PaymentMode)
	req.ItemType = strings.TrimSpace(req.ItemType)
	req.ItemDescription = strings.TrimSpace(req.ItemDescription)
	req.ReferenceNumber = strings.TrimSpace(req.ReferenceNumber)
	req.Remarks = strings.TrimSpace(req.Remarks)
	return v.Struct(req)
}

func normaliseParty(p *PartyInput) {
	p.CompanyName = strings.TrimSpace(p.CompanyName)
	p.ContactPerson = strings.TrimSpace(p.ContactPerson)
	p.AddressLine = strings.TrimSpace(p.AddressLine)
	p.City = strings.TrimSpace(p.City)
	p.Zip = strings.TrimSpace(p.Zip)
	p.State = strings.TrimSpace(p.State)
	p.Country = strings.ToUpper(strings.TrimSpace(p.Country))
	p.Phone = strings.TrimSpace(p.Phone)
	p.Email = strings.TrimSpace(p.Email)
	p.RegistrationType = strings.TrimSpace(p.RegistrationType)
	p.RegistrationNumber = strings.TrimSpace(p.RegistrationNumber)
}

// ============================================================================
// NORMALISATION
// ============================================================================

// Build converts a validated request into a booking and its packages with
// server-side weights. Client supplied derived weights are never trusted.
func Build(req BookingRequest, policy weight.Policy) (Booking, []Package) {
	packages := make([]Package, 0, len(req.Packages))
	measured := make([]weight.Measured, 0, len(req.Packages))
	for i, in := range req.Packages {
		pieces := in.Pieces.Float()
		if pieces <= 0 || math.IsNaN(pieces) {
			pieces = 1
		}
		m := weight.Measure(weight.Package{
			LengthCm:  in.LengthCm.Float(),
			WidthCm:   in.WidthCm.Float(),
			HeightCm:  in.HeightCm.Float(),
			Pieces:    pieces,
			BillingKg: in.BillingWeightKg.Float(),
			BillingGm: in.BillingWeightGm.Float(),
		})
		measured = append(measured, m)
		pkg := Package{
			Position:          i + 1,
			LengthCm:          m.LengthCm,
			WidthCm:           m.WidthCm,
			HeightCm:          m.HeightCm,
			Pieces:            m.Pieces,
			BillingWeightKg:   m.BillingKg,
			BillingWeightGm:   m.BillingGm,
			DimensionalWeight: weight.Round3(m.DimensionalWeight),
			GrossWeight:       weight.Round3(m.GrossWeight),
		}
		if d := strings.TrimSpace(in.Description); d != "" {
			pkg.Description = &d
		}
		packages = append(packages, pkg)
	}
	totals := weight.Aggregate(measured)

	b := Booking{
		Shipper:           buildParty(req.Shipper),
		Consignee:         buildParty(req.Consignee),
		PaymentMode:       req.PaymentMode,
		Amount:            math.Max(req.Amount.Float(), 0),
		Pieces:            totals.Pieces,
		ProductValue:      math.Max(req.ProductValue.Float(), 0),
		BillingWeightKg:   weight.Round3(totals.BillingKg),
		BillingWeightGm:   weight.Round3(totals.BillingGm),
		GrossWeight:       weight.Round3(totals.Chargeable(policy)),
		DimensionalWeight: weight.Round3(totals.DimensionalWeight),
		ItemType:          req.ItemType,
		ItemDescription:   req.ItemDescription,
		Status:            status.Initial,
	}
	if p := int(math.Round(req.Pieces.Float())); p > 0 {
		b.Pieces = p
	}
	if req.ReferenceNumber != "" {
		ref := req.ReferenceNumber
		b.ReferenceNumber = &ref
	}
	if req.Remarks != "" {
		remarks := req.Remarks
		b.Remarks = &remarks
	}
	return b, packages
}

func buildParty(in PartyInput) Party {
	p := Party{
		CompanyName:   in.CompanyName,
		ContactPerson: in.ContactPerson,
		AddressLine:   in.AddressLine,
		City:          in.City,
		Zip:           in.Zip,
		State:         in.State,
		Country:       in.Country,
		Phone:         in.Phone,
		Email:         in.Email,
	}
	if in.RegistrationType != "" && !strings.EqualFold(in.RegistrationType, "none") && in.RegistrationNumber != "" {
		p.Registration = &Registration{Type: in.RegistrationType, Number: in.RegistrationNumber}
	}
	return p
}

func isPrepaid(mode string) bool {
	return strings.EqualFold(strings.TrimSpace(mode), "prepaid")
}
