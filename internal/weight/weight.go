// Package weight computes dimensional and billing weights for shipment packages.
//
// Every function is a pure transform of its numeric input. Negative, NaN and
// infinite values are treated as zero so that tolerant intake data never
// produces an error here.
package weight

import (
	"fmt"
	"math"
)

// VolumeRatio is the divisor applied to cubic centimetres to obtain kilograms.
const VolumeRatio = 5000.0

// Policy selects how a shipment-level chargeable weight is derived.
type Policy string

const (
	// PolicyAdditive sums the per-package gross weights.
	PolicyAdditive Policy = "additive"
	// PolicyLegacyMax compares the shipment billing weight against the shipment
	// dimensional weight as a single dimension set.
	PolicyLegacyMax Policy = "legacy-max"
)

// ParsePolicy validates a policy name. Empty input selects PolicyAdditive.
func ParsePolicy(v string) (Policy, error) {
	switch Policy(v) {
	case "", PolicyAdditive:
		return PolicyAdditive, nil
	case PolicyLegacyMax:
		return PolicyLegacyMax, nil
	default:
		return "", fmt.Errorf("weight: unknown policy %q", v)
	}
}

// Package carries the raw measurements of one package line.
type Package struct {
	LengthCm  float64
	WidthCm   float64
	HeightCm  float64
	Pieces    float64
	BillingKg float64
	BillingGm float64
}

// Measured is a package with its derived weights.
type Measured struct {
	Package
	DimensionalWeight float64
	GrossWeight       float64
}

// Totals aggregates the measured packages of one booking.
type Totals struct {
	BillingKg         float64
	BillingGm         float64
	GrossWeight       float64
	DimensionalWeight float64
	Pieces            int
}

// DimensionalWeight returns length*width*height*pieces/5000, or 0 when any
// spatial dimension is not positive.
func DimensionalWeight(lengthCm, widthCm, heightCm, pieces float64) float64 {
	l, w, h, p := clean(lengthCm), clean(widthCm), clean(heightCm), clean(pieces)
	if l <= 0 || w <= 0 || h <= 0 {
		return 0
	}
	return l * w * h * p / VolumeRatio
}

// GrossWeight returns the larger of the billing weight (kg plus grams) and the
// dimensional weight.
func GrossWeight(billingKg, billingGm, dimensionalKg float64) float64 {
	return math.Max(BillingWeight(billingKg, billingGm), clean(dimensionalKg))
}

// BillingWeight folds the gram component into kilograms.
func BillingWeight(billingKg, billingGm float64) float64 {
	return clean(billingKg) + clean(billingGm)/1000
}

// Measure computes both derived weights of a package.
func Measure(p Package) Measured {
	dim := DimensionalWeight(p.LengthCm, p.WidthCm, p.HeightCm, p.Pieces)
	return Measured{
		Package:           p,
		DimensionalWeight: dim,
		GrossWeight:       GrossWeight(p.BillingKg, p.BillingGm, dim),
	}
}

// Aggregate sums every field across the packages. The gross weight of the
// shipment is the sum of each package's own gross weight.
func Aggregate(packages []Measured) Totals {
	var t Totals
	for _, p := range packages {
		t.BillingKg += clean(p.BillingKg)
		t.BillingGm += clean(p.BillingGm)
		t.GrossWeight += clean(p.GrossWeight)
		t.DimensionalWeight += clean(p.DimensionalWeight)
		t.Pieces += int(math.Round(clean(p.Pieces)))
	}
	return t
}

// BillingWeight returns the aggregated billing weight in kilograms.
func (t Totals) BillingWeight() float64 {
	return BillingWeight(t.BillingKg, t.BillingGm)
}

// Chargeable returns the shipment weight under the given policy.
func (t Totals) Chargeable(policy Policy) float64 {
	if policy == PolicyLegacyMax {
		return LegacyShipmentGross(t)
	}
	return t.GrossWeight
}

// LegacyShipmentGross treats the whole shipment as a single dimension set and
// returns max(billing, dimensional).
func LegacyShipmentGross(t Totals) float64 {
	return math.Max(t.BillingWeight(), clean(t.DimensionalWeight))
}

// Round3 rounds to gram precision.
func Round3(v float64) float64 {
	return math.Round(clean(v)*1000) / 1000
}

func clean(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
