// Package barcode encodes tracking identifiers as CODE128 symbols.
package barcode

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	bc "github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
)

// Default symbol geometry, in pixels.
const (
	DefaultBarWidth  = 2
	DefaultHeight    = 50
	DefaultQuietZone = 0
)

// ErrEmptyPayload is returned when nothing encodable remains after sanitising.
var ErrEmptyPayload = errors.New("barcode: empty payload")

// Options controls the symbol geometry.
type Options struct {
	// BarWidth is the width of the narrowest bar.
	BarWidth int
	// Height is the bar height excluding the quiet zone.
	Height int
	// QuietZone is the blank margin drawn around the bars.
	QuietZone int
}

func (o Options) withDefaults() Options {
	if o.BarWidth <= 0 {
		o.BarWidth = DefaultBarWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.QuietZone < 0 {
		o.QuietZone = DefaultQuietZone
	}
	return o
}

// Symbol is an encoded barcode or its plain text fallback.
type Symbol struct {
	// Text is the sanitised payload, or the raw input when sanitising left nothing.
	Text string
	// Image is nil when Fallback is set.
	Image *image.Gray
	// Fallback reports that the text must be printed instead of bars.
	Fallback bool
}

// Encoder builds CODE128 symbols.
type Encoder struct {
	opts Options
}

// NewEncoder constructs an Encoder. Zero options select the defaults.
func NewEncoder(opts Options) *Encoder {
	return &Encoder{opts: opts.withDefaults()}
}

// Options returns the effective geometry.
func (e *Encoder) Options() Options {
	return e.opts
}

// Sanitize drops every character outside [A-Z0-9] and upper-cases the rest.
// Lower-case letters are dropped, not folded.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// Encode sanitises text and encodes it. On error the returned Symbol is still
// usable: it is a text fallback carrying the best available payload.
func (e *Encoder) Encode(text string) (Symbol, error) {
	payload := Sanitize(text)
	if payload == "" {
		return Symbol{Text: strings.TrimSpace(text), Fallback: true}, ErrEmptyPayload
	}

	raw, err := code128.Encode(payload)
	if err != nil {
		return Symbol{Text: payload, Fallback: true}, fmt.Errorf("barcode: encode %q: %w", payload, err)
	}
	modules := raw.Bounds().Dx()
	scaled, err := bc.Scale(raw, modules*e.opts.BarWidth, e.opts.Height)
	if err != nil {
		return Symbol{Text: payload, Fallback: true}, fmt.Errorf("barcode: scale %q: %w", payload, err)
	}

	q := e.opts.QuietZone
	bounds := scaled.Bounds()
	img := image.NewGray(image.Rect(0, 0, bounds.Dx()+2*q, bounds.Dy()+2*q))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(q, q, q+bounds.Dx(), q+bounds.Dy()), scaled, bounds.Min, draw.Src)

	return Symbol{Text: payload, Image: img}, nil
}
