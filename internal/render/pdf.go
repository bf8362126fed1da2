package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/go-pdf/fpdf"
)

// A4 in millimetres.
const (
	pageWidthMM  = 210.0
	pageHeightMM = 297.0
)

// DefaultBleedMM is the overdraw on every edge so rasters reach the trim line.
const DefaultBleedMM = 0.5

// ErrNoPages is returned when Assemble receives no rasters.
var ErrNoPages = errors.New("render: no pages to assemble")

// Assembler packs rasters into a PDF, one page each. Pages are A4 unless a
// raster is taller than A4 proportions, in which case the page is lengthened
// to fit it.
type Assembler struct {
	bleed float64
}

// NewAssembler constructs an Assembler. A negative bleed selects DefaultBleedMM.
func NewAssembler(bleedMM float64) *Assembler {
	if bleedMM < 0 {
		bleedMM = DefaultBleedMM
	}
	return &Assembler{bleed: bleedMM}
}

// Assemble writes the rasters in order. Each image is stretched to the page
// width plus bleed with its aspect ratio preserved.
func (a *Assembler) Assemble(rasters []*image.Gray) ([]byte, error) {
	if len(rasters) == 0 {
		return nil, ErrNoPages
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("kbt-express", true)

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	width := pageWidthMM + 2*a.bleed

	for i, img := range rasters {
		if img == nil {
			return nil, fmt.Errorf("assemble pdf: page %d is empty", i+1)
		}
		var buf bytes.Buffer
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		name := fmt.Sprintf("page-%d", i+1)
		pdf.RegisterImageOptionsReader(name, opts, &buf)

		b := img.Bounds()
		height := width * float64(b.Dy()) / float64(b.Dx())
		if ratio := float64(b.Dy()*PageWidth) / float64(b.Dx()*PageHeight); ratio > 1 {
			pdf.AddPageFormat("P", fpdf.SizeType{Wd: pageWidthMM, Ht: pageHeightMM * ratio})
		} else {
			pdf.AddPage()
		}
		pdf.ImageOptions(name, -a.bleed, -a.bleed, width, height, false, opts, 0, "")
		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("assemble pdf: %w", err)
		}
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return out.Bytes(), nil
}

// PageSize returns the A4 page size in millimetres.
func PageSize() (width, height float64) {
	return pageWidthMM, pageHeightMM
}
