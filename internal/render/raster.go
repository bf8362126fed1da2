// Package render turns document pages into raster images and assembles them
// into a PDF.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/MithilHassan/kbt-express/internal/barcode"
	"github.com/MithilHassan/kbt-express/internal/document"
)

// A4 at 96 dpi, before scaling. Pages whose content runs past PageHeight
// grow downwards up to MaxPageHeight.
const (
	PageWidth     = 794
	PageHeight    = 1123
	MaxPageHeight = 3 * PageHeight
	DefaultScale  = 2
)

// ErrPageOverflow is returned when a page needs more than MaxPageHeight.
var ErrPageOverflow = errors.New("render: page content exceeds maximum height")

// Layout metrics in unscaled pixels.
const (
	margin  = 24
	padding = 6
	gap     = 8
)

type style int

const (
	styleBody style = iota
	styleBold
	styleSmall
	styleTitle
	styleBrand
)

type faceSpec struct {
	bold bool
	size float64
}

var faceSpecs = map[style]faceSpec{
	styleBody:  {size: 10},
	styleBold:  {bold: true, size: 10},
	styleSmall: {size: 7.5},
	styleTitle: {bold: true, size: 15},
	styleBrand: {bold: true, size: 22},
}

// Rasterizer draws pages onto grayscale images. It is safe for concurrent use;
// font faces are created per page.
type Rasterizer struct {
	scale   int
	regular *opentype.Font
	bold    *opentype.Font
}

// NewRasterizer parses the embedded Go fonts. Scale multiplies the 96 dpi
// page size; values below 1 select DefaultScale.
func NewRasterizer(scale int) (*Rasterizer, error) {
	if scale < 1 {
		scale = DefaultScale
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &Rasterizer{scale: scale, regular: regular, bold: bold}, nil
}

// Scale returns the quality factor.
func (r *Rasterizer) Scale() int {
	return r.scale
}

// Bounds returns the size of a raster whose content fits on one A4 page.
func (r *Rasterizer) Bounds() image.Rectangle {
	return image.Rect(0, 0, PageWidth*r.scale, PageHeight*r.scale)
}

// Render draws one page. The context is checked between sections. The raster
// is A4 sized unless the content needs more room, in which case it is as tall
// as the content plus the footer band.
func (r *Rasterizer) Render(ctx context.Context, page document.Page, symbol barcode.Symbol) (*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := r.newCanvas()
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", page.Kind, err)
	}
	defer c.close()

	y := c.header(page.Header, symbol)
	for _, row := range page.Rows {
		if y, err = c.row(ctx, row, y, symbol); err != nil {
			return nil, err
		}
	}

	height := max(y+c.footerBand(), r.Bounds().Dy())
	if height > c.img.Bounds().Dy() {
		return nil, fmt.Errorf("render %s: %w", page.Kind, ErrPageOverflow)
	}
	c.crop(height)
	c.footer(page.Footer)
	return c.img, nil
}

type canvas struct {
	img   *image.Gray
	s     int
	faces map[style]font.Face
}

func (r *Rasterizer) newCanvas() (*canvas, error) {
	img := image.NewGray(image.Rect(0, 0, PageWidth*r.scale, MaxPageHeight*r.scale))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	c := &canvas{img: img, s: r.scale, faces: make(map[style]font.Face, len(faceSpecs))}
	for st, spec := range faceSpecs {
		f := r.regular
		if spec.bold {
			f = r.bold
		}
		face, err := opentype.NewFace(f, &opentype.FaceOptions{
			Size:    spec.size,
			DPI:     96 * float64(r.scale),
			Hinting: font.HintingFull,
		})
		if err != nil {
			c.close()
			return nil, err
		}
		c.faces[st] = face
	}
	return c, nil
}

func (c *canvas) close() {
	for _, f := range c.faces {
		_ = f.Close()
	}
}

func (c *canvas) u(v int) int { return v * c.s }

func (c *canvas) lineHeight(st style) int {
	return c.faces[st].Metrics().Height.Ceil()
}

func (c *canvas) width(st style, s string) int {
	return font.MeasureString(c.faces[st], s).Ceil()
}

// text draws s with its top edge at y, clipped to clip.
func (c *canvas) text(st style, x, y int, s string, clip image.Rectangle) {
	dst, ok := c.img.SubImage(clip).(*image.Gray)
	if !ok {
		return
	}
	face := c.faces[st]
	d := font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}

func (c *canvas) wrap(st style, s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		candidate := line + " " + w
		if c.width(st, candidate) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line = candidate
	}
	return append(lines, line)
}

// paragraph draws wrapped text inside [x, x+width) and returns the next y.
func (c *canvas) paragraph(st style, x, y, width int, s string) int {
	clip := image.Rect(x, 0, x+width, c.img.Bounds().Dy())
	lh := c.lineHeight(st)
	for _, line := range c.wrap(st, s, width) {
		c.text(st, x, y, line, clip)
		y += lh
	}
	return y
}

func (c *canvas) fill(r image.Rectangle) {
	draw.Draw(c.img, r, image.Black, image.Point{}, draw.Src)
}

func (c *canvas) hline(x0, x1, y int) {
	c.fill(image.Rect(x0, y, x1, y+c.s))
}

func (c *canvas) vline(x, y0, y1 int) {
	c.fill(image.Rect(x, y0, x+c.s, y1))
}

func (c *canvas) stroke(r image.Rectangle) {
	c.hline(r.Min.X, r.Max.X, r.Min.Y)
	c.hline(r.Min.X, r.Max.X, r.Max.Y-c.s)
	c.vline(r.Min.X, r.Min.Y, r.Max.Y)
	c.vline(r.Max.X-c.s, r.Min.Y, r.Max.Y)
}

func (c *canvas) header(h document.Header, symbol barcode.Symbol) int {
	left := c.u(margin)
	right := c.img.Bounds().Dx() - c.u(margin)
	half := (right - left) / 2
	top := c.u(margin)

	y := c.paragraph(styleBrand, left, top, half, h.Brand)
	y = c.paragraph(styleSmall, left, y, half, h.Tagline)
	y = c.paragraph(styleTitle, left, y+c.u(gap), half, h.Title)

	if symbol.Text == "" {
		symbol.Text = h.Barcode.Payload
	}
	if b := c.barcode(symbol, right, top, half); b > y {
		y = b
	}

	y += c.u(gap)
	c.hline(left, right, y)
	return y + c.u(gap)
}

// barcode draws the symbol right-aligned at right and returns its bottom edge.
func (c *canvas) barcode(symbol barcode.Symbol, right, y, maxWidth int) int {
	if symbol.Fallback || symbol.Image == nil {
		w := c.width(styleTitle, symbol.Text)
		c.text(styleTitle, right-w, y, symbol.Text, c.img.Bounds())
		return y + c.lineHeight(styleTitle)
	}
	src := symbol.Image.Bounds()
	w, h := src.Dx()*c.s, src.Dy()*c.s
	if w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
	}
	dst := image.Rect(right-w, y, right, y+h)
	xdraw.NearestNeighbor.Scale(c.img, dst, symbol.Image, src, xdraw.Src, nil)

	tw := c.width(styleBold, symbol.Text)
	c.text(styleBold, right-w+(w-tw)/2, y+h+c.u(2), symbol.Text, c.img.Bounds())
	return y + h + c.u(2) + c.lineHeight(styleBold)
}

func (c *canvas) row(ctx context.Context, row document.Row, y int, symbol barcode.Symbol) (int, error) {
	left := c.u(margin)
	content := c.img.Bounds().Dx() - 2*left

	total := 0
	for _, col := range row.Columns {
		total += max(col.Weight, 1)
	}
	if total == 0 {
		return y, nil
	}

	bottom := y
	cells := make([]image.Rectangle, 0, len(row.Columns))
	x := left
	for i, col := range row.Columns {
		w := content * max(col.Weight, 1) / total
		if i == len(row.Columns)-1 {
			w = left + content - x
		}
		cy := y + c.u(padding)
		for _, sec := range col.Sections {
			if err := ctx.Err(); err != nil {
				return y, err
			}
			cy = c.section(sec, x+c.u(padding), cy, w-2*c.u(padding), symbol) + c.u(gap)
		}
		if end := cy - c.u(gap) + c.u(padding); end > bottom {
			bottom = end
		}
		cells = append(cells, image.Rectangle{Min: image.Pt(x, y), Max: image.Pt(x+w, y)})
		x += w
	}
	for _, cell := range cells {
		cell.Max.Y = bottom
		c.stroke(cell)
	}
	return bottom + c.u(gap), nil
}

func (c *canvas) section(sec document.Section, x, y, width int, symbol barcode.Symbol) int {
	switch v := sec.(type) {
	case document.FieldGroup:
		if v.Title != "" {
			y = c.paragraph(styleSmall, x, y, width, strings.ToUpper(v.Title))
		}
		for _, f := range v.Fields {
			y = c.field(x, y, width, f)
		}
	case document.PartyBlock:
		y = c.paragraph(styleSmall, x, y, width, strings.ToUpper(v.Title))
		y = c.paragraph(styleBold, x, y, width, v.Company)
		for _, line := range v.Address {
			y = c.paragraph(styleBody, x, y, width, line)
		}
		for _, f := range v.Fields {
			if f.Value != "" {
				y = c.field(x, y, width, f)
			}
		}
	case document.Table:
		y = c.table(v, x, y, width)
	case document.TextBlock:
		if v.Title != "" {
			y = c.paragraph(styleBold, x, y, width, v.Title)
		}
		st := styleBody
		if v.Small {
			st = styleSmall
		}
		for _, line := range v.Lines {
			y = c.paragraph(st, x, y, width, line)
		}
	case document.SignatureBlock:
		if v.Caption != "" {
			y = c.paragraph(styleBold, x, y, width, v.Caption)
		}
		for _, label := range v.Lines {
			y += c.u(gap)
			c.text(styleSmall, x, y, label, c.img.Bounds())
			lw := c.width(styleSmall, label) + c.u(4)
			lh := c.lineHeight(styleSmall)
			c.hline(x+lw, x+width, y+lh-c.s)
			y += lh
		}
	case document.BarcodeSlot:
		if symbol.Text == "" {
			symbol.Text = v.Payload
		}
		y = c.barcode(symbol, x+width, y, width)
	}
	return y
}

func (c *canvas) field(x, y, width int, f document.Field) int {
	st := styleBody
	if f.Emphasis {
		st = styleBold
	}
	return c.paragraph(st, x, y, width, f.Label+": "+f.Value)
}

func (c *canvas) table(t document.Table, x, y, width int) int {
	if t.Title != "" {
		y = c.paragraph(styleBold, x, y, width, t.Title)
	}
	cols := len(t.Header)
	if cols == 0 {
		return y
	}
	cellW := width / cols
	rowH := c.lineHeight(styleSmall) + c.u(4)
	top := y

	drawRow := func(cells []string, st style) {
		for i := 0; i < cols && i < len(cells); i++ {
			cx := x + i*cellW
			clip := image.Rect(cx, y, cx+cellW, y+rowH)
			c.text(st, cx+c.u(2), y+c.u(2), cells[i], clip)
		}
		y += rowH
		c.hline(x, x+cols*cellW, y)
	}

	c.hline(x, x+cols*cellW, y)
	drawRow(t.Header, styleBold)
	for _, r := range t.Rows {
		drawRow(r, styleSmall)
	}
	for i := 0; i <= cols; i++ {
		c.vline(x+i*cellW, top, y)
	}
	if t.Footer != "" {
		y = c.paragraph(styleBold, x, y+c.u(2), width, t.Footer)
	}
	return y
}

// footerBand is the space reserved below the last row.
func (c *canvas) footerBand() int {
	return c.u(4) + c.lineHeight(styleSmall) + c.u(margin)
}

// crop trims the canvas to height rows.
func (c *canvas) crop(height int) {
	if height == c.img.Bounds().Dy() {
		return
	}
	out := image.NewGray(image.Rect(0, 0, c.img.Bounds().Dx(), height))
	draw.Draw(out, out.Bounds(), c.img, image.Point{}, draw.Src)
	c.img = out
}

func (c *canvas) footer(s string) {
	if s == "" {
		return
	}
	st := styleSmall
	w := c.width(st, s)
	y := c.img.Bounds().Dy() - c.u(margin) - c.lineHeight(st)
	c.hline(c.u(margin), c.img.Bounds().Dx()-c.u(margin), y-c.u(4))
	c.text(st, (c.img.Bounds().Dx()-w)/2, y, s, c.img.Bounds())
}
