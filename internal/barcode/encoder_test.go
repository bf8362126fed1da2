package barcode

import (
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, sym Symbol) string {
	t.Helper()
	bmp, err := gozxing.NewBinaryBitmapFromImage(sym.Image)
	require.NoError(t, err)
	result, err := oned.NewCode128Reader().Decode(bmp, nil)
	require.NoError(t, err)
	return result.GetText()
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "EX101000123", Sanitize("EX-101 000/123"))
	assert.Equal(t, "101000001", Sanitize("101000001"))
	assert.Equal(t, "", Sanitize(" -/ "))
	assert.Equal(t, "101", Sanitize("ex101"))
	assert.Equal(t, "AB12", Sanitize("Ä-AB_12"))
}

func TestEncodeRoundTrip(t *testing.T) {
	enc := NewEncoder(Options{QuietZone: 20})

	sym, err := enc.Encode("EX101000123")
	require.NoError(t, err)
	require.False(t, sym.Fallback)
	require.NotNil(t, sym.Image)

	assert.Equal(t, "EX101000123", decode(t, sym))
}

func TestEncodeRoundTripSanitisedInput(t *testing.T) {
	enc := NewEncoder(Options{QuietZone: 20})

	sym, err := enc.Encode("EX-101-000-123")
	require.NoError(t, err)
	assert.Equal(t, "EX101000123", sym.Text)
	assert.Equal(t, "EX101000123", decode(t, sym))
}

func TestEncodeGeometry(t *testing.T) {
	enc := NewEncoder(Options{})
	assert.Equal(t, Options{BarWidth: 2, Height: 50, QuietZone: 0}, enc.Options())

	sym, err := enc.Encode("101000001")
	require.NoError(t, err)
	assert.Equal(t, 50, sym.Image.Bounds().Dy())
	assert.Zero(t, sym.Image.Bounds().Dx()%2)

	wide := NewEncoder(Options{BarWidth: 3, Height: 80, QuietZone: 10})
	wsym, err := wide.Encode("101000001")
	require.NoError(t, err)
	assert.Equal(t, 100, wsym.Image.Bounds().Dy())
	assert.Equal(t, sym.Image.Bounds().Dx()/2*3+20, wsym.Image.Bounds().Dx())
}

func TestEncodeEmptyPayloadFallsBack(t *testing.T) {
	enc := NewEncoder(Options{})

	sym, err := enc.Encode(" ### ")
	assert.ErrorIs(t, err, ErrEmptyPayload)
	assert.True(t, sym.Fallback)
	assert.Nil(t, sym.Image)
	assert.Equal(t, "###", sym.Text)
}
