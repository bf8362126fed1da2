package weight

import (
	"math"
	"strconv"
	"strings"
)

// Number is a lenient JSON number. It accepts numbers, numeric strings, empty
// strings and null; anything malformed decodes to zero.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number(Coerce(string(data)))
	return nil
}

// Float returns the value as float64.
func (n Number) Float() float64 {
	return float64(n)
}

// Coerce parses a raw scalar into a float64, returning 0 for malformed input.
func Coerce(raw string) float64 {
	s := strings.TrimSpace(raw)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if s == "" || s == "null" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
