package heic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Rat is a ratio of two unsigned integers in lowest terms,
// e.g. the horizontal and vertical spacing of a pasp property.
type Rat struct {
	Num uint32
	Den uint32
}

var errZeroDenominator = errors.New("denominator must be non-zero")

// NewRat returns num/den reduced by their greatest common divisor.
func NewRat(num, den uint32) (Rat, error) {
	if den == 0 {
		return Rat{}, errZeroDenominator
	}
	a, b := num, den
	for b != 0 {
		a, b = b, a%b
	}
	return Rat{Num: num / a, Den: den / a}, nil
}

// Float64 returns r as a float64.
func (r Rat) Float64() float64 {
	return float64(r.Num) / float64(r.Den)
}

// String formats r as "num/den", or just "num" for whole numbers.
func (r Rat) String() string {
	if r.Den == 1 {
		return strconv.FormatUint(uint64(r.Num), 10)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// decodeString decodes a string read from a box.
// HEIF strings are UTF-8; anything else is treated as ISO-8859-1.
func decodeString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

func printableString(s string) string {
	ss := strings.Map(func(r rune) rune {
		if unicode.IsGraphic(r) {
			return r
		}
		return -1
	}, s)

	return strings.TrimSpace(ss)
}

// clamp limits v to [lo, hi].
func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
