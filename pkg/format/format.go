// Package format renders numbers the way the estimate is shown to customers:
// a period between thousands and a comma before the decimals.
package format

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency formats v with exactly two decimals, rounding half away from zero.
//
//	Currency(1234567.891) == "1.234.567,89"
func Currency(v float64) string {
	if !finite(v) {
		return nonFinite(v)
	}
	return localize(decimal.NewFromFloat(v).StringFixed(2))
}

// Number formats v with at most three decimals and no trailing zeros.
func Number(v float64) string {
	if !finite(v) {
		return nonFinite(v)
	}
	return localize(decimal.NewFromFloat(v).Round(3).String())
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// nonFinite renders NaN and the infinities, which decimal cannot represent.
func nonFinite(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "∞"
	case math.IsInf(v, -1):
		return "-∞"
	}
	return "NaN"
}

// Count formats an integer with thousands grouping.
func Count(n int64) string {
	return localize(strconv.FormatInt(n, 10))
}

// localize takes a plain decimal string such as "-1234.5" and swaps in the
// grouping and decimal separators.
func localize(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte(',')
		b.WriteString(fracPart)
	}
	return b.String()
}
