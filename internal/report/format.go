package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	return groupThousands(fmt.Sprintf("%d", n))
}

// FormatMoney formats v as a dollar amount rounded half away from zero to
// cents, with comma separators: "$12,345.68" or "-$250.00".
func FormatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprintf("$%v", v)
	}
	s := decimal.NewFromFloat(v).Round(2).StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	return sign + "$" + groupThousands(whole) + "." + frac
}

// FormatRatio formats a ratio with the given precision. +Inf, the value a
// profit factor takes when there were no losing trades, prints as "inf".
func FormatRatio(v float64, prec int) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return decimal.NewFromFloat(v).StringFixed(int32(prec))
}

// FormatPct formats a fraction (0.25) as a percentage ("25.0%").
func FormatPct(frac float64, prec int) string {
	return decimal.NewFromFloat(frac).Shift(2).StringFixed(int32(prec)) + "%"
}

// FormatSeconds formats a duration in seconds as "123.4s".
func FormatSeconds(secs float64) string {
	return decimal.NewFromFloat(secs).StringFixed(1) + "s"
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
