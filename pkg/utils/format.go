// Package utils provides small formatting and retry helpers shared across packages.
package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatPrice renders a price with at most four decimals and no trailing zeros.
// Non-finite values render as "0".
func FormatPrice(price float64) string {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return "0"
	}
	s := strconv.FormatFloat(price, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

// FormatPercent formats a percentage value.
func FormatPercent(value float64) string {
	if value >= 0 {
		return fmt.Sprintf("+%.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}

// FormatConfidence renders a 0-100 confidence score.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.1f", c)
}

// Truncate shortens s to n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
