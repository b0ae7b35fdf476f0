package converter

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a venue decimal string. An empty string is zero.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("ParseAmount: failed to parse %q: %w", s, err)
	}

	f, _ := d.Float64()
	return f, nil
}

func FormatAmount(f float64) string {
	return decimal.NewFromFloat(f).String()
}
