package converter

import (
	"strings"

	"github.com/jiaming2012/broker-bridge/src/models"
)

var sessionOrderTypes = map[string]models.OrderType{
	"MKT":        models.OrderTypeMarket,
	"MARKET":     models.OrderTypeMarket,
	"LMT":        models.OrderTypeLimit,
	"LIMIT":      models.OrderTypeLimit,
	"STP":        models.OrderTypeStop,
	"STOP":       models.OrderTypeStop,
	"STOPMARKET": models.OrderTypeStop,
}

// Stop-limit spellings rest on the book as limits once triggered.
var restOrderTypes = map[string]models.OrderType{
	"MARKET":            models.OrderTypeMarket,
	"LIMIT":             models.OrderTypeLimit,
	"LIMIT_MAKER":       models.OrderTypeLimit,
	"STOP_LIMIT":        models.OrderTypeLimit,
	"STOP_LOSS_LIMIT":   models.OrderTypeLimit,
	"TAKE_PROFIT_LIMIT": models.OrderTypeLimit,
	"STOP":              models.OrderTypeStop,
	"STOP_LOSS":         models.OrderTypeStop,
	"TAKE_PROFIT":       models.OrderTypeStop,
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ToOrderType never fails: unrecognized values map to models.OrderTypeUnknown.
func ToOrderType(dialect Dialect, s string) models.OrderType {
	table := sessionOrderTypes
	if dialect == DialectRest {
		table = restOrderTypes
	}

	if t, ok := table[normalize(s)]; ok {
		return t
	}

	return models.OrderTypeUnknown
}

func FromOrderType(dialect Dialect, t models.OrderType) string {
	switch dialect {
	case DialectRest:
		switch t {
		case models.OrderTypeMarket:
			return "MARKET"
		case models.OrderTypeLimit:
			return "LIMIT"
		case models.OrderTypeStop:
			return "STOP_LOSS"
		}
	default:
		switch t {
		case models.OrderTypeMarket:
			return "MKT"
		case models.OrderTypeLimit:
			return "LMT"
		case models.OrderTypeStop:
			return "STP"
		}
	}

	return ""
}
