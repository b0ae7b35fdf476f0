package converter

var rejectReasons = map[string]string{
	"INSUFFICIENT_BALANCE": "Account balance is too low",
	"INSUFFICIENT_FUNDS":   "Account balance is too low",
	"INSUFFICIENT_MARGIN":  "Not enough free margin",
	"MARKET_CLOSED":        "Market is closed",
	"INVALID_QUANTITY":     "Invalid order quantity",
	"INVALID_PRICE":        "Invalid order price",
	"UNKNOWN_SYMBOL":       "Unknown instrument",
	"DUPLICATE_ORDER":      "Duplicate order id",
	"RATE_LIMIT":           "Too many requests",
}

// RejectReason falls back to the raw code when it is not a known code.
func RejectReason(code string) string {
	if reason, ok := rejectReasons[normalize(code)]; ok {
		return reason
	}

	if code == "" {
		return "rejected by venue"
	}

	return code
}
