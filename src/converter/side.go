package converter

import "github.com/jiaming2012/broker-bridge/src/models"

// ToSide reports false for anything that is not a buy or a sell.
func ToSide(s string) (models.Side, bool) {
	switch normalize(s) {
	case "BUY", "B", "BID", "LONG":
		return models.SideBuy, true
	case "SELL", "S", "ASK", "SHORT":
		return models.SideSell, true
	}

	return "", false
}

func FromSide(dialect Dialect, side models.Side) string {
	if dialect == DialectRest {
		return normalize(string(side))
	}

	if side == models.SideBuy {
		return "Buy"
	}

	return "Sell"
}
