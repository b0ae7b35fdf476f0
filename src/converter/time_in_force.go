package converter

import "github.com/jiaming2012/broker-bridge/src/models"

var sessionTimeInForce = map[string]models.TimeInForce{
	"FOK":               models.TimeInForceFillOrKill,
	"FILLORKILL":        models.TimeInForceFillOrKill,
	"IOC":               models.TimeInForceImmediateOrCancel,
	"IMMEDIATEORCANCEL": models.TimeInForceImmediateOrCancel,
	"DAY":               models.TimeInForceGoodForDay,
	"GOODFORDAY":        models.TimeInForceGoodForDay,
	"GTC":               models.TimeInForceGoodTilCancelled,
	"GOODTILLCANCEL":    models.TimeInForceGoodTilCancelled,
	"GOODTILCANCELLED":  models.TimeInForceGoodTilCancelled,
	"GOODTILLCANCELLED": models.TimeInForceGoodTilCancelled,
}

var restTimeInForce = map[string]models.TimeInForce{
	"FOK": models.TimeInForceFillOrKill,
	"IOC": models.TimeInForceImmediateOrCancel,
	"DAY": models.TimeInForceGoodForDay,
	"GTC": models.TimeInForceGoodTilCancelled,
	"GTX": models.TimeInForceGoodTilCancelled,
}

func ToTimeInForce(dialect Dialect, s string) models.TimeInForce {
	table := sessionTimeInForce
	if dialect == DialectRest {
		table = restTimeInForce
	}

	if tif, ok := table[normalize(s)]; ok {
		return tif
	}

	return models.TimeInForceUnknown
}

func FromTimeInForce(tif models.TimeInForce) string {
	switch tif {
	case models.TimeInForceFillOrKill:
		return "FOK"
	case models.TimeInForceImmediateOrCancel:
		return "IOC"
	case models.TimeInForceGoodForDay:
		return "DAY"
	case models.TimeInForceGoodTilCancelled:
		return "GTC"
	}

	return ""
}
