package models

type TimeInForce string

const (
	TimeInForceFillOrKill        TimeInForce = "fok"
	TimeInForceImmediateOrCancel TimeInForce = "ioc"
	TimeInForceGoodForDay        TimeInForce = "day"
	TimeInForceGoodTilCancelled  TimeInForce = "gtc"
	TimeInForceUnknown           TimeInForce = "unknown"
)
