package converter

type Dialect string

const (
	// DialectSession covers push venues that stream account, order and execution events.
	DialectSession Dialect = "session"
	// DialectRest covers venues that are polled over REST.
	DialectRest Dialect = "rest"
)
