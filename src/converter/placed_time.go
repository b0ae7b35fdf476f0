package converter

import (
	"strconv"
	"strings"
	"time"
)

// PlacedTime derives a placement timestamp from a venue order id that encodes
// unix millis or seconds. Ids that decode outside one year of now yield now.
func PlacedTime(id string, now time.Time) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return now
	}

	from := now.AddDate(-1, 0, 0)
	to := now.AddDate(1, 0, 0)
	inWindow := func(t time.Time) bool {
		return !t.Before(from) && !t.After(to)
	}

	if t := time.UnixMilli(n); inWindow(t) {
		return t
	}

	if t := time.Unix(n, 0); inWindow(t) {
		return t
	}

	return now
}
