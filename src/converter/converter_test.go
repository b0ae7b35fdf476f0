package converter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiaming2012/broker-bridge/src/models"
)

func TestToOrderType(t *testing.T) {
	t.Run("stop limit aliases map to limit", func(t *testing.T) {
		for _, s := range []string{"STOP_LIMIT", "stop_loss_limit", " TAKE_PROFIT_LIMIT "} {
			assert.Equal(t, models.OrderTypeLimit, ToOrderType(DialectRest, s), s)
		}
	})

	t.Run("session spellings", func(t *testing.T) {
		assert.Equal(t, models.OrderTypeMarket, ToOrderType(DialectSession, "MKT"))
		assert.Equal(t, models.OrderTypeLimit, ToOrderType(DialectSession, "Limit"))
		assert.Equal(t, models.OrderTypeStop, ToOrderType(DialectSession, "StopMarket"))
	})

	t.Run("unknown string returns unknown", func(t *testing.T) {
		assert.NotPanics(t, func() {
			assert.Equal(t, models.OrderTypeUnknown, ToOrderType(DialectRest, "ICEBERG_TWAP"))
			assert.Equal(t, models.OrderTypeUnknown, ToOrderType(DialectSession, ""))
		})
	})

	t.Run("round trip of known types", func(t *testing.T) {
		for _, dialect := range []Dialect{DialectSession, DialectRest} {
			for _, typ := range []models.OrderType{models.OrderTypeMarket, models.OrderTypeLimit, models.OrderTypeStop} {
				assert.Equal(t, typ, ToOrderType(dialect, FromOrderType(dialect, typ)))
			}
		}
	})
}

func TestToTimeInForceAndStatus(t *testing.T) {
	assert.Equal(t, models.TimeInForceGoodTilCancelled, ToTimeInForce(DialectSession, "GoodTillCancel"))
	assert.Equal(t, models.TimeInForceFillOrKill, ToTimeInForce(DialectRest, "fok"))
	assert.Equal(t, models.TimeInForceUnknown, ToTimeInForce(DialectRest, "GTD"))

	assert.Equal(t, models.OrderStatusPartiallyFilled, ToOrderStatus(DialectRest, "PARTIALLY_FILLED"))
	assert.Equal(t, models.OrderStatusOpen, ToOrderStatus(DialectSession, "Working"))
	assert.Equal(t, models.OrderStatusUnknown, ToOrderStatus(DialectSession, "Parked"))

	side, ok := ToSide("SELL")
	assert.True(t, ok)
	assert.Equal(t, models.SideSell, side)

	_, ok = ToSide("hold")
	assert.False(t, ok)
}

func TestPlacedTime(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	t.Run("millis inside window", func(t *testing.T) {
		placed := now.Add(-time.Hour)
		id := "1717405200000"

		assert.True(t, placed.Equal(PlacedTime(id, now)))
	})

	t.Run("seconds inside window", func(t *testing.T) {
		id := "1717405200"

		assert.True(t, now.Add(-time.Hour).Equal(PlacedTime(id, now)))
	})

	t.Run("outside window returns now", func(t *testing.T) {
		// 2001-09-09
		assert.Equal(t, now, PlacedTime("1000000000000", now))
		assert.Equal(t, now, PlacedTime("42", now))
	})

	t.Run("non numeric returns now", func(t *testing.T) {
		assert.Equal(t, now, PlacedTime("a1b2", now))
		assert.Equal(t, now, PlacedTime("", now))
	})
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("0.00012345")
	require.NoError(t, err)
	assert.InDelta(t, 0.00012345, v, 1e-12)

	v, err = ParseAmount("")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	_, err = ParseAmount("1,5")
	assert.Error(t, err)

	assert.Equal(t, "0.1", FormatAmount(0.1))
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "Account balance is too low", RejectReason("insufficient_balance"))
	assert.Equal(t, "SOMETHING_ODD", RejectReason("SOMETHING_ODD"))
	assert.Equal(t, "rejected by venue", RejectReason(""))
}
