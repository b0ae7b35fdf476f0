package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderQuantities(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	t.Run("new order is fully open", func(t *testing.T) {
		order := NewOrder("acc-1", "BTCUSD", SideBuy, OrderTypeMarket, TimeInForceGoodTilCancelled, 5, 0)

		assert.NotEmpty(t, order.UserID)
		assert.Nil(t, order.BrokerID)
		assert.Equal(t, 5.0, order.OpenQuantity)
		assert.Equal(t, OrderStatusPending, order.Status)
		assert.NoError(t, order.CheckQuantities())
		assert.True(t, order.IsActive())
	})

	t.Run("partial then full fill averages price", func(t *testing.T) {
		// arrange
		order := NewOrder("acc-1", "BTCUSD", SideBuy, OrderTypeLimit, TimeInForceGoodTilCancelled, 10, 100)

		// act
		require.NoError(t, order.ApplyFill(4, 100, now))

		// assert
		assert.Equal(t, OrderStatusPartiallyFilled, order.Status)
		assert.Equal(t, 6.0, order.OpenQuantity)
		assert.Nil(t, order.FilledDate)

		// act
		require.NoError(t, order.ApplyFill(6, 110, now))

		// assert
		assert.Equal(t, OrderStatusFilled, order.Status)
		assert.Equal(t, 0.0, order.OpenQuantity)
		assert.Equal(t, 10.0, order.FilledQuantity)
		assert.InDelta(t, 106.0, order.AvgFillPrice, 1e-9)
		require.NotNil(t, order.FilledDate)
		assert.False(t, order.IsActive())
		assert.NoError(t, order.CheckQuantities())
	})

	t.Run("overfill raises quantity", func(t *testing.T) {
		order := NewOrder("acc-1", "ETHUSD", SideSell, OrderTypeMarket, TimeInForceFillOrKill, 2, 0)

		require.NoError(t, order.ApplyFill(3, 50, now))

		assert.Equal(t, 3.0, order.Quantity)
		assert.Equal(t, OrderStatusFilled, order.Status)
		assert.NoError(t, order.CheckQuantities())
	})

	t.Run("fill on closed order fails", func(t *testing.T) {
		order := NewOrder("acc-1", "ETHUSD", SideSell, OrderTypeMarket, TimeInForceFillOrKill, 2, 0)
		order.Reject("no price available")

		err := order.ApplyFill(1, 50, now)

		assert.ErrorIs(t, err, ErrOrderNotActive)
		assert.Equal(t, "no price available", order.RejectReason)
		assert.Equal(t, 2.0, order.CancelledQuantity)
	})

	t.Run("invalid fills are rejected", func(t *testing.T) {
		order := NewOrder("acc-1", "ETHUSD", SideSell, OrderTypeMarket, TimeInForceFillOrKill, 2, 0)

		assert.ErrorIs(t, order.ApplyFill(0, 50, now), ErrInvalidFillQuantity)
		assert.ErrorIs(t, order.ApplyFill(1, 0, now), ErrInvalidFillPrice)
	})

	t.Run("cancel remaining keeps filled part", func(t *testing.T) {
		order := NewOrder("acc-1", "ETHUSD", SideBuy, OrderTypeLimit, TimeInForceGoodForDay, 10, 20)
		require.NoError(t, order.ApplyFill(4, 20, now))

		order.CancelRemaining()

		assert.Equal(t, OrderStatusCancelled, order.Status)
		assert.Equal(t, 6.0, order.CancelledQuantity)
		assert.Equal(t, 4.0, order.FilledQuantity)
		assert.NoError(t, order.CheckQuantities())
	})

	t.Run("broken invariant is reported", func(t *testing.T) {
		order := &Order{Quantity: 1, FilledQuantity: 1, OpenQuantity: 1}

		assert.ErrorIs(t, order.CheckQuantities(), ErrQuantityInvariant)
		assert.True(t, order.ReconcileQuantity())
		assert.NoError(t, order.CheckQuantities())
	})

	t.Run("clone does not share pointers", func(t *testing.T) {
		sl := 5.0
		order := NewOrder("acc-1", "ETHUSD", SideBuy, OrderTypeLimit, TimeInForceGoodForDay, 10, 20)
		order.SetBrokerID("b-1")
		order.SLOffset = &sl

		c := order.Clone()
		*c.SLOffset = 7
		c.SetBrokerID("b-2")

		assert.Equal(t, 5.0, *order.SLOffset)
		assert.Equal(t, "b-1", order.GetBrokerID())
	})
}

func TestPositionSide(t *testing.T) {
	p := NewPosition("acc-1", "BTCUSD", 3, 100)
	assert.Equal(t, PositionSideLong, p.Side)

	p.SetQuantity(-2)
	assert.Equal(t, PositionSideShort, p.Side)

	p.SetQuantity(1e-12)
	assert.True(t, p.IsFlat())
	assert.Equal(t, PositionSideFlat, p.Side)
}

func TestAccountRecalculate(t *testing.T) {
	account := &AccountInfo{Balance: 1000}

	account.Recalculate([]Position{
		{Symbol: "A", Profit: 25, Margin: 100},
		{Symbol: "B", Profit: -5, Margin: 50},
	})

	assert.Equal(t, 20.0, account.Profit)
	assert.Equal(t, 150.0, account.Margin)
	assert.Equal(t, 1020.0, account.Equity)
	assert.Equal(t, 870.0, account.FreeMargin())

	account.Recalculate(nil)
	assert.Equal(t, account.Balance, account.Equity)
}

func TestSide(t *testing.T) {
	assert.Equal(t, 1.0, SideBuy.Sign())
	assert.Equal(t, -1.0, SideSell.Sign())
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.True(t, OrderStatusPartiallyFilled.IsTradingAllowed())
	assert.True(t, OrderStatusExpired.IsFinal())
}

func TestAdvanceFills(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("cumulative reports only move forward", func(t *testing.T) {
		order := NewOrder("acc-1", "EURUSD", SideBuy, OrderTypeLimit, TimeInForceGoodTilCancelled, 10, 1.1)

		assert.True(t, order.AdvanceFills(4, 1.1, at))
		assert.False(t, order.AdvanceFills(3, 1.0, at))

		assert.Equal(t, 4.0, order.FilledQuantity)
		assert.Equal(t, 6.0, order.OpenQuantity)
		assert.Equal(t, 1.1, order.AvgFillPrice)
		assert.Equal(t, OrderStatusPartiallyFilled, order.Status)

		assert.True(t, order.AdvanceFills(10, 1.12, at))
		assert.Equal(t, OrderStatusFilled, order.Status)
		require.NotNil(t, order.FilledDate)
		assert.Equal(t, at, *order.FilledDate)
	})

	t.Run("overfill raises the quantity", func(t *testing.T) {
		order := NewOrder("acc-1", "EURUSD", SideSell, OrderTypeMarket, TimeInForceFillOrKill, 10, 0)

		order.AdvanceFills(12, 1.3, at)

		assert.Equal(t, 12.0, order.Quantity)
		assert.Equal(t, 0.0, order.OpenQuantity)
		assert.NoError(t, order.CheckQuantities())
	})

	t.Run("raise quantity opens the extra volume", func(t *testing.T) {
		order := NewOrder("acc-1", "EURUSD", SideSell, OrderTypeLimit, TimeInForceGoodTilCancelled, 10, 1.3)

		order.RaiseQuantity(8)
		assert.Equal(t, 10.0, order.Quantity)

		order.RaiseQuantity(15)
		assert.Equal(t, 15.0, order.Quantity)
		assert.Equal(t, 15.0, order.OpenQuantity)
	})
}
