package simulator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/models"
	"github.com/jiaming2012/broker-bridge/src/pubsub"
	"github.com/jiaming2012/broker-bridge/src/store"
)

var creds = broker.Credentials{UserID: "user-1", AccountID: "acc-1"}

func seedStore(t *testing.T, balance float64) *store.MemoryStore {
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveAccountDetails(context.Background(), models.AccountInfo{ID: "acc-1", UserID: "user-1", Balance: balance, Currency: "USD"}))
	return st
}

func newTestAdapter(t *testing.T, cfg Config, accounts store.AccountStore, positions store.PositionStore) *Adapter {
	ctx := context.Background()
	if cfg.Name == "" {
		cfg.Name = "sim"
	}
	cfg.MarkInterval = time.Hour

	a := NewAdapter(cfg, accounts, positions)
	require.NoError(t, a.Login(ctx, creds))
	require.NoError(t, a.Start(ctx))
	t.Cleanup(a.Stop)

	return a
}

func marketOrder(symbol string, side models.Side, qty float64) *models.Order {
	return &models.Order{Symbol: symbol, Side: side, Type: models.OrderTypeMarket, TimeInForce: models.TimeInForceFillOrKill, Quantity: qty}
}

func assertEquityInvariant(t *testing.T, a *Adapter) {
	account := a.Account()
	assert.InDelta(t, account.Balance+account.Profit, account.Equity, 1e-9)
}

func TestExchangePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("buy then sell", func(t *testing.T) {
		// arrange
		st := seedStore(t, 2000)
		a := newTestAdapter(t, Config{Policy: ExchangePolicy{}}, st, st)
		a.OnPrice("BTCUSD", 100)

		// act
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 10)))

		// assert
		account := a.Account()
		assert.InDelta(t, 1000.0, account.Balance, 1e-9)
		positions := a.Positions()
		require.Len(t, positions, 1)
		assert.Equal(t, 10.0, positions[0].Quantity)
		assert.Equal(t, 100.0, positions[0].AvgPrice)
		assertEquityInvariant(t, a)

		// act
		a.OnPrice("BTCUSD", 110)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideSell, 10)))

		// assert
		account = a.Account()
		assert.InDelta(t, 2100.0, account.Balance, 1e-9)
		assert.InDelta(t, 100.0, account.RealizedProfit, 1e-9)
		assert.InDelta(t, 0.0, account.Profit, 1e-9)
		assert.InDelta(t, account.Balance, account.Equity, 1e-9)
		assert.Empty(t, a.Positions())
		assertEquityInvariant(t, a)

		stored, err := st.GetPositions(ctx, "user-1", "acc-1", "sim")
		require.NoError(t, err)
		assert.Empty(t, stored)
		info, err := st.GetAccountDetails(ctx, "user-1", "acc-1")
		require.NoError(t, err)
		assert.InDelta(t, 2100.0, info.Balance, 1e-9)
	})

	t.Run("buy reweights the average price", func(t *testing.T) {
		st := seedStore(t, 5000)
		a := newTestAdapter(t, Config{Policy: ExchangePolicy{}}, st, st)

		a.OnPrice("BTCUSD", 100)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 10)))
		a.OnPrice("BTCUSD", 130)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 5)))

		positions := a.Positions()
		require.Len(t, positions, 1)
		assert.InDelta(t, 110.0, positions[0].AvgPrice, 1e-9)
		assert.Equal(t, 15.0, positions[0].Quantity)
	})

	t.Run("no naked shorts", func(t *testing.T) {
		// arrange
		st := seedStore(t, 2000)
		a := newTestAdapter(t, Config{Policy: ExchangePolicy{}}, st, st)
		var rejected []pubsub.OrderRejected
		a.Events().OnOrderRejected(func(ev pubsub.OrderRejected) { rejected = append(rejected, ev) })
		a.OnPrice("BTCUSD", 100)

		// act
		err := a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideSell, 1))

		// assert
		require.Error(t, err)
		assert.True(t, broker.IsValidation(err))
		a.Events().WaitIdle()
		require.Len(t, rejected, 1)
		assert.Equal(t, ReasonBuyBeforeSell, rejected[0].Reason)
		assert.Empty(t, a.Positions())
	})

	t.Run("selling more than held is refused", func(t *testing.T) {
		st := seedStore(t, 2000)
		a := newTestAdapter(t, Config{Policy: ExchangePolicy{}}, st, st)
		a.OnPrice("BTCUSD", 100)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 2)))

		err := a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideSell, 3))

		require.Error(t, err)
		assert.Equal(t, ReasonBuyBeforeSell, broker.RejectReason(err))
	})

	t.Run("balance too low", func(t *testing.T) {
		st := seedStore(t, 2000)
		a := newTestAdapter(t, Config{Policy: ExchangePolicy{}}, st, st)
		a.OnPrice("BTCUSD", 100)

		err := a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 21))

		require.Error(t, err)
		assert.Equal(t, ReasonBalanceTooLow, broker.RejectReason(err))
		assert.InDelta(t, 2000.0, a.Account().Balance, 1e-9)
	})

	t.Run("contract size and fx rate scale the notional", func(t *testing.T) {
		st := seedStore(t, 2000)
		a := newTestAdapter(t, Config{Policy: ExchangePolicy{}, Instruments: Instruments{"EURUSD": {ContractSize: 10, FXRate: 2}}}, st, st)
		a.OnPrice("EURUSD", 10)

		require.NoError(t, a.PlaceOrder(ctx, marketOrder("EURUSD", models.SideBuy, 5)))

		assert.InDelta(t, 1000.0, a.Account().Balance, 1e-9)
	})
}

func TestMarginPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("reversal closes then opens", func(t *testing.T) {
		// arrange
		st := seedStore(t, 10000)
		a := newTestAdapter(t, Config{}, st, st)
		a.OnPrice("BTCUSD", 50)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 5)))

		// act
		a.OnPrice("BTCUSD", 55)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideSell, 8)))

		// assert
		account := a.Account()
		assert.InDelta(t, 25.0, account.RealizedProfit, 1e-9)
		assert.InDelta(t, 10025.0, account.Balance, 1e-9)
		positions := a.Positions()
		require.Len(t, positions, 1)
		assert.Equal(t, -3.0, positions[0].Quantity)
		assert.Equal(t, models.PositionSideShort, positions[0].Side)
		assert.Equal(t, 55.0, positions[0].AvgPrice)
		assertEquityInvariant(t, a)
	})

	t.Run("partial close keeps the average", func(t *testing.T) {
		st := seedStore(t, 10000)
		a := newTestAdapter(t, Config{}, st, st)
		a.OnPrice("BTCUSD", 50)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideSell, 4)))

		a.OnPrice("BTCUSD", 40)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 1)))

		positions := a.Positions()
		require.Len(t, positions, 1)
		assert.Equal(t, -3.0, positions[0].Quantity)
		assert.Equal(t, 50.0, positions[0].AvgPrice)
		assert.InDelta(t, 10.0, a.Account().RealizedProfit, 1e-9)
		assert.InDelta(t, 30.0, positions[0].Profit, 1e-9)
		assertEquityInvariant(t, a)
	})

	t.Run("commission is deducted from balance", func(t *testing.T) {
		st := seedStore(t, 10000)
		a := newTestAdapter(t, Config{Commission: PerContractCommission{Rate: 1}}, st, st)
		a.OnPrice("BTCUSD", 50)

		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 5)))

		assert.InDelta(t, 9995.0, a.Account().Balance, 1e-9)
		assertEquityInvariant(t, a)
	})

	t.Run("insufficient free margin", func(t *testing.T) {
		st := seedStore(t, 1000)
		a := newTestAdapter(t, Config{Instruments: Instruments{"BTCUSD": {MarginRate: 0.5}}}, st, st)
		a.OnPrice("BTCUSD", 100)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 15)))

		err := a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 6))

		require.Error(t, err)
		assert.Equal(t, ReasonBalanceTooLow, broker.RejectReason(err))
	})

	t.Run("closing trades need no fresh margin", func(t *testing.T) {
		st := seedStore(t, 1000)
		a := newTestAdapter(t, Config{Instruments: Instruments{"BTCUSD": {MarginRate: 0.5}}}, st, st)
		a.OnPrice("BTCUSD", 100)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 20)))

		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideSell, 20)))

		assert.Empty(t, a.Positions())
	})

	t.Run("forced liquidation closes every position once", func(t *testing.T) {
		// arrange
		st := seedStore(t, 1000)
		a := newTestAdapter(t, Config{Instruments: Instruments{"BTCUSD": {MarginRate: 0.1}, "ETHUSD": {MarginRate: 0.1}}}, st, st)
		a.OnPrice("BTCUSD", 100)
		a.OnPrice("ETHUSD", 50)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 10)))
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("ETHUSD", models.SideBuy, 10)))
		a.OnPrice("BTCUSD", 10)
		require.Len(t, a.Positions(), 2)

		var rechecks int32
		a.Events().OnAccountStateChanged(func(pubsub.AccountStateChanged) {
			if atomic.AddInt32(&rechecks, 1) <= 3 {
				a.OnPrice("ETHUSD", 40)
			}
		})

		// act
		a.OnPrice("ETHUSD", 40)
		a.Events().WaitIdle()

		// assert
		liquidations := 0
		for _, o := range a.Orders() {
			if o.Tag == LiquidationTag {
				liquidations++
				assert.Equal(t, models.OrderStatusFilled, o.Status)
			}
		}
		assert.Equal(t, 2, liquidations)
		assert.Empty(t, a.Positions())
		assert.InDelta(t, 0.0, a.Account().Balance, 1e-9)
		assertEquityInvariant(t, a)
	})

	t.Run("exchange policy never liquidates", func(t *testing.T) {
		st := seedStore(t, 1000)
		a := newTestAdapter(t, Config{Policy: ExchangePolicy{}}, st, st)
		a.OnPrice("BTCUSD", 100)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 10)))

		a.OnPrice("BTCUSD", 1)

		assert.Len(t, a.Positions(), 1)
	})
}

func TestOrderHandling(t *testing.T) {
	ctx := context.Background()

	t.Run("market order without a price is rejected", func(t *testing.T) {
		st := seedStore(t, 1000)
		a := newTestAdapter(t, Config{}, st, st)

		err := a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 1))

		require.Error(t, err)
		assert.Equal(t, ReasonNoPrice, broker.RejectReason(err))
		orders := a.Orders()
		require.Len(t, orders, 1)
		assert.Equal(t, models.OrderStatusRejected, orders[0].Status)
	})

	t.Run("orders are refused before start", func(t *testing.T) {
		st := seedStore(t, 1000)
		a := NewAdapter(Config{Name: "sim"}, st, st)

		err := a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 1))

		assert.Equal(t, broker.ErrCannotTrade, err)
	})

	t.Run("limit order is held until triggered", func(t *testing.T) {
		// arrange
		st := seedStore(t, 10000)
		a := newTestAdapter(t, Config{}, st, st)
		a.OnPrice("BTCUSD", 100)
		order := &models.Order{Symbol: "BTCUSD", Side: models.SideBuy, Type: models.OrderTypeLimit, Quantity: 2, Price: 90}

		// act
		require.NoError(t, a.PlaceOrder(ctx, order))
		a.OnPrice("BTCUSD", 95)

		// assert
		assert.Empty(t, a.Positions())
		assert.Len(t, a.OpenOrders(), 1)

		// act
		a.OnPrice("BTCUSD", 89)

		// assert
		positions := a.Positions()
		require.Len(t, positions, 1)
		assert.Equal(t, 89.0, positions[0].AvgPrice)
		assert.Empty(t, a.OpenOrders())
	})

	t.Run("held order can be cancelled", func(t *testing.T) {
		st := seedStore(t, 10000)
		a := newTestAdapter(t, Config{}, st, st)
		order := &models.Order{Symbol: "BTCUSD", Side: models.SideSell, Type: models.OrderTypeStop, Quantity: 1, Price: 90}
		require.NoError(t, a.PlaceOrder(ctx, order))

		require.NoError(t, a.CancelOrder(ctx, order))
		a.OnPrice("BTCUSD", 80)

		assert.Empty(t, a.Positions())
		assert.Error(t, a.CancelOrder(ctx, order))
	})

	t.Run("stop loss closes a filled order", func(t *testing.T) {
		st := seedStore(t, 10000)
		a := newTestAdapter(t, Config{}, st, st)
		a.OnPrice("BTCUSD", 100)
		sl := 5.0
		order := marketOrder("BTCUSD", models.SideBuy, 2)
		order.SLOffset = &sl
		require.NoError(t, a.PlaceOrder(ctx, order))

		a.OnPrice("BTCUSD", 96)
		require.Len(t, a.Positions(), 1)
		a.OnPrice("BTCUSD", 94)

		assert.Empty(t, a.Positions())
		assert.InDelta(t, -12.0, a.Account().RealizedProfit, 1e-9)
	})

	t.Run("modify moves the stop loss", func(t *testing.T) {
		st := seedStore(t, 10000)
		a := newTestAdapter(t, Config{}, st, st)
		a.OnPrice("BTCUSD", 100)
		sl := 5.0
		order := marketOrder("BTCUSD", models.SideBuy, 2)
		order.SLOffset = &sl
		require.NoError(t, a.PlaceOrder(ctx, order))
		tighter := 1.0

		require.NoError(t, a.ModifyOrder(ctx, order, &tighter, nil, true))
		a.OnPrice("BTCUSD", 98.5)

		assert.Empty(t, a.Positions())
	})
}

type flakyPositionStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *flakyPositionStore) SavePosition(ctx context.Context, position models.Position, upsert bool) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("connection refused")
	}
	s.mu.Unlock()

	return s.MemoryStore.SavePosition(ctx, position, upsert)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("positions survive a new login", func(t *testing.T) {
		st := seedStore(t, 10000)
		a := newTestAdapter(t, Config{}, st, st)
		a.OnPrice("BTCUSD", 50)
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 5)))
		a.Stop()

		b := newTestAdapter(t, Config{}, st, st)

		positions := b.Positions()
		require.Len(t, positions, 1)
		assert.Equal(t, 5.0, positions[0].Quantity)
		assert.InDelta(t, 250.0, b.Account().Margin, 1e-9)
	})

	t.Run("failed writes are retried", func(t *testing.T) {
		// arrange
		st := seedStore(t, 10000)
		flaky := &flakyPositionStore{MemoryStore: st, failures: 1}
		a := newTestAdapter(t, Config{}, st, flaky)
		a.OnPrice("BTCUSD", 50)

		// act
		require.NoError(t, a.PlaceOrder(ctx, marketOrder("BTCUSD", models.SideBuy, 5)))

		// assert
		stored, _ := st.GetPositions(ctx, "user-1", "acc-1", "sim")
		assert.Empty(t, stored)

		// act
		a.markToMarket(ctx)

		// assert
		stored, _ = st.GetPositions(ctx, "user-1", "acc-1", "sim")
		require.Len(t, stored, 1)
		assert.Equal(t, 5.0, stored[0].Quantity)
	})

	t.Run("unknown account fails login", func(t *testing.T) {
		st := store.NewMemoryStore()
		a := NewAdapter(Config{Name: "sim"}, st, st)

		err := a.Login(ctx, creds)

		assert.True(t, broker.IsAuthentication(err))
		assert.Equal(t, broker.StateLoggedOut, a.State())
	})
}
