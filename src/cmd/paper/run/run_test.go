package run

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiaming2012/broker-bridge/src/config"
	"github.com/jiaming2012/broker-bridge/src/models"
	"github.com/jiaming2012/broker-bridge/src/store"
)

const header = "ref,action,symbol,side,type,time_in_force,quantity,price,sl_offset,tp_offset,tag\n"

func newTestSetup(t *testing.T) (*config.Config, Store) {
	cfg := config.Default()
	cfg.Simulator.MarkInterval = 0
	st := store.NewMemoryStore()
	return cfg, st
}

func TestReadScript(t *testing.T) {
	t.Run("parses place rows into orders", func(t *testing.T) {
		// arrange
		script := header + "o1,place,EURUSD,Buy,LMT,,1000,1.1,0.01,,entry\n"

		// act
		rows, err := ReadScript(strings.NewReader(script))
		require.NoError(t, err)
		order, err := rows[0].Order()

		// assert
		require.NoError(t, err)
		assert.Equal(t, models.SideBuy, order.Side)
		assert.Equal(t, models.OrderTypeLimit, order.Type)
		assert.Equal(t, models.TimeInForceGoodTilCancelled, order.TimeInForce)
		assert.Equal(t, 1000.0, order.Quantity)
		require.NotNil(t, order.SLOffset)
		assert.Equal(t, 0.01, *order.SLOffset)
		assert.Nil(t, order.TPOffset)
		assert.Equal(t, "entry", order.Tag)
	})

	t.Run("market orders default to fill or kill", func(t *testing.T) {
		// arrange
		script := header + "o1,place,EURUSD,Sell,MKT,,1000,,,,\n"

		// act
		rows, err := ReadScript(strings.NewReader(script))
		require.NoError(t, err)
		order, err := rows[0].Order()

		// assert
		require.NoError(t, err)
		assert.Equal(t, models.TimeInForceFillOrKill, order.TimeInForce)
	})

	t.Run("rejects malformed rows with their line", func(t *testing.T) {
		cases := map[string]string{
			"action": ",buy,EURUSD,,,,,,,,\n",
			"side":   "o1,place,EURUSD,Up,MKT,,1,,,,\n",
			"type":   "o1,place,EURUSD,Buy,ICEBERG,,1,,,,\n",
			"price":  ",price,EURUSD,,,,,0,,,\n",
			"ref":    ",cancel,,,,,,,,,\n",
		}

		for name, row := range cases {
			t.Run(name, func(t *testing.T) {
				// act
				_, err := ReadScript(strings.NewReader(header + row))

				// assert
				require.Error(t, err)
				assert.Contains(t, err.Error(), "line 2")
			})
		}
	})
}

func TestReplay(t *testing.T) {
	ctx := context.Background()

	t.Run("runs a script against a seeded simulator", func(t *testing.T) {
		// arrange
		cfg, st := newTestSetup(t)
		adapter, err := StartSimulator(ctx, cfg, st)
		require.NoError(t, err)
		defer adapter.Stop()

		rows, err := ReadScript(strings.NewReader(header +
			",price,BTCUSD,,,,,100,,,\n" +
			"m1,place,BTCUSD,Buy,MKT,,1,,,,\n" +
			"l1,place,BTCUSD,Buy,LMT,,1,90,,,\n" +
			"l1,cancel,,,,,,,,,\n" +
			"big,place,BTCUSD,Buy,MKT,,1000,,,,\n" +
			"nope,modify,,,,,,,5,,\n" +
			",price,BTCUSD,,,,,110,,,\n"))
		require.NoError(t, err)

		// act
		result, err := Replay(ctx, adapter, rows)

		// assert
		require.NoError(t, err)
		assert.Len(t, result.Steps, 7)
		assert.Equal(t, 2, result.Failed())
		require.Len(t, result.Rejections, 1)
		assert.Equal(t, 1000.0, result.Rejections[0].Order.Quantity)

		require.Len(t, result.Positions, 1)
		assert.Equal(t, 1.0, result.Positions[0].Quantity)
		assert.Equal(t, 100.0, result.Positions[0].AvgPrice)
		assert.InDelta(t, 10.0, result.Account.Profit, 1e-9)

		statuses := map[models.OrderStatus]int{}
		for _, o := range result.Orders {
			statuses[o.Status]++
		}
		assert.Equal(t, 1, statuses[models.OrderStatusFilled])
		assert.Equal(t, 1, statuses[models.OrderStatusCancelled])
		assert.Equal(t, 1, statuses[models.OrderStatusRejected])
	})

	t.Run("seeds the account only once", func(t *testing.T) {
		// arrange
		cfg, st := newTestSetup(t)
		first, err := StartSimulator(ctx, cfg, st)
		require.NoError(t, err)
		rows, err := ReadScript(strings.NewReader(header + ",price,BTCUSD,,,,,100,,,\nm1,place,BTCUSD,Buy,MKT,,10,,,,\n"))
		require.NoError(t, err)
		_, err = Replay(ctx, first, rows)
		require.NoError(t, err)
		first.Stop()

		// act
		second, err := StartSimulator(ctx, cfg, st)
		require.NoError(t, err)
		defer second.Stop()

		// assert
		require.Len(t, second.Positions(), 1)
		assert.Equal(t, 10.0, second.Positions()[0].Quantity)
	})

	t.Run("refuses an adapter that is not started", func(t *testing.T) {
		// arrange
		cfg, st := newTestSetup(t)
		adapter, err := StartSimulator(ctx, cfg, st)
		require.NoError(t, err)
		adapter.Stop()

		// act
		_, err = Replay(ctx, adapter, nil)

		// assert
		assert.Error(t, err)
	})
}

func TestWriteReport(t *testing.T) {
	t.Run("prints orders positions and account", func(t *testing.T) {
		// arrange
		result := &Result{
			Steps:     []Step{{Line: 2, Action: ActionPlace, Ref: "m1"}},
			Orders:    []*models.Order{{Symbol: "BTCUSD", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: 1, FilledQuantity: 1, AvgFillPrice: 100, Status: models.OrderStatusFilled}},
			Positions: []*models.Position{{Symbol: "BTCUSD", Quantity: 1, AvgPrice: 100, CurrentPrice: 110, Profit: 10}},
			Account:   models.AccountInfo{Currency: "USD", Balance: 9900, Equity: 9910, Profit: 10},
		}
		var out bytes.Buffer

		// act
		WriteReport(&out, result)

		// assert
		text := out.String()
		assert.Contains(t, text, "Steps: 1, failed: 0, rejected: 0")
		assert.Contains(t, text, "BTCUSD")
		assert.Contains(t, text, "9,910.00")
		assert.Contains(t, text, "filled")
	})

	t.Run("amounts are grouped in thousands", func(t *testing.T) {
		// arrange
		amount, quantity := 1234567.891, 2500.5

		// act
		gotAmount, gotQuantity := money(amount), qty(quantity)

		// assert
		assert.Equal(t, "1,234,567.89", gotAmount)
		assert.Equal(t, "2,500.5000", gotQuantity)
	})
}
