package run

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/models"
	"github.com/jiaming2012/broker-bridge/src/pubsub"
)

type Step struct {
	Line   int
	Action string
	Ref    string
	Err    error
}

type Result struct {
	Steps      []Step
	Rejections []pubsub.OrderRejected
	Orders     []*models.Order
	Positions  []*models.Position
	Account    models.AccountInfo
}

func (r *Result) Failed() int {
	count := 0
	for _, s := range r.Steps {
		if s.Err != nil {
			count++
		}
	}

	return count
}

// Replay feeds rows to a started adapter in order. A failing row is recorded
// and the replay moves on.
func Replay(ctx context.Context, adapter broker.Adapter, rows []*ScriptRow) (*Result, error) {
	if adapter.State() != broker.StateStarted {
		return nil, fmt.Errorf("Replay: %s is %s: %w", adapter.Name(), adapter.State(), broker.ErrCannotTrade)
	}

	result := &Result{}
	bus := adapter.Events()

	unsubscribe := bus.OnOrderRejected(func(ev pubsub.OrderRejected) {
		result.Rejections = append(result.Rejections, ev)
	})
	defer unsubscribe()

	refs := make(map[string]*models.Order)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("Replay: %w", err)
		}

		err := apply(ctx, adapter, refs, row)
		if err != nil {
			log.Warnf("line %d: %s %s: %v", i+2, row.Action, row.Ref, err)
		}

		result.Steps = append(result.Steps, Step{Line: i + 2, Action: row.Action, Ref: row.Ref, Err: err})

		bus.WaitIdle()
	}

	result.Orders = adapter.Orders()
	result.Positions = adapter.Positions()
	result.Account = adapter.Account()

	return result, nil
}

var errUnknownRef = errors.New("unknown order ref")

func apply(ctx context.Context, adapter broker.Adapter, refs map[string]*models.Order, row *ScriptRow) error {
	switch row.Action {
	case ActionPrice:
		adapter.OnPrice(row.Symbol, row.Price)
		return nil
	case ActionPlace:
		order, err := row.Order()
		if err != nil {
			return err
		}

		refs[row.Ref] = order
		return adapter.PlaceOrder(ctx, order)
	case ActionCancel:
		order, ok := refs[row.Ref]
		if !ok {
			return fmt.Errorf("%w: %s", errUnknownRef, row.Ref)
		}

		return adapter.CancelOrder(ctx, order)
	case ActionModify:
		order, ok := refs[row.Ref]
		if !ok {
			return fmt.Errorf("%w: %s", errUnknownRef, row.Ref)
		}

		sl, err := offset(row.SLOffset)
		if err != nil {
			return err
		}

		tp, err := offset(row.TPOffset)
		if err != nil {
			return err
		}

		return adapter.ModifyOrder(ctx, order, sl, tp, true)
	}

	return fmt.Errorf("unknown action %q", row.Action)
}
