package run

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/jiaming2012/broker-bridge/src/converter"
	"github.com/jiaming2012/broker-bridge/src/models"
)

const (
	ActionPrice  = "price"
	ActionPlace  = "place"
	ActionCancel = "cancel"
	ActionModify = "modify"
)

// ScriptRow is one line of an order script. Ref names a placed order so later
// cancel and modify rows can refer to it.
type ScriptRow struct {
	Ref         string  `csv:"ref"`
	Action      string  `csv:"action"`
	Symbol      string  `csv:"symbol"`
	Side        string  `csv:"side"`
	Type        string  `csv:"type"`
	TimeInForce string  `csv:"time_in_force"`
	Quantity    float64 `csv:"quantity"`
	Price       float64 `csv:"price"`
	SLOffset    string  `csv:"sl_offset"`
	TPOffset    string  `csv:"tp_offset"`
	Tag         string  `csv:"tag"`
}

func ReadScript(r io.Reader) ([]*ScriptRow, error) {
	var rows []*ScriptRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("ReadScript: failed to parse csv: %w", err)
	}

	for i, row := range rows {
		if err := row.validate(); err != nil {
			return nil, fmt.Errorf("ReadScript: line %d: %w", i+2, err)
		}
	}

	return rows, nil
}

func ReadScriptFile(path string) ([]*ScriptRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ReadScriptFile: %w", err)
	}
	defer f.Close()

	return ReadScript(f)
}

func (r *ScriptRow) validate() error {
	switch r.Action {
	case ActionPrice:
		if r.Symbol == "" || r.Price <= 0 {
			return fmt.Errorf("price rows need a symbol and a positive price")
		}
	case ActionPlace:
		if r.Ref == "" {
			return fmt.Errorf("place rows need a ref")
		}
		if _, ok := converter.ToSide(r.Side); !ok {
			return fmt.Errorf("unknown side %q", r.Side)
		}
		if converter.ToOrderType(converter.DialectSession, r.Type) == models.OrderTypeUnknown {
			return fmt.Errorf("unknown order type %q", r.Type)
		}
	case ActionCancel, ActionModify:
		if r.Ref == "" {
			return fmt.Errorf("%s rows need a ref", r.Action)
		}
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}

	return nil
}

func offset(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}

	v, err := converter.ParseAmount(s)
	if err != nil {
		return nil, err
	}

	return &v, nil
}

// Order builds the order a place row describes.
func (r *ScriptRow) Order() (*models.Order, error) {
	side, _ := converter.ToSide(r.Side)
	orderType := converter.ToOrderType(converter.DialectSession, r.Type)

	tif := converter.ToTimeInForce(converter.DialectSession, r.TimeInForce)
	if tif == models.TimeInForceUnknown {
		tif = models.TimeInForceGoodTilCancelled
		if orderType == models.OrderTypeMarket {
			tif = models.TimeInForceFillOrKill
		}
	}

	sl, err := offset(r.SLOffset)
	if err != nil {
		return nil, fmt.Errorf("ScriptRow.Order: sl_offset: %w", err)
	}

	tp, err := offset(r.TPOffset)
	if err != nil {
		return nil, fmt.Errorf("ScriptRow.Order: tp_offset: %w", err)
	}

	return &models.Order{
		Symbol:      r.Symbol,
		Side:        side,
		Type:        orderType,
		TimeInForce: tif,
		Quantity:    r.Quantity,
		Price:       r.Price,
		SLOffset:    sl,
		TPOffset:    tp,
		Tag:         r.Tag,
	}, nil
}
