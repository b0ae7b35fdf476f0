package run

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

func money(v float64) string {
	return printer.Sprintf("%.2f", v)
}

func qty(v float64) string {
	return printer.Sprintf("%.4f", v)
}

// WriteReport renders the orders, positions and account of a replay as tables.
func WriteReport(w io.Writer, result *Result) {
	fmt.Fprintf(w, "Steps: %d, failed: %d, rejected: %d\n\n", len(result.Steps), result.Failed(), len(result.Rejections))

	fmt.Fprintln(w, "Orders:")
	orders := tablewriter.NewWriter(w)
	orders.SetHeader([]string{"Symbol", "Side", "Type", "Qty", "Filled", "Avg Price", "Status", "Reason"})
	for _, o := range result.Orders {
		orders.Append([]string{o.Symbol, string(o.Side), string(o.Type), qty(o.Quantity), qty(o.FilledQuantity), qty(o.AvgFillPrice), string(o.Status), o.RejectReason})
	}
	orders.Render()

	fmt.Fprintln(w, "\nPositions:")
	positions := tablewriter.NewWriter(w)
	positions.SetHeader([]string{"Symbol", "Side", "Qty", "Avg Price", "Current", "Margin", "Profit"})
	for _, p := range result.Positions {
		positions.Append([]string{p.Symbol, string(p.Side), qty(p.Quantity), qty(p.AvgPrice), qty(p.CurrentPrice), money(p.Margin), money(p.Profit)})
	}
	positions.Render()

	a := result.Account
	fmt.Fprintln(w, "\nAccount:")
	account := tablewriter.NewWriter(w)
	account.SetAlignment(tablewriter.ALIGN_RIGHT)
	account.SetHeader([]string{"Currency", "Balance", "Equity", "Margin", "Profit", "Realized"})
	account.Append([]string{a.Currency, money(a.Balance), money(a.Equity), money(a.Margin), money(a.Profit), money(a.RealizedProfit)})
	account.Render()
}
