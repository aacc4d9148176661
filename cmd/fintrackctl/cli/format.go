package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/message"

	"github.com/fintrack/fintrack/internal/ledger"
)

// formatMoney renders d with digit grouping at the currency's standard scale, or at the full
// ledger scale when the standard one would hide part of the value.
func formatMoney(p *message.Printer, d decimal.Decimal, code string) string {
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	if !d.Equal(d.Round(int32(scale))) {
		scale = ledger.AmountScale
	}
	fixed := d.Abs().StringFixed(int32(scale))
	whole, frac, _ := strings.Cut(fixed, ".")
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		whole = p.Sprintf("%d", n)
	}
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	if frac == "" {
		return fmt.Sprintf("%s%s %s", sign, whole, code)
	}
	return fmt.Sprintf("%s%s.%s %s", sign, whole, frac, code)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", raw)
	}
	return d, nil
}

func parseID(what, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}

func renderTable(out io.Writer, title string, data pterm.TableData) error {
	if title != "" {
		fmt.Fprintln(out, pterm.DefaultSection.Sprint(title))
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, table)
	return err
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
