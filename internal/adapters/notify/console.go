package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out io.Writer
	now func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now}
}

// NotifyStatus imprime la vista de fondos, posiciones y procesos.
func (c *Console) NotifyStatus(_ context.Context, view *domain.ReconciledFundsView, snap *domain.BrokerSnapshot, units []domain.ProcessHandle) error {
	fmt.Fprintf(c.out, "\n========================================================\n")
	fmt.Fprintf(c.out, "  FUNDS  (%s)\n", c.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "========================================================\n")

	if view == nil || snap == nil {
		fmt.Fprintln(c.out, "\n  No broker snapshot yet. Is the stream unit running?")
	} else {
		c.printFunds(view)
		c.printPositions(snap)
	}
	c.printUnits(units)
	fmt.Fprintln(c.out)
	return nil
}

func (c *Console) printFunds(view *domain.ReconciledFundsView) {
	age := c.now().Sub(view.AsOf).Truncate(time.Second)
	fmt.Fprintf(c.out, "\n  Effective:   %s  (source: %s)\n", usd(view.Effective), view.EffectiveSource)
	fmt.Fprintf(c.out, "  As of:       %s (%v ago)\n", view.AsOf.Local().Format("15:04:05"), age)
	if view.Stale {
		fmt.Fprintf(c.out, "  WARNING: snapshot is stale, figures may be behind the venue\n")
	}

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Component", "Value")
	tbl.Append("explicit", optUSD(view.Explicit))
	tbl.Append("derived_cash", optUSD(view.DerivedCash))
	tbl.Append("settled_cash", optUSD(view.SettledCash))
	tbl.Append("unsettled_cash", usd(view.UnsettledCash))
	tbl.Append("order_reserve", usd(view.OrderReserve))
	tbl.Append("open_orders", fmt.Sprintf("%d", view.OpenOrdersCount))
	tbl.Append("same_day_net", usd(view.SameDayNet))
	tbl.Render()
}

func (c *Console) printPositions(snap *domain.BrokerSnapshot) {
	fmt.Fprintf(c.out, "\n── POSITIONS (%d) ──\n", len(snap.Positions))
	if len(snap.Positions) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Symbol", "Shares", "Avg", "Price", "Value", "G/L", "G/L %")
	for _, p := range snap.Positions {
		tbl.Append(
			p.Symbol,
			fmt.Sprintf("%.4g", p.Shares),
			usd(p.AveragePrice),
			usd(p.CurrentPrice),
			usd(p.MarketValue),
			usd(p.GainLoss()),
			fmt.Sprintf("%+.2f%%", p.GainLossPct()),
		)
	}
	tbl.Render()
}

func (c *Console) printUnits(units []domain.ProcessHandle) {
	fmt.Fprintf(c.out, "\n── UNITS (%d) ──\n", len(units))
	if len(units) == 0 {
		fmt.Fprintln(c.out, "  (no supervisor has run yet)")
		return
	}
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Unit", "PID", "Status", "Started", "Exit", "Log")
	for _, u := range units {
		exit := "-"
		if u.ExitedAt != nil {
			exit = fmt.Sprintf("%d @ %s", u.ExitCode, u.ExitedAt.Local().Format("15:04:05"))
		}
		tbl.Append(
			u.Name,
			fmt.Sprintf("%d", u.PID),
			string(u.Status),
			u.StartedAt.Local().Format("01-02 15:04:05"),
			exit,
			u.LogSink,
		)
	}
	tbl.Render()
}

// PrintDecisions imprime el resultado de un ciclo.
func (c *Console) PrintDecisions(st domain.CycleState, decisions []domain.Decision) {
	fmt.Fprintf(c.out, "\n  cycle %s  mode=%s  phase=%s  trades=%d/%d\n",
		st.CycleID, st.Mode, st.Phase, st.TradesExecuted, st.Cap)
	if len(decisions) == 0 {
		fmt.Fprintln(c.out, "  (no pending intents)")
		return
	}
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Intent", "Verdict", "Trades", "Order", "Error")
	for _, d := range decisions {
		tbl.Append(d.IntentID, string(d.Verdict), fmt.Sprintf("%d", d.TradesExecuted), d.OrderID, d.Error)
	}
	tbl.Render()
}

// PrintIntents imprime la cola de trade intents.
func (c *Console) PrintIntents(intents []domain.TradeIntent) {
	if len(intents) == 0 {
		fmt.Fprintln(c.out, "  (no intents)")
		return
	}
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("ID", "Created", "Side", "Symbol", "Qty", "Limit", "Notional", "Status", "Reason")
	for _, in := range intents {
		limit := "MKT"
		if in.LimitPrice > 0 {
			limit = usd(in.LimitPrice)
		}
		tbl.Append(
			in.ID,
			in.CreatedAt.Local().Format("01-02 15:04"),
			string(in.Side),
			in.Symbol,
			fmt.Sprintf("%.4g", in.Quantity),
			limit,
			usd(in.Notional()),
			string(in.Status),
			in.Reason,
		)
	}
	tbl.Render()
}

func usd(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("$%.2f", v)
}

func optUSD(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return usd(*v)
}
