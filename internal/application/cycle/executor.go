// Package cycle runs one bounded trading cycle: it drains pending trade
// intents through the safety enforcer and submits the permitted ones.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/daitrader/internal/application/safety"
	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/alejandrodnm/daitrader/internal/observ"
	"github.com/alejandrodnm/daitrader/internal/ports"
)

const (
	defaultMaxIntents = 20
	finishTimeout     = 5 * time.Second
)

// Config holds the per-cycle settings captured at Begin.
type Config struct {
	Mode       domain.TradingMode
	Cap        int
	MaxIntents int
}

// Result summarises one cycle.
type Result struct {
	State     domain.CycleState
	Decisions []domain.Decision
	Placed    int
	Failed    int
}

// Executor is the trading cycle executor.
type Executor struct {
	enforcer *safety.Enforcer
	intents  ports.IntentStore
	cycles   ports.CycleStore
	ledger   ports.LedgerStore
	orders   ports.OrderExecutor
	metrics  *observ.Metrics
	cfg      Config
	now      func() time.Time
}

// New creates an executor. orders may be nil when the mode never trades.
func New(
	enforcer *safety.Enforcer,
	intents ports.IntentStore,
	cycles ports.CycleStore,
	ledger ports.LedgerStore,
	orders ports.OrderExecutor,
	metrics *observ.Metrics,
	cfg Config,
) *Executor {
	if cfg.MaxIntents <= 0 {
		cfg.MaxIntents = defaultMaxIntents
	}
	if metrics == nil {
		metrics = observ.NewMetrics()
	}
	return &Executor{
		enforcer: enforcer,
		intents:  intents,
		cycles:   cycles,
		ledger:   ledger,
		orders:   orders,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run opens a cycle, decides every pending intent in creation order and closes
// the cycle. A cancelled ctx aborts the cycle; trades_executed keeps the last
// committed value.
//
// A permitted decision is committed before the order is submitted, so a kill
// between the two can only leave the counter ahead of the venue, never behind.
func (x *Executor) Run(ctx context.Context) (Result, error) {
	if x.cfg.Mode == domain.ModeLive && x.orders == nil {
		return Result{}, fmt.Errorf("cycle.Run: live mode without an order executor")
	}

	st, err := x.enforcer.Begin(x.cfg.Mode, x.cfg.Cap)
	if err != nil {
		return Result{}, fmt.Errorf("cycle.Run: %w", err)
	}
	log := slog.With("cycle_id", st.CycleID, "mode", st.Mode, "cap", st.Cap)
	log.Info("cycle started")

	if err := x.cycles.StartCycle(ctx, st); err != nil {
		x.enforcer.Abort()
		return Result{State: x.enforcer.State()}, fmt.Errorf("cycle.Run: %w", err)
	}

	res := Result{}
	runErr := x.decideAll(ctx, log, &res)

	if runErr != nil || ctx.Err() != nil {
		res.State = x.enforcer.Abort()
	} else {
		res.State = x.enforcer.Complete()
	}

	// the close is persisted even when ctx is already cancelled
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := x.cycles.FinishCycle(fctx, res.State); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("cycle.Run: %w", err))
	}

	log.Info("cycle finished",
		"phase", res.State.Phase,
		"trades_executed", res.State.TradesExecuted,
		"decisions", len(res.Decisions),
		"placed", res.Placed,
		"failed", res.Failed)

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	return res, runErr
}

func (x *Executor) decideAll(ctx context.Context, log *slog.Logger, res *Result) error {
	pending, err := x.intents.PendingIntents(ctx, x.cfg.MaxIntents)
	if err != nil {
		return fmt.Errorf("cycle.Run: %w", err)
	}
	if len(pending) == 0 {
		log.Info("no pending intents")
		return nil
	}

	for _, in := range pending {
		if ctx.Err() != nil {
			log.Warn("cycle interrupted", "remaining", len(pending)-len(res.Decisions))
			return nil
		}

		d := x.enforcer.Evaluate(in)
		x.metrics.Decisions.WithLabelValues(string(d.Verdict)).Inc()
		if err := x.cycles.RecordDecision(ctx, d); err != nil {
			return fmt.Errorf("cycle.Run: %w", err)
		}

		if d.Executing {
			x.execute(ctx, log, in, &d, res)
		} else {
			log.Info("intent not executed",
				"intent_id", in.ID, "symbol", in.Symbol, "side", in.Side,
				"verdict", d.Verdict, "trades_executed", d.TradesExecuted)
		}
		res.Decisions = append(res.Decisions, d)
	}
	return nil
}

// execute submits a permitted intent once and records the reserve it holds.
func (x *Executor) execute(ctx context.Context, log *slog.Logger, in domain.TradeIntent, d *domain.Decision, res *Result) {
	placed, err := x.orders.PlaceOrder(ctx, in)
	if err != nil {
		res.Failed++
		x.metrics.OrderErrors.Inc()
		d.Error = err.Error()
		log.Error("order rejected", "intent_id", in.ID, "symbol", in.Symbol, "err", err)
		x.attach(ctx, log, d)
		return
	}
	res.Placed++
	d.OrderID = placed.OrderID
	log.Info("order placed",
		"intent_id", in.ID, "order_id", placed.OrderID,
		"symbol", in.Symbol, "side", in.Side, "notional", in.Notional(),
		"trades_executed", d.TradesExecuted)
	x.attach(ctx, log, d)

	ev := placedEvent(in, placed, x.now())
	if _, err := x.ledger.AppendEvent(ctx, ev); err != nil {
		// the activity stream carries the same event under the same id
		log.Warn("could not record placed order in ledger", "order_id", placed.OrderID, "err", err)
	}
}

func (x *Executor) attach(ctx context.Context, log *slog.Logger, d *domain.Decision) {
	if err := x.cycles.AttachOrder(ctx, d.CycleID, d.IntentID, d.OrderID, d.Error); err != nil {
		log.Warn("could not record order outcome", "intent_id", d.IntentID, "err", err)
	}
}

// placedEvent builds the order_placed ledger entry. Buys hold their notional
// as reserve; sells hold nothing.
func placedEvent(in domain.TradeIntent, placed domain.PlacedOrder, now time.Time) domain.LedgerEvent {
	id := placed.OrderID
	if id == "" {
		id = "local-" + uuid.NewString()
	}
	at := placed.SubmittedAt
	if at.IsZero() {
		at = now
	}
	ev := domain.LedgerEvent{
		EventID:      domain.PlacedEventID(id),
		OccurredAt:   at.UTC(),
		Kind:         domain.EventOrderPlaced,
		CashDelta:    decimal.Zero,
		ReserveDelta: decimal.Zero,
		OrderID:      id,
		Symbol:       in.Symbol,
	}
	if in.Side == domain.SideBuy {
		ev.ReserveDelta = decimal.NewFromFloat(in.Notional()).Round(2)
	}
	return ev
}
