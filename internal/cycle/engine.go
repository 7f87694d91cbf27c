// Package cycle implements the martingale DCA order-cycle state machine:
// market entry, staggered DCA buys, take-profit sells, fill monitoring and
// the waits in between, repeated until stopped.
package cycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/allocation"
	"github.com/stratalab/dcacycle/internal/exchange"
	"github.com/stratalab/dcacycle/internal/history"
	"github.com/stratalab/dcacycle/internal/ledger"
	"github.com/stratalab/dcacycle/internal/logger"
	"github.com/stratalab/dcacycle/internal/types"
	"github.com/stratalab/dcacycle/pkg/errors"
	"go.uber.org/zap"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Status is a point-in-time snapshot of the engine for external readers.
type Status struct {
	Running  bool
	Stage    types.CycleStage
	Position types.Position
}

// orderTracker pairs a tracked order with the fill quantity already fed
// into the ledger, so repeated polls apply only the delta.
type orderTracker struct {
	order      types.Order
	lastFilled decimal.Decimal
}

// Engine runs trading cycles on a single background goroutine. The ledger
// and the active-order table are owned by that goroutine; external readers
// use Status and the callbacks.
type Engine struct {
	config    Config
	timings   Timings
	exchange  exchange.Exchange
	ledger    *ledger.Ledger
	log       *logger.Logger
	callbacks Callbacks
	store     *history.Store

	commissionRate decimal.Decimal

	mu      sync.Mutex
	running bool
	stage   types.CycleStage
	done    chan struct{}

	hardStop atomic.Bool
	softStop atomic.Bool

	// Cycle-local state, touched only by the run goroutine.
	shares     []decimal.Decimal
	entryPrice decimal.Decimal
	trackers   []*orderTracker
	// tpOrders survive the cycle boundary: stale take-profit orders from
	// the previous cycle are cancelled before new ones are placed.
	tpOrders []types.Order
}

// NewEngine creates a stopped engine. The configuration is validated here
// so a bad config fails at construction, not mid-cycle.
func NewEngine(config Config, ex exchange.Exchange, callbacks Callbacks, log *logger.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	commissionRate := types.DefaultCommissionRate
	if config.CommissionRate > 0 {
		commissionRate = decimal.NewFromFloat(config.CommissionRate)
	}

	done := make(chan struct{})
	close(done)

	return &Engine{
		config:         config,
		timings:        DefaultTimings(),
		exchange:       ex,
		ledger:         ledger.NewLedger(config.Symbol, commissionRate, log),
		log:            log,
		callbacks:      callbacks,
		commissionRate: commissionRate,
		stage:          types.CycleStageIdle,
		done:           done,
	}, nil
}

// SetHistoryStore attaches an optional journal. Must be called before Start.
func (e *Engine) SetHistoryStore(store *history.Store) {
	e.store = store
}

// SetTimings overrides the wait schedule. Fails while the engine runs.
func (e *Engine) SetTimings(timings Timings) error {
	if err := timings.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New(errors.ErrCodeCycleInitFailed, "cannot change timings while the cycle is running")
	}

	e.timings = timings

	return nil
}

// Start launches the cycle loop on a background goroutine. Starting a
// running engine is a logged no-op. Cancelling ctx acts as a hard stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.log.Info("cycle already running, start ignored", zap.String("symbol", e.config.Symbol))

		return nil
	}

	e.running = true
	e.done = make(chan struct{})
	e.hardStop.Store(false)
	e.softStop.Store(false)
	e.mu.Unlock()

	e.log.Info("starting trading cycle",
		zap.String("symbol", e.config.Symbol),
		zap.Int("dca_count", e.config.DCACount),
		zap.Float64("deposit_percent", e.config.DepositPercent))

	go e.run(ctx)

	return nil
}

// Stop requests a soft stop: the current cycle finishes naturally and no
// new cycle starts. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	if !running {
		e.log.Info("cycle not running, stop ignored", zap.String("symbol", e.config.Symbol))

		return
	}

	e.softStop.Store(true)
	e.log.Info("soft stop requested", zap.String("symbol", e.config.Symbol))
}

// HardStop interrupts waits and monitoring within about one second and
// halts the loop after the current synchronous step.
func (e *Engine) HardStop() {
	e.hardStop.Store(true)
	e.log.Info("hard stop requested", zap.String("symbol", e.config.Symbol))
}

// Done returns a channel closed when the background loop has exited.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.done
}

// Status returns a snapshot of the engine state and position.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	stage := e.stage
	e.mu.Unlock()

	return Status{
		Running:  running,
		Stage:    stage,
		Position: e.ledger.Snapshot(),
	}
}

// run is the cycle loop. A panic anywhere in a cycle is fatal to the loop
// only: it is logged and the engine returns to idle.
func (e *Engine) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("cycle loop panicked, stopping",
				zap.String("symbol", e.config.Symbol),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}

		e.transitionStage(types.CycleStageIdle)

		e.mu.Lock()
		e.running = false
		done := e.done
		e.mu.Unlock()

		close(done)

		e.log.Info("trading cycle stopped", zap.String("symbol", e.config.Symbol))
	}()

	for !e.stopRequested(ctx) && !e.softStop.Load() {
		e.runCycle(ctx)
	}
}

// runCycle executes one full cycle. Every stage failure degrades to the
// next wait rather than aborting the loop.
func (e *Engine) runCycle(ctx context.Context) {
	e.recordCycleClose()
	e.ledger.Reset()
	e.shares = nil
	e.entryPrice = decimal.Zero
	e.trackers = nil

	if e.enterMarket(ctx) {
		if !e.waitStage(ctx, types.CycleStageWaitingMarket, e.timings.MarketWait) {
			return
		}

		e.placeDCAOrders(ctx)

		if !e.waitStage(ctx, types.CycleStageWaitingDCA, e.timings.DCAWait) {
			return
		}

		if !e.cancelStaleTPOrders(ctx) {
			return
		}

		e.placeTPOrders(ctx)
		e.monitor(ctx)
	}

	e.waitStage(ctx, types.CycleStageCycleWait, e.timings.CycleWait)
}

// enterMarket sizes and submits the market entry. Any failure aborts this
// cycle's entry and sends the loop to the cycle wait.
func (e *Engine) enterMarket(ctx context.Context) bool {
	e.transitionStage(types.CycleStageMarketOrder)

	if e.stopRequested(ctx) {
		return false
	}

	balance, err := e.exchange.GetBalance(ctx, e.config.QuoteAsset)
	if err != nil {
		e.log.Error("failed to query balance, skipping cycle", zap.Error(err))

		return false
	}

	price, err := e.exchange.GetCurrentPrice(ctx, e.config.Symbol)
	if err != nil {
		e.log.Error("failed to query price, skipping cycle", zap.Error(err))

		return false
	}

	deposit := balance.Mul(pctFraction(e.config.DepositPercent))

	shares, err := allocation.ComputeShares(deposit, e.config.DCACount, decimal.NewFromFloat(e.config.MartingaleCoefficient))
	if err != nil {
		e.log.Error("failed to compute shares, skipping cycle", zap.Error(err))

		return false
	}

	e.shares = shares

	result, err := e.exchange.CreateOrder(ctx, types.OrderRequest{
		Symbol:   e.config.Symbol,
		Side:     types.PurchaseTypeBuy,
		Kind:     types.OrderKindMarket,
		Quantity: e.netQuantity(shares[0], price),
	})
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeBelowMinimumSize) {
			e.log.Warn("entry size below exchange minimum, skipping cycle",
				zap.String("deposit", deposit.String()),
				zap.String("price", price.String()))
		} else {
			e.log.Error("market entry failed, skipping cycle", zap.Error(err))
		}

		return false
	}

	order := e.trackOrder(types.PurchaseTypeBuy, types.OrderKindMarket, optional.None[decimal.Decimal](), result)
	e.ledger.RecordEntryOrder(order)
	e.applyFillDelta(e.trackers[len(e.trackers)-1], result)

	e.entryPrice = result.AvgPrice
	if e.entryPrice.Sign() <= 0 {
		e.entryPrice = price
	}

	e.log.Info("market entry placed",
		zap.String("symbol", e.config.Symbol),
		zap.String("order_id", result.ID),
		zap.String("quantity", result.Amount.String()),
		zap.String("entry_price", e.entryPrice.String()))

	e.notifyOrders()
	e.notifyPosition()

	return true
}

// placeDCAOrders lays the limit-buy staircase below the entry price. A
// failed level is logged and skipped, the rest are still placed.
func (e *Engine) placeDCAOrders(ctx context.Context) {
	e.transitionStage(types.CycleStageDCAOrders)

	step := pctFraction(e.config.DCAStepPercent)

	for i := 1; i < len(e.shares); i++ {
		if e.stopRequested(ctx) {
			return
		}

		// Linear staircase: level i sits at entry * (1 - step * i).
		levelPrice := e.entryPrice.Mul(one.Sub(step.Mul(decimal.NewFromInt(int64(i)))))

		result, err := e.exchange.CreateOrder(ctx, types.OrderRequest{
			Symbol:   e.config.Symbol,
			Side:     types.PurchaseTypeBuy,
			Kind:     types.OrderKindLimit,
			Quantity: e.netQuantity(e.shares[i], levelPrice),
			Price:    optional.Some(levelPrice),
		})
		if err != nil {
			e.log.Warn("DCA level skipped",
				zap.Int("level", i),
				zap.String("price", levelPrice.String()),
				zap.Error(err))

			continue
		}

		order := e.trackOrder(types.PurchaseTypeBuy, types.OrderKindLimit, optional.Some(levelPrice), result)
		e.ledger.RecordEntryOrder(order)
		e.applyFillDelta(e.trackers[len(e.trackers)-1], result)

		e.log.Info("DCA order placed",
			zap.Int("level", i),
			zap.String("order_id", result.ID),
			zap.String("price", levelPrice.String()))
	}

	e.notifyOrders()
	e.notifyPosition()
}

// cancelStaleTPOrders cancels take-profit orders left over from the
// previous cycle. The average price has moved, so they are re-derived.
// Returns false when a stop interrupted the follow-up wait.
func (e *Engine) cancelStaleTPOrders(ctx context.Context) bool {
	stale := e.tpOrders
	e.tpOrders = nil

	if len(stale) == 0 {
		return true
	}

	e.transitionStage(types.CycleStageWaitingTPCancel)

	for _, order := range stale {
		if order.Status.IsTerminal() {
			continue
		}

		if err := e.exchange.CancelOrder(ctx, order.Symbol, order.ID); err != nil {
			e.log.Warn("failed to cancel stale TP order",
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
	}

	return e.waitWithStopCheck(ctx, e.timings.TPCancelWait)
}

// placeTPOrders derives take-profit sells from the current average price.
// Levels are independent: one skipped level does not renormalize the rest.
func (e *Engine) placeTPOrders(ctx context.Context) {
	e.transitionStage(types.CycleStageTPOrders)

	percents := make([]decimal.Decimal, 0, len(e.config.TakeProfits))
	for _, level := range e.config.TakeProfits {
		percents = append(percents, decimal.NewFromFloat(level.Percent))
	}

	prices := e.ledger.TakeProfitLevels(percents)
	if prices == nil {
		e.log.Warn("no position to take profit on", zap.String("symbol", e.config.Symbol))

		return
	}

	size := e.ledger.Size()
	placed := make([]types.Order, 0, len(prices))

	for i, tpPrice := range prices {
		if e.stopRequested(ctx) {
			break
		}

		quantity := size.Mul(pctFraction(e.config.TakeProfits[i].VolumePercent))

		result, err := e.exchange.CreateOrder(ctx, types.OrderRequest{
			Symbol:   e.config.Symbol,
			Side:     types.PurchaseTypeSell,
			Kind:     types.OrderKindLimit,
			Quantity: quantity,
			Price:    optional.Some(tpPrice),
		})
		if err != nil {
			e.log.Warn("TP level skipped",
				zap.Int("level", i+1),
				zap.String("price", tpPrice.String()),
				zap.Error(err))

			continue
		}

		order := e.trackOrder(types.PurchaseTypeSell, types.OrderKindLimit, optional.Some(tpPrice), result)
		placed = append(placed, order)
		e.applyFillDelta(e.trackers[len(e.trackers)-1], result)

		e.log.Info("TP order placed",
			zap.Int("level", i+1),
			zap.String("order_id", result.ID),
			zap.String("price", tpPrice.String()),
			zap.String("quantity", result.Amount.String()))
	}

	e.tpOrders = placed
	e.ledger.SetTPOrders(placed)
	e.notifyOrders()
}

// monitor polls every non-terminal order once per poll interval and feeds
// fill deltas into the ledger.
func (e *Engine) monitor(ctx context.Context) {
	e.transitionStage(types.CycleStageMonitoring)

	deadline := time.Now().Add(e.timings.MonitorDuration)

	for time.Now().Before(deadline) {
		if e.stopRequested(ctx) {
			return
		}

		e.pollOrders(ctx)
		time.Sleep(e.timings.PollInterval)
	}
}

func (e *Engine) pollOrders(ctx context.Context) {
	changed := false

	for _, tracker := range e.trackers {
		if tracker.order.Status.IsTerminal() {
			continue
		}

		result, err := e.exchange.GetOrderInfo(ctx, tracker.order.Symbol, tracker.order.ID)
		if err != nil {
			e.log.Warn("order poll failed",
				zap.String("order_id", tracker.order.ID),
				zap.Error(err))

			continue
		}

		if result.Status == tracker.order.Status && result.FilledQty.Equal(tracker.lastFilled) {
			continue
		}

		e.applyFillDelta(tracker, result)
		changed = true
	}

	if changed {
		e.notifyOrders()
		e.notifyPosition()
	}
}

// applyFillDelta feeds the not-yet-accounted filled quantity into the
// ledger and refreshes the tracked order snapshot.
func (e *Engine) applyFillDelta(tracker *orderTracker, result types.OrderResult) {
	delta := result.FilledQty.Sub(tracker.lastFilled)
	if delta.Sign() > 0 {
		fillPrice := result.AvgPrice
		if fillPrice.Sign() <= 0 {
			fillPrice = tracker.order.LimitPrice()
		}

		if err := e.ledger.ApplyFill(tracker.order.Side, delta, fillPrice); err != nil {
			e.log.Error("failed to apply fill", zap.String("order_id", tracker.order.ID), zap.Error(err))
		}

		tracker.lastFilled = result.FilledQty
	}

	tracker.order.Status = result.Status
	tracker.order.FilledAmount = result.FilledQty
	tracker.order.AvgPrice = result.AvgPrice
	e.ledger.UpdateOrder(tracker.order)
	e.recordOrder(tracker.order)
}

// trackOrder registers a freshly placed order in the active-order table.
func (e *Engine) trackOrder(side types.PurchaseType, kind types.OrderKind, price optional.Option[decimal.Decimal], result types.OrderResult) types.Order {
	order := types.Order{
		ID:           result.ID,
		Symbol:       e.config.Symbol,
		Side:         side,
		Kind:         kind,
		Amount:       result.Amount,
		Price:        price,
		Status:       result.Status,
		FilledAmount: decimal.Zero,
		AvgPrice:     result.AvgPrice,
		CreatedAt:    time.Now(),
	}

	e.trackers = append(e.trackers, &orderTracker{
		order:      order,
		lastFilled: decimal.Zero,
	})
	e.recordOrder(order)

	return order
}

// netQuantity converts a capital share into a base quantity with the entry
// commission shaved off. The exchange quantizes it to the lot grid.
func (e *Engine) netQuantity(share, price decimal.Decimal) decimal.Decimal {
	return share.Div(price).Mul(one.Sub(e.commissionRate))
}

// waitStage enters a wait stage and sleeps through it with stop checks.
func (e *Engine) waitStage(ctx context.Context, stage types.CycleStage, duration time.Duration) bool {
	e.transitionStage(stage)

	return e.waitWithStopCheck(ctx, duration)
}

// waitWithStopCheck sleeps for the given duration in stop-check increments.
// Returns false if a hard stop or context cancellation interrupted it.
func (e *Engine) waitWithStopCheck(ctx context.Context, duration time.Duration) bool {
	deadline := time.Now().Add(duration)

	for {
		if e.stopRequested(ctx) {
			return false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}

		interval := e.timings.StopCheckInterval
		if remaining < interval {
			interval = remaining
		}

		time.Sleep(interval)
	}
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	return e.hardStop.Load() || ctx.Err() != nil
}

func (e *Engine) transitionStage(stage types.CycleStage) {
	e.mu.Lock()
	if e.stage == stage {
		e.mu.Unlock()

		return
	}

	e.stage = stage
	e.mu.Unlock()

	e.log.Info("stage changed",
		zap.String("symbol", e.config.Symbol),
		zap.String("stage", string(stage)))

	e.callbacks.emitStageChange(stage)

	if e.store != nil {
		err := e.store.RecordCycleEvent(history.CycleEvent{
			Symbol:      e.config.Symbol,
			Stage:       stage,
			RealizedPnL: e.ledger.RealizedPnL(),
		})
		if err != nil {
			e.log.Warn("failed to journal stage change", zap.Error(err))
		}
	}
}

// recordCycleClose journals the realized PnL of the cycle about to be
// reset. The very first cycle has nothing to record.
func (e *Engine) recordCycleClose() {
	realized := e.ledger.RealizedPnL()
	if !e.ledger.HasPosition() && realized.IsZero() {
		return
	}

	e.log.Info("cycle closed",
		zap.String("symbol", e.config.Symbol),
		zap.String("realized_pnl", realized.String()),
		zap.String("open_size", e.ledger.Size().String()))

	if e.store != nil {
		err := e.store.RecordCycleEvent(history.CycleEvent{
			Symbol:      e.config.Symbol,
			Stage:       types.CycleStageCycleWait,
			Note:        "cycle closed",
			RealizedPnL: realized,
		})
		if err != nil {
			e.log.Warn("failed to journal cycle close", zap.Error(err))
		}
	}
}

func (e *Engine) recordOrder(order types.Order) {
	if e.store == nil {
		return
	}

	if err := e.store.RecordOrder(order); err != nil {
		e.log.Warn("failed to journal order", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (e *Engine) notifyPosition() {
	e.callbacks.emitPositionUpdate(e.ledger.Snapshot())
}

func (e *Engine) notifyOrders() {
	orders := make([]types.Order, 0, len(e.trackers))
	for _, tracker := range e.trackers {
		orders = append(orders, tracker.order)
	}

	e.callbacks.emitOrdersUpdate(orders)
}

func pctFraction(percent float64) decimal.Decimal {
	return decimal.NewFromFloat(percent).Div(hundred)
}
