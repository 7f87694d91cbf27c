package types

// CycleStage is the state of the order cycle state machine. Exactly one
// stage is active at a time; transitions are published to observers.
type CycleStage string

const (
	CycleStageIdle            CycleStage = "idle"
	CycleStageMarketOrder     CycleStage = "market_order"
	CycleStageWaitingMarket   CycleStage = "waiting_market"
	CycleStageDCAOrders       CycleStage = "dca_orders"
	CycleStageWaitingDCA      CycleStage = "waiting_dca"
	CycleStageTPOrders        CycleStage = "tp_orders"
	CycleStageWaitingTPCancel CycleStage = "waiting_tp_cancel"
	CycleStageMonitoring      CycleStage = "monitoring"
	CycleStageCycleWait       CycleStage = "cycle_wait"
)
