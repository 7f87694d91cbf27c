package cycle

import "github.com/stratalab/dcacycle/internal/types"

// Callbacks are one-way notifications fired from the cycle goroutine. Every
// field is optional. Handlers must return quickly and must not call back
// into the engine; they receive snapshots, never live state.
type Callbacks struct {
	// OnStageChange fires on every stage transition.
	OnStageChange func(stage types.CycleStage)
	// OnPositionUpdate fires whenever a fill changes the position.
	OnPositionUpdate func(position types.Position)
	// OnOrdersUpdate fires whenever the active-order table changes.
	OnOrdersUpdate func(orders []types.Order)
}

func (c *Callbacks) emitStageChange(stage types.CycleStage) {
	if c.OnStageChange != nil {
		c.OnStageChange(stage)
	}
}

func (c *Callbacks) emitPositionUpdate(position types.Position) {
	if c.OnPositionUpdate != nil {
		c.OnPositionUpdate(position)
	}
}

func (c *Callbacks) emitOrdersUpdate(orders []types.Order) {
	if c.OnOrdersUpdate != nil {
		c.OnOrdersUpdate(orders)
	}
}
