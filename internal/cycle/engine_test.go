package cycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/exchange"
	"github.com/stratalab/dcacycle/internal/logger"
	"github.com/stratalab/dcacycle/internal/types"
	"github.com/stretchr/testify/suite"
)

// stageRecorder collects stage transitions from the cycle goroutine.
type stageRecorder struct {
	mu     sync.Mutex
	stages []types.CycleStage
}

func (r *stageRecorder) record(stage types.CycleStage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stages = append(r.stages, stage)
}

func (r *stageRecorder) count(stage types.CycleStage) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, s := range r.stages {
		if s == stage {
			count++
		}
	}

	return count
}

func (r *stageRecorder) seen(stage types.CycleStage) bool {
	return r.count(stage) > 0
}

type EngineTestSuite struct {
	suite.Suite

	sim    *exchange.Simulator
	engine *Engine
	stages *stageRecorder
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func testTimings() Timings {
	return Timings{
		MarketWait:        20 * time.Millisecond,
		DCAWait:           20 * time.Millisecond,
		TPCancelWait:      20 * time.Millisecond,
		MonitorDuration:   80 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		CycleWait:         30 * time.Millisecond,
		StopCheckInterval: 5 * time.Millisecond,
	}
}

func (suite *EngineTestSuite) SetupTest() {
	suite.sim = exchange.NewSimulator(logger.NewNopLogger())
	suite.sim.SetPrice("BTCUSDT", d("50000"))
	suite.sim.SetBalance("USDT", d("1000"))
	suite.stages = &stageRecorder{}

	config := DefaultConfig("BTCUSDT", "USDT")
	config.DCACount = 2

	engine, err := NewEngine(config, suite.sim, Callbacks{
		OnStageChange: suite.stages.record,
	}, logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.Require().NoError(engine.SetTimings(testTimings()))
	suite.engine = engine
}

func (suite *EngineTestSuite) TearDownTest() {
	suite.engine.HardStop()
	select {
	case <-suite.engine.Done():
	case <-time.After(2 * time.Second):
		suite.Fail("engine did not stop")
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// waitForStage blocks until the stage has been entered at least n times.
func (suite *EngineTestSuite) waitForStage(stage types.CycleStage, n int) {
	suite.Require().Eventually(func() bool {
		return suite.stages.count(stage) >= n
	}, 3*time.Second, 5*time.Millisecond, "stage %s not reached %d times", stage, n)
}

func (suite *EngineTestSuite) TestCyclePlacesEntryDCAAndTPOrders() {
	suite.Require().NoError(suite.engine.Start(context.Background()))
	suite.waitForStage(types.CycleStageMonitoring, 1)

	status := suite.engine.Status()
	suite.True(status.Running)
	suite.True(status.Position.HasPosition())

	// deposit 999.9 split three ways, 0.15% shaved, floored to the lot:
	// floor(333.3 * 0.9985 / 50000 / 0.00001) * 0.00001 = 0.00665
	suite.True(d("0.00665").Equal(status.Position.Size), "got %s", status.Position.Size)

	// entry avg carries the commission: 50000 * 1.0015
	suite.True(d("50075").Equal(status.Position.AvgPrice), "got %s", status.Position.AvgPrice)

	// 2 resting DCA buys and 3 resting TP sells
	suite.Equal(5, suite.sim.OpenOrderCount())
	suite.Len(status.Position.EntryOrders, 3)
	suite.Len(status.Position.TPOrders, 3)
}

func (suite *EngineTestSuite) TestDCAFillAveragesDown() {
	suite.Require().NoError(suite.engine.Start(context.Background()))
	suite.waitForStage(types.CycleStageMonitoring, 1)

	before := suite.engine.Status().Position

	// Cross the first DCA level: entry * (1 - 0.028) = 48600.
	suite.sim.SetPrice("BTCUSDT", d("48600"))

	suite.Require().Eventually(func() bool {
		return suite.engine.Status().Position.Size.GreaterThan(before.Size)
	}, 3*time.Second, 5*time.Millisecond, "DCA fill never reached the ledger")

	after := suite.engine.Status().Position
	suite.True(after.AvgPrice.LessThan(before.AvgPrice), "average price must come down")
	suite.True(after.AvgPrice.GreaterThan(d("48600")), "average stays above the DCA price")
}

func (suite *EngineTestSuite) TestTPFillRealizesProfit() {
	suite.Require().NoError(suite.engine.Start(context.Background()))
	suite.waitForStage(types.CycleStageMonitoring, 1)

	before := suite.engine.Status().Position

	// Cross every TP level.
	suite.sim.SetPrice("BTCUSDT", d("60000"))

	suite.Require().Eventually(func() bool {
		return suite.engine.Status().Position.RealizedPnL.Sign() > 0
	}, 3*time.Second, 5*time.Millisecond, "TP fill never realized PnL")

	after := suite.engine.Status().Position
	suite.True(after.Size.LessThan(before.Size), "TP sells must shrink the position")
}

func (suite *EngineTestSuite) TestSecondCycleCancelsStaleTPOrders() {
	suite.Require().NoError(suite.engine.Start(context.Background()))
	suite.waitForStage(types.CycleStageMonitoring, 2)

	suite.True(suite.stages.seen(types.CycleStageWaitingTPCancel), "second cycle must cancel stale TP orders")

	// Cycle 1 leaves 2 DCA + 3 TP open; cycle 2 cancels the 3 stale TPs
	// and adds its own 2 DCA + 3 TP.
	suite.Equal(7, suite.sim.OpenOrderCount())
}

func (suite *EngineTestSuite) TestEntryFailureSkipsToCycleWait() {
	suite.sim.SetBalance("USDT", d("0.5"))

	suite.Require().NoError(suite.engine.Start(context.Background()))
	suite.waitForStage(types.CycleStageCycleWait, 1)

	suite.False(suite.stages.seen(types.CycleStageDCAOrders), "no DCA stage without an entry")
	suite.False(suite.stages.seen(types.CycleStageTPOrders))
	suite.Equal(0, suite.sim.OpenOrderCount())
	position := suite.engine.Status().Position
	suite.False(position.HasPosition())
}

func (suite *EngineTestSuite) TestHardStopInterruptsWait() {
	suite.engine.hardStop.Store(false)

	start := time.Now()
	done := make(chan bool, 1)

	go func() {
		done <- suite.engine.waitWithStopCheck(context.Background(), time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	suite.engine.hardStop.Store(true)

	select {
	case completed := <-done:
		suite.False(completed, "interrupted wait must report false")
		suite.Less(time.Since(start), 500*time.Millisecond, "wait must return well before its full duration")
	case <-time.After(2 * time.Second):
		suite.Fail("wait did not return after hard stop")
	}
}

func (suite *EngineTestSuite) TestHardStopHaltsLoop() {
	suite.Require().NoError(suite.engine.Start(context.Background()))
	suite.waitForStage(types.CycleStageMonitoring, 1)

	suite.engine.HardStop()

	select {
	case <-suite.engine.Done():
	case <-time.After(2 * time.Second):
		suite.Fail("engine did not halt after hard stop")
	}

	status := suite.engine.Status()
	suite.False(status.Running)
	suite.Equal(types.CycleStageIdle, status.Stage)
}

func (suite *EngineTestSuite) TestSoftStopFinishesCycle() {
	suite.Require().NoError(suite.engine.Start(context.Background()))
	suite.waitForStage(types.CycleStageMonitoring, 1)

	suite.engine.Stop()

	select {
	case <-suite.engine.Done():
	case <-time.After(3 * time.Second):
		suite.Fail("engine did not halt after soft stop")
	}

	suite.True(suite.stages.seen(types.CycleStageCycleWait), "soft stop lets the cycle finish")
	suite.Equal(1, suite.stages.count(types.CycleStageMonitoring), "no new cycle after soft stop")
}

func (suite *EngineTestSuite) TestStartIsIdempotent() {
	suite.Require().NoError(suite.engine.Start(context.Background()))
	suite.Require().NoError(suite.engine.Start(context.Background()))

	suite.waitForStage(types.CycleStageMarketOrder, 1)
	suite.True(suite.engine.Status().Running)
}

func (suite *EngineTestSuite) TestStopWithoutStartIsNoOp() {
	suite.engine.Stop()
	suite.False(suite.engine.Status().Running)
}

func (suite *EngineTestSuite) TestContextCancellationActsAsHardStop() {
	ctx, cancel := context.WithCancel(context.Background())

	suite.Require().NoError(suite.engine.Start(ctx))
	suite.waitForStage(types.CycleStageMonitoring, 1)

	cancel()

	select {
	case <-suite.engine.Done():
	case <-time.After(2 * time.Second):
		suite.Fail("engine did not halt after context cancellation")
	}
}

func (suite *EngineTestSuite) TestRejectsInvalidConfig() {
	config := DefaultConfig("", "USDT")

	_, err := NewEngine(config, suite.sim, Callbacks{}, logger.NewNopLogger())
	suite.Error(err)
}

func (suite *EngineTestSuite) TestSetTimingsRejectedWhileRunning() {
	suite.Require().NoError(suite.engine.Start(context.Background()))
	suite.waitForStage(types.CycleStageMarketOrder, 1)

	suite.Error(suite.engine.SetTimings(testTimings()))
}
