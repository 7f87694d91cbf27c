package history

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/types"
	"github.com/stretchr/testify/suite"
)

type HistoryTestSuite struct {
	suite.Suite

	store *Store
}

func TestHistorySuite(t *testing.T) {
	suite.Run(t, new(HistoryTestSuite))
}

func (suite *HistoryTestSuite) SetupTest() {
	store, err := NewStore("")
	suite.Require().NoError(err)
	suite.store = store
}

func (suite *HistoryTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleOrder(id string, createdAt time.Time) types.Order {
	return types.Order{
		ID:           id,
		Symbol:       "BTCUSDT",
		Side:         types.PurchaseTypeBuy,
		Kind:         types.OrderKindLimit,
		Amount:       d("0.01"),
		Price:        optional.Some(d("48000")),
		Status:       types.OrderStatusPending,
		FilledAmount: decimal.Zero,
		AvgPrice:     decimal.Zero,
		CreatedAt:    createdAt,
	}
}

func (suite *HistoryTestSuite) TestRecordAndReadOrders() {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	suite.NoError(suite.store.RecordOrder(sampleOrder("order-1", base)))
	suite.NoError(suite.store.RecordOrder(sampleOrder("order-2", base.Add(time.Second))))

	orders, err := suite.store.Orders("BTCUSDT")
	suite.NoError(err)
	suite.Len(orders, 2)
	suite.Equal("order-1", orders[0].ID)
	suite.Equal("order-2", orders[1].ID)
	suite.True(d("48000").Equal(orders[0].LimitPrice()))
	suite.True(d("0.01").Equal(orders[0].Amount))
}

func (suite *HistoryTestSuite) TestRecordOrderUpsertsStatus() {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	order := sampleOrder("order-1", base)

	suite.NoError(suite.store.RecordOrder(order))

	order.Status = types.OrderStatusFilled
	order.FilledAmount = d("0.01")
	order.AvgPrice = d("48000")
	suite.NoError(suite.store.RecordOrder(order))

	count, err := suite.store.OrderCount()
	suite.NoError(err)
	suite.Equal(1, count)

	orders, err := suite.store.Orders("BTCUSDT")
	suite.NoError(err)
	suite.Equal(types.OrderStatusFilled, orders[0].Status)
	suite.True(d("0.01").Equal(orders[0].FilledAmount))
}

func (suite *HistoryTestSuite) TestMarketOrderHasNoPrice() {
	order := sampleOrder("order-1", time.Now())
	order.Kind = types.OrderKindMarket
	order.Price = optional.None[decimal.Decimal]()

	suite.NoError(suite.store.RecordOrder(order))

	orders, err := suite.store.Orders("BTCUSDT")
	suite.NoError(err)
	suite.True(orders[0].Price.IsNone())
}

func (suite *HistoryTestSuite) TestCycleEvents() {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	suite.NoError(suite.store.RecordCycleEvent(CycleEvent{
		Symbol:      "BTCUSDT",
		Stage:       types.CycleStageMarketOrder,
		Note:        "cycle started",
		RealizedPnL: decimal.Zero,
		CreatedAt:   base,
	}))
	suite.NoError(suite.store.RecordCycleEvent(CycleEvent{
		Symbol:      "BTCUSDT",
		Stage:       types.CycleStageIdle,
		Note:        "cycle complete",
		RealizedPnL: d("14.6925"),
		CreatedAt:   base.Add(time.Minute),
	}))

	events, err := suite.store.CycleEvents("BTCUSDT")
	suite.NoError(err)
	suite.Len(events, 2)
	suite.Equal(types.CycleStageMarketOrder, events[0].Stage)
	suite.Equal(types.CycleStageIdle, events[1].Stage)
	suite.True(d("14.6925").Equal(events[1].RealizedPnL))
}

func (suite *HistoryTestSuite) TestEventsFilteredBySymbol() {
	suite.NoError(suite.store.RecordCycleEvent(CycleEvent{Symbol: "BTCUSDT", Stage: types.CycleStageIdle}))
	suite.NoError(suite.store.RecordCycleEvent(CycleEvent{Symbol: "ETHUSDT", Stage: types.CycleStageIdle}))

	events, err := suite.store.CycleEvents("BTCUSDT")
	suite.NoError(err)
	suite.Len(events, 1)
	suite.Equal("BTCUSDT", events[0].Symbol)
}
