package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/logger"
	"github.com/stratalab/dcacycle/internal/types"
	"github.com/stratalab/dcacycle/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type LedgerTestSuite struct {
	suite.Suite

	ledger *Ledger
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (suite *LedgerTestSuite) SetupTest() {
	suite.ledger = NewLedger("BTCUSDT", d("0.0015"), logger.NewNopLogger())
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (suite *LedgerTestSuite) assertDecimal(expected string, actual decimal.Decimal, msgAndArgs ...any) {
	suite.True(d(expected).Equal(actual), "expected %s, got %s (%v)", expected, actual, msgAndArgs)
}

func (suite *LedgerTestSuite) TestBuyAccruesCommissionEffectiveCost() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("1"), d("100")))

	// 100 * 1.0015 = 100.15
	suite.assertDecimal("1", suite.ledger.Size())
	suite.assertDecimal("100.15", suite.ledger.AvgPrice())
	suite.assertDecimal("100.15", suite.ledger.TotalCost())
	suite.True(suite.ledger.HasPosition())
}

func (suite *LedgerTestSuite) TestAvgPriceIsVolumeWeighted() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("1"), d("100")))
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("1"), d("90")))

	// (100.15 + 90.135) / 2 = 95.1425
	suite.assertDecimal("2", suite.ledger.Size())
	suite.assertDecimal("190.285", suite.ledger.TotalCost())
	suite.assertDecimal("95.1425", suite.ledger.AvgPrice())
}

func (suite *LedgerTestSuite) TestSellRealizesAgainstPreTradeAvg() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("1"), d("100")))
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("1"), d("90")))
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeSell, d("1"), d("110")))

	// sell effective 110 * 0.9985 = 109.835, avg 95.1425
	suite.assertDecimal("14.6925", suite.ledger.RealizedPnL())
	suite.assertDecimal("1", suite.ledger.Size())
	suite.assertDecimal("95.1425", suite.ledger.AvgPrice())
	suite.assertDecimal("95.1425", suite.ledger.TotalCost())
}

func (suite *LedgerTestSuite) TestFullCloseZeroesAccounting() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("2"), d("100")))
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeSell, d("2"), d("120")))

	// 2 * (119.82 - 100.15) = 39.34
	suite.assertDecimal("39.34", suite.ledger.RealizedPnL())
	suite.assertDecimal("0", suite.ledger.Size())
	suite.assertDecimal("0", suite.ledger.AvgPrice())
	suite.assertDecimal("0", suite.ledger.TotalCost())
	suite.False(suite.ledger.HasPosition())
}

func (suite *LedgerTestSuite) TestOversizedSellClampsToOpenSize() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("1"), d("100")))
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeSell, d("5"), d("110")))

	// Clamped to the open 1 unit: 109.835 - 100.15 = 9.685
	suite.assertDecimal("9.685", suite.ledger.RealizedPnL())
	suite.assertDecimal("0", suite.ledger.Size())
	suite.assertDecimal("0", suite.ledger.TotalCost())
}

func (suite *LedgerTestSuite) TestSellWithNoPositionIsIgnored() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeSell, d("1"), d("110")))

	suite.assertDecimal("0", suite.ledger.RealizedPnL())
	suite.assertDecimal("0", suite.ledger.Size())
}

func (suite *LedgerTestSuite) TestRejectsNonPositiveFills() {
	err := suite.ledger.ApplyFill(types.PurchaseTypeBuy, decimal.Zero, d("100"))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	err = suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("1"), d("-100"))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *LedgerTestSuite) TestUnrealizedPnLNetsExitCommission() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("2"), d("100")))

	// 110 * 2 * 0.9985 - 200.30 = 19.37
	suite.assertDecimal("19.37", suite.ledger.UnrealizedPnL(d("110")))
	suite.True(suite.ledger.UnrealizedPnL(d("100.3")).Sign() < 0, "exit fee keeps the raw avg underwater")
}

func (suite *LedgerTestSuite) TestUnrealizedPnLZeroWhenFlat() {
	suite.assertDecimal("0", suite.ledger.UnrealizedPnL(d("110")))
}

func (suite *LedgerTestSuite) TestTotalPnLCombinesRealizedAndUnrealized() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("2"), d("100")))
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeSell, d("1"), d("110")))

	// realized 9.685, unrealized 110 * 1 * 0.9985 - 100.15 = 9.685
	suite.assertDecimal("19.37", suite.ledger.TotalPnL(d("110")))
}

func (suite *LedgerTestSuite) TestTakeProfitLevelsIncludeCommission() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("1"), d("200")))

	// avg 200.30; level = avg * (1 + pct/100 + 0.0015)
	levels := suite.ledger.TakeProfitLevels([]decimal.Decimal{d("1.9"), d("3.4"), d("4.9")})
	suite.Len(levels, 3)
	suite.assertDecimal("204.40615", levels[0])
	suite.assertDecimal("207.41065", levels[1])
	suite.assertDecimal("210.41515", levels[2])
}

func (suite *LedgerTestSuite) TestTakeProfitLevelsNilWhenFlat() {
	suite.Nil(suite.ledger.TakeProfitLevels([]decimal.Decimal{d("1.9")}))
}

func (suite *LedgerTestSuite) TestResetClearsEverything() {
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeBuy, d("1"), d("100")))
	suite.NoError(suite.ledger.ApplyFill(types.PurchaseTypeSell, d("1"), d("110")))
	suite.ledger.RecordEntryOrder(types.Order{ID: "a"})

	suite.ledger.Reset()

	snapshot := suite.ledger.Snapshot()
	suite.assertDecimal("0", snapshot.Size)
	suite.assertDecimal("0", snapshot.RealizedPnL)
	suite.Empty(snapshot.EntryOrders)
	suite.Empty(snapshot.TPOrders)
}

func (suite *LedgerTestSuite) TestSnapshotCopiesOrders() {
	suite.ledger.RecordEntryOrder(types.Order{ID: "entry-1"})
	suite.ledger.SetTPOrders([]types.Order{{ID: "tp-1"}, {ID: "tp-2"}})

	snapshot := suite.ledger.Snapshot()
	suite.Len(snapshot.EntryOrders, 1)
	suite.Len(snapshot.TPOrders, 2)

	snapshot.TPOrders[0].ID = "mutated"
	suite.Equal("tp-1", suite.ledger.Snapshot().TPOrders[0].ID)
}

func (suite *LedgerTestSuite) TestUpdateOrderReplacesByID() {
	suite.ledger.RecordEntryOrder(types.Order{ID: "entry-1", Status: types.OrderStatusPending})
	suite.ledger.UpdateOrder(types.Order{ID: "entry-1", Status: types.OrderStatusFilled})

	suite.Equal(types.OrderStatusFilled, suite.ledger.Snapshot().EntryOrders[0].Status)
}

func (suite *LedgerTestSuite) TestZeroRateFallsBackToDefault() {
	l := NewLedger("BTCUSDT", decimal.Zero, logger.NewNopLogger())
	suite.NoError(l.ApplyFill(types.PurchaseTypeBuy, d("1"), d("100")))

	suite.assertDecimal("100.15", l.AvgPrice())
}
