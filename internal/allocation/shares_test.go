package allocation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type SharesTestSuite struct {
	suite.Suite
}

func TestSharesSuite(t *testing.T) {
	suite.Run(t, new(SharesTestSuite))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// sumShares adds all shares for checking against the deposit.
func sumShares(shares []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s)
	}

	return total
}

func (suite *SharesTestSuite) TestEqualSplit() {
	shares, err := ComputeShares(d("1000"), 2, d("1"))
	suite.NoError(err)
	suite.Len(shares, 3)

	for _, share := range shares {
		suite.True(d("1000").Div(d("3")).Equal(share))
	}
}

func (suite *SharesTestSuite) TestEqualSplitSumsToDeposit() {
	epsilon := d("0.000000000001")

	for _, count := range []int{0, 1, 3, 7, 20} {
		shares, err := ComputeShares(d("1000"), count, d("1"))
		suite.NoError(err)
		suite.Len(shares, count+1)

		diff := sumShares(shares).Sub(d("1000")).Abs()
		suite.True(diff.LessThan(epsilon), "dca_count=%d: sum off by %s", count, diff)
	}
}

func (suite *SharesTestSuite) TestGeometricSumsToDeposit() {
	epsilon := d("0.000000000001")

	tests := []struct {
		name        string
		deposit     string
		dcaCount    int
		coefficient string
	}{
		{"doubling", "1000", 3, "2"},
		{"front-loaded", "500", 4, "0.5"},
		{"mild", "12345.678", 5, "1.3"},
		{"entry only", "100", 0, "2"},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			shares, err := ComputeShares(d(tc.deposit), tc.dcaCount, d(tc.coefficient))
			suite.NoError(err)
			suite.Len(shares, tc.dcaCount+1)

			diff := sumShares(shares).Sub(d(tc.deposit)).Abs()
			suite.True(diff.LessThan(epsilon), "sum off by %s", diff)
		})
	}
}

func (suite *SharesTestSuite) TestGeometricRatio() {
	shares, err := ComputeShares(d("700"), 2, d("2"))
	suite.NoError(err)
	suite.Len(shares, 3)

	// 700 split as a + 2a + 4a => a = 100
	suite.True(d("100").Equal(shares[0]), "got %s", shares[0])
	suite.True(d("200").Equal(shares[1]), "got %s", shares[1])
	suite.True(d("400").Equal(shares[2]), "got %s", shares[2])
}

func (suite *SharesTestSuite) TestRejectsInvalidInput() {
	_, err := ComputeShares(d("1000"), -1, d("1"))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	_, err = ComputeShares(d("1000"), 3, decimal.Zero)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))

	_, err = ComputeShares(d("1000"), 3, d("-0.5"))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}
