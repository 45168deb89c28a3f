// Package income derives the dashboard income breakdown from on-chain counters.
package income

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	apperrors "github.com/referral-dashboard/internal/errors"
	"github.com/referral-dashboard/internal/types"
)

const (
	// NativeDecimals is the number of wei decimals of the native token
	NativeDecimals = 18
	// DisplayPrecision is the number of fractional digits shown for amounts
	DisplayPrecision = 5
)

var (
	rateLow  = decimal.RequireFromString("0.014")
	rateHigh = decimal.RequireFromString("0.018")
)

// Calculator converts counters and wei amounts into display amounts
type Calculator struct {
	precision int32
}

// NewCalculator creates a calculator rounding to DisplayPrecision digits
func NewCalculator() *Calculator {
	return &Calculator{precision: DisplayPrecision}
}

// Rate returns the per-referral income rate for a direct referral count:
// 0 for none, 0.014 for one to three, 0.018 above three.
func (c *Calculator) Rate(directReferralCount int64) (decimal.Decimal, error) {
	switch {
	case directReferralCount < 0:
		return decimal.Zero, apperrors.NewInvalidParameterError("directReferralCount", fmt.Sprintf("negative count %d", directReferralCount))
	case directReferralCount == 0:
		return decimal.Zero, nil
	case directReferralCount <= 3:
		return rateLow, nil
	default:
		return rateHigh, nil
	}
}

// DirectReferralIncome returns count x rate rounded to display precision
func (c *Calculator) DirectReferralIncome(directReferralCount int64) (decimal.Decimal, error) {
	rate, err := c.Rate(directReferralCount)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(directReferralCount).Mul(rate).Round(c.precision), nil
}

// FromWei converts a wei amount to native units without rounding
func (c *Calculator) FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -NativeDecimals)
}

// Display converts a wei amount to native units rounded to display precision
func (c *Calculator) Display(wei *big.Int) decimal.Decimal {
	return c.FromWei(wei).Round(c.precision)
}

// Summarize builds the income breakdown. Each component is rounded to
// display precision first so the total is the exact sum of what is shown.
func (c *Calculator) Summarize(team *types.TeamRecord, levelTotalWei *big.Int) (*types.IncomeSummary, error) {
	if team == nil {
		return nil, apperrors.NewInvalidParameterError("team", "missing team record")
	}
	if levelTotalWei == nil {
		levelTotalWei = new(big.Int)
	}
	if levelTotalWei.Sign() < 0 {
		return nil, apperrors.NewInvalidParameterError("levelTotalWei", "negative amount")
	}

	rate, err := c.Rate(team.DirectReferralCount)
	if err != nil {
		return nil, err
	}
	direct, err := c.DirectReferralIncome(team.DirectReferralCount)
	if err != nil {
		return nil, err
	}

	earning := team.CumulativeEarningWei
	if earning == nil {
		earning = new(big.Int)
	}

	summary := &types.IncomeSummary{
		DirectReferralCount:  team.DirectReferralCount,
		DirectReferralRate:   rate,
		DirectReferralIncome: direct,
		TeamBonus:            c.Display(earning),
		LevelTotal:           c.Display(levelTotalWei),
		TeamBonusWei:         new(big.Int).Set(earning),
		LevelTotalWei:        new(big.Int).Set(levelTotalWei),
	}
	summary.TotalIncome = summary.DirectReferralIncome.Add(summary.TeamBonus).Add(summary.LevelTotal)

	if err := Verify(summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Verify checks that the total is the exact sum of the components
func Verify(s *types.IncomeSummary) error {
	sum := s.DirectReferralIncome.Add(s.TeamBonus).Add(s.LevelTotal)
	if !sum.Equal(s.TotalIncome) {
		return apperrors.NewInternalError(
			fmt.Sprintf("income total %s does not equal component sum %s", s.TotalIncome, sum), nil)
	}
	return nil
}
