package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/referral-dashboard/internal/contract"
	"github.com/referral-dashboard/internal/types"
)

// levelTable builds the 1..9 breakdown. Only levels up to the account's
// eligibility are read; higher levels are inactive with zero income.
// Income is summed in wei before the single conversion to display units.
func (a *Aggregator) levelTable(ctx context.Context, b *contract.Binding, account common.Address) (*types.LevelTable, error) {
	user, err := a.reader.User(ctx, b, account)
	if err != nil {
		return nil, err
	}
	eligibility := 0
	if user.Exists {
		eligibility = user.LevelEligibility
	}

	entries := make([]types.LevelEntry, types.MaxLevel)
	for i := range entries {
		entries[i] = types.LevelEntry{
			Level:       i + 1,
			Status:      types.LevelInactive,
			PriceWei:    new(big.Int),
			IncomeCount: new(big.Int),
			IncomeWei:   new(big.Int),
		}
	}

	// A failed level read fails the whole table; a partial sum would misstate income.
	g, gctx := errgroup.WithContext(ctx)
	for level := 1; level <= eligibility; level++ {
		entry := &entries[level-1]
		entry.Status = types.LevelActive
		g.Go(func() error {
			price, err := a.reader.LevelPrice(gctx, b, entry.Level)
			if err != nil {
				return err
			}
			entry.PriceWei = price
			return nil
		})
		g.Go(func() error {
			count, err := a.reader.IncomeCount(gctx, b, account, entry.Level)
			if err != nil {
				return err
			}
			entry.IncomeCount = count
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := new(big.Int)
	for i := range entries {
		entry := &entries[i]
		if entry.Status == types.LevelActive {
			entry.IncomeWei = new(big.Int).Mul(entry.IncomeCount, entry.PriceWei)
			total.Add(total, entry.IncomeWei)
		}
		entry.Income = a.calculator.FromWei(entry.IncomeWei)
	}

	return &types.LevelTable{
		Eligibility: eligibility,
		Entries:     entries,
		TotalWei:    total,
		Total:       a.calculator.FromWei(total),
	}, nil
}
