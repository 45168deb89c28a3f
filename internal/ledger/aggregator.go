// Package ledger assembles the dashboard snapshot from independent contract reads.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/referral-dashboard/internal/contract"
	"github.com/referral-dashboard/internal/genealogy"
	"github.com/referral-dashboard/internal/income"
	"github.com/referral-dashboard/internal/logging"
	"github.com/referral-dashboard/internal/types"
)

// Reader is the subset of the contract gateway the aggregator reads through
type Reader interface {
	User(ctx context.Context, b *contract.Binding, addr common.Address) (*types.UserRecord, error)
	Team(ctx context.Context, b *contract.Binding, addr common.Address) (*types.TeamRecord, error)
	LevelPrice(ctx context.Context, b *contract.Binding, level int) (*big.Int, error)
	IncomeCount(ctx context.Context, b *contract.Binding, addr common.Address, level int) (*big.Int, error)
}

// Request is the session view a snapshot is issued for
type Request struct {
	Account    common.Address
	Generation uint64
	Status     types.SessionStatus
	Binding    *contract.Binding
}

// Aggregator fans reads out per data source and tolerates partial failure
type Aggregator struct {
	reader     Reader
	resolver   *genealogy.Resolver
	calculator *income.Calculator
	now        func() time.Time
}

// NewAggregator creates an aggregator
func NewAggregator(reader Reader, resolver *genealogy.Resolver, calculator *income.Calculator) *Aggregator {
	return &Aggregator{
		reader:     reader,
		resolver:   resolver,
		calculator: calculator,
		now:        time.Now,
	}
}

// FetchSnapshot reads profile, team, levels and genealogy concurrently and
// derives the income summary. A failed source is marked unavailable without
// affecting the others. The result is tagged with the request's account and
// generation so the caller can discard it if the session moved on.
func (a *Aggregator) FetchSnapshot(ctx context.Context, req Request) *types.AggregateResult {
	result := &types.AggregateResult{
		RequestID:  uuid.NewString(),
		Account:    req.Account,
		Generation: req.Generation,
		FetchedAt:  a.now().UTC(),
	}
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"requestId":  result.RequestID,
		"account":    req.Account.Hex(),
		"generation": req.Generation,
	})

	if req.Status != types.StatusConnected || req.Binding == nil {
		result.Profile = types.Unavailable[*types.UserRecord](types.ReasonNotConnected, nil)
		result.Team = types.Unavailable[*types.TeamRecord](types.ReasonNotConnected, nil)
		result.Levels = types.Unavailable[*types.LevelTable](types.ReasonNotConnected, nil)
		result.Genealogy = types.Unavailable[*types.GenealogyNode](types.ReasonNotConnected, nil)
		result.Income = types.Unavailable[*types.IncomeSummary](types.ReasonNotConnected, nil)
		return result
	}

	// Each goroutine owns one field of result; failures never cancel siblings.
	var g errgroup.Group
	g.Go(func() error {
		user, err := a.reader.User(ctx, req.Binding, req.Account)
		if err != nil {
			logger.WithError(err).Warn("Profile unavailable")
			result.Profile = types.Unavailable[*types.UserRecord](types.ReasonReadFailed, err)
			return nil
		}
		result.Profile = types.Available(user)
		return nil
	})
	g.Go(func() error {
		team, err := a.reader.Team(ctx, req.Binding, req.Account)
		if err != nil {
			logger.WithError(err).Warn("Team unavailable")
			result.Team = types.Unavailable[*types.TeamRecord](types.ReasonReadFailed, err)
			return nil
		}
		result.Team = types.Available(team)
		return nil
	})
	g.Go(func() error {
		levels, err := a.levelTable(ctx, req.Binding, req.Account)
		if err != nil {
			logger.WithError(err).Warn("Level table unavailable")
			result.Levels = types.Unavailable[*types.LevelTable](types.ReasonReadFailed, err)
			return nil
		}
		result.Levels = types.Available(levels)
		return nil
	})
	g.Go(func() error {
		tree, err := a.resolver.Resolve(ctx, req.Binding, req.Account)
		if err != nil {
			logger.WithError(err).Warn("Genealogy unavailable")
			result.Genealogy = types.Unavailable[*types.GenealogyNode](types.ReasonReadFailed, err)
			return nil
		}
		result.Genealogy = types.Available(tree)
		return nil
	})
	_ = g.Wait()

	result.Income = a.deriveIncome(result)
	if !result.Income.Available && result.Income.Reason != types.ReasonDependencyUnavailable {
		logger.WithField("error", result.Income.Error).Error("Income summary rejected")
	}
	return result
}

func (a *Aggregator) deriveIncome(result *types.AggregateResult) types.Source[*types.IncomeSummary] {
	if !result.Team.Available || !result.Levels.Available {
		return types.Unavailable[*types.IncomeSummary](types.ReasonDependencyUnavailable, nil)
	}
	summary, err := a.calculator.Summarize(result.Team.Value, result.Levels.Value.TotalWei)
	if err != nil {
		return types.Unavailable[*types.IncomeSummary](types.ReasonReadFailed, err)
	}
	return types.Available(summary)
}
